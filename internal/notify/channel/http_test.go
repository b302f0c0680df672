package channel

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestCheckRetry_RetriesTransportErrors(t *testing.T) {
	retry, err := checkRetry(context.Background(), nil, errors.New("connection refused"))
	if !retry || err != nil {
		t.Fatalf("checkRetry(transport err) = (%v, %v), want (true, nil)", retry, err)
	}
}

func TestCheckRetry_RetriesRateLimitAndServerErrors(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable} {
		resp := &http.Response{StatusCode: code}
		retry, err := checkRetry(context.Background(), resp, nil)
		if !retry || err != nil {
			t.Fatalf("checkRetry(%d) = (%v, %v), want (true, nil)", code, retry, err)
		}
	}
}

func TestCheckRetry_DoesNotRetryOtherClientErrors(t *testing.T) {
	for _, code := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound} {
		resp := &http.Response{StatusCode: code}
		retry, err := checkRetry(context.Background(), resp, nil)
		if retry || err != nil {
			t.Fatalf("checkRetry(%d) = (%v, %v), want (false, nil)", code, retry, err)
		}
	}
}

func TestCheckRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	retry, err := checkRetry(ctx, nil, nil)
	if retry || err == nil {
		t.Fatalf("checkRetry(cancelled) = (%v, %v), want (false, non-nil)", retry, err)
	}
}

func TestClassifyHTTPStatus_2xxIsNil(t *testing.T) {
	if err := classifyHTTPStatus(http.StatusOK, ""); err != nil {
		t.Fatalf("classifyHTTPStatus(200) = %v, want nil", err)
	}
	if err := classifyHTTPStatus(http.StatusNoContent, ""); err != nil {
		t.Fatalf("classifyHTTPStatus(204) = %v, want nil", err)
	}
}

func TestClassifyHTTPStatus_RateLimitAndServerErrorsAreTransient(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusInternalServerError} {
		err := classifyHTTPStatus(code, "body")
		if err == nil || !IsTransient(err) {
			t.Fatalf("classifyHTTPStatus(%d) = %v, want transient", code, err)
		}
	}
}

func TestClassifyHTTPStatus_OtherClientErrorsArePermanent(t *testing.T) {
	err := classifyHTTPStatus(http.StatusBadRequest, "bad payload")
	if err == nil || IsTransient(err) {
		t.Fatalf("classifyHTTPStatus(400) = %v, want permanent", err)
	}
	if err.Error() == "" {
		t.Fatalf("expected a non-empty error message")
	}
}
