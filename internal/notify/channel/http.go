package channel

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// newHTTPClient builds a retryablehttp.Client configured per spec
// §4.5's retry policy (base 500ms, cap 30s, jitter, max 4 retries) and
// classification (retry network errors/5xx/429; 4xx otherwise is
// permanent). Grounded on gabapcia-blockwatch's
// internal/pkg/transport/http.NewClient, which wraps the same library
// but leaves CheckRetry at the library default; the spec's exact 4xx
// carve-out for 429 needs a custom one.
func newHTTPClient(requestTimeout time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.HTTPClient.Timeout = requestTimeout
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 30 * time.Second
	client.RetryMax = 4
	client.Backoff = func(lo, hi time.Duration, attemptNum int, resp *http.Response) time.Duration {
		wait := retryablehttp.DefaultBackoff(lo, hi, attemptNum, resp)
		if lo > 0 && wait < hi {
			wait += time.Duration(rand.Int63n(int64(lo)))
			if wait > hi {
				wait = hi
			}
		}
		return wait
	}
	client.CheckRetry = checkRetry
	return client
}

// checkRetry implements spec §4.5/§7's transient/permanent
// classification: network errors and 5xx/429 responses are retried;
// any other 4xx is permanent.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		// Any transport-level error (connection refused, timeout, DNS
		// failure) is the "network error" case of spec §7.
		return true, nil
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// marshalJSON is a thin wrapper kept so every HTTP channel marshals
// its body the same way.
func marshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// classifyHTTPStatus turns a final (post-retry) HTTP status into a
// Channel error: nil on 2xx, Transient on 5xx/429 (retries exhausted),
// permanent otherwise.
func classifyHTTPStatus(statusCode int, bodySnippet string) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	err := &httpStatusError{StatusCode: statusCode, Body: bodySnippet}
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return Transient(err)
	}
	return err
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	if e.Body == "" {
		return httpStatusText(e.StatusCode)
	}
	return httpStatusText(e.StatusCode) + ": " + e.Body
}

func httpStatusText(code int) string {
	return http.StatusText(code)
}
