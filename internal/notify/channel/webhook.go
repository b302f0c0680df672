package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/model"
	"github.com/hashicorp/go-retryablehttp"
)

// Webhook POSTs (or whatever method/headers the trigger names) the
// rendered text as a JSON body {"text": "..."}, matching the generic
// adapter named in spec §4.5 step 2 ("generic webhook: configurable
// method/headers"). Grounded on the teacher's internal/sink.httpSender,
// swapping its plain *http.Client for retryablehttp so the spec's
// retry policy applies uniformly across every HTTP channel.
type Webhook struct {
	client *retryablehttp.Client
}

var _ Channel = (*Webhook)(nil)

// NewWebhook builds a Webhook channel with an 8 second per-request
// timeout, matching the teacher's internal/sink.defaultClient.
func NewWebhook() *Webhook {
	return &Webhook{client: newHTTPClient(8 * time.Second)}
}

func (w *Webhook) Send(ctx context.Context, trigger config.Trigger, match model.Match, rendered Rendered) error {
	if trigger.URL == "" {
		return fmt.Errorf("webhook trigger %s: url required", trigger.Name)
	}
	method := trigger.Method
	if method == "" {
		method = http.MethodPost
	}
	return postJSON(ctx, w.client, strings.ToUpper(method), trigger.URL, trigger.Headers, map[string]string{"text": rendered.Text})
}

// postJSON marshals body, issues the request through client, and
// classifies the final response per spec §4.5/§7.
func postJSON(ctx context.Context, client *retryablehttp.Client, method, url string, headers map[string]string, body map[string]string) error {
	payload, err := marshalJSON(body)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return classifyHTTPStatus(resp.StatusCode, string(snippet))
}
