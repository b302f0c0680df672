package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/model"
	"github.com/hashicorp/go-retryablehttp"
)

// Slack posts the rendered text as a Slack incoming-webhook payload
// (spec §4.5 step 2: "Slack/Discord webhooks: JSON POST").
type Slack struct {
	client *retryablehttp.Client
}

var _ Channel = (*Slack)(nil)

func NewSlack() *Slack {
	return &Slack{client: newHTTPClient(8 * time.Second)}
}

func (s *Slack) Send(ctx context.Context, trigger config.Trigger, match model.Match, rendered Rendered) error {
	if trigger.URL == "" {
		return fmt.Errorf("slack trigger %s: url required", trigger.Name)
	}
	return postJSON(ctx, s.client, "POST", trigger.URL, trigger.Headers, map[string]string{"text": rendered.Text})
}
