package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/model"
	"github.com/hashicorp/go-retryablehttp"
)

// Discord posts the rendered text as a Discord webhook payload
// ({"content": "..."}), the Discord-specific field name for the same
// "Slack/Discord webhooks: JSON POST" adapter of spec §4.5 step 2.
type Discord struct {
	client *retryablehttp.Client
}

var _ Channel = (*Discord)(nil)

func NewDiscord() *Discord {
	return &Discord{client: newHTTPClient(8 * time.Second)}
}

func (d *Discord) Send(ctx context.Context, trigger config.Trigger, match model.Match, rendered Rendered) error {
	if trigger.URL == "" {
		return fmt.Errorf("discord trigger %s: url required", trigger.Name)
	}
	return postJSON(ctx, d.client, "POST", trigger.URL, trigger.Headers, map[string]string{"content": rendered.Text})
}
