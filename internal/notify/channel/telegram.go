package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/model"
	"github.com/hashicorp/go-retryablehttp"
)

// Telegram calls the Bot API's sendMessage endpoint, per spec §4.5
// step 2 ("Telegram: bot API").
type Telegram struct {
	client *retryablehttp.Client
}

var _ Channel = (*Telegram)(nil)

func NewTelegram() *Telegram {
	return &Telegram{client: newHTTPClient(8 * time.Second)}
}

func (tg *Telegram) Send(ctx context.Context, trigger config.Trigger, match model.Match, rendered Rendered) error {
	if trigger.BotToken == "" || trigger.ChatID == "" {
		return fmt.Errorf("telegram trigger %s: bot_token and chat_id required", trigger.Name)
	}
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", trigger.BotToken)
	return postJSON(ctx, tg.client, "POST", endpoint, nil, map[string]string{
		"chat_id": trigger.ChatID,
		"text":    rendered.Text,
	})
}
