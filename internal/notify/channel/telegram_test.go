package channel

import (
	"context"
	"testing"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/model"
)

func TestTelegram_Send_RequiresBotTokenAndChatID(t *testing.T) {
	tg := NewTelegram()

	cases := []config.Trigger{
		{Name: "ops"},
		{Name: "ops", BotToken: "abc"},
		{Name: "ops", ChatID: "123"},
	}
	for _, trigger := range cases {
		if err := tg.Send(context.Background(), trigger, model.Match{}, Rendered{Text: "x"}); err == nil {
			t.Fatalf("Send(%+v) = nil, want an error", trigger)
		}
	}
}
