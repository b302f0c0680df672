package channel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/model"
)

func TestDiscord_Send_PostsContentField(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDiscord()
	trigger := config.Trigger{Name: "ops", URL: srv.URL}
	if err := d.Send(context.Background(), trigger, model.Match{}, Rendered{Text: "deploy started"}); err != nil {
		t.Fatalf("Send() = %v, want nil", err)
	}
	if got["content"] != "deploy started" {
		t.Fatalf("body = %v, want content=deploy started", got)
	}
}

func TestDiscord_Send_RequiresURL(t *testing.T) {
	d := NewDiscord()
	if err := d.Send(context.Background(), config.Trigger{Name: "ops"}, model.Match{}, Rendered{Text: "x"}); err == nil {
		t.Fatalf("expected an error when the trigger has no url")
	}
}
