package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/model"
	"github.com/devblac/watch-tower/internal/scriptrunner"
)

// Script delivers a match by spawning an external program with the
// rendered notification as JSON on stdin, per spec §4.5 step 2
// ("script: spawn with JSON on stdin"). This is a distinct use of
// internal/scriptrunner from the Trigger Condition Runner: here a
// non-"true" exit is a permanent delivery failure, not a veto.
type Script struct{}

var _ Channel = (*Script)(nil)

func NewScript() *Script {
	return &Script{}
}

func (s *Script) Send(ctx context.Context, trigger config.Trigger, match model.Match, rendered Rendered) error {
	if trigger.ScriptPath == "" || trigger.Language == "" {
		return fmt.Errorf("script trigger %s: script_path and language required", trigger.Name)
	}
	payload, err := json.Marshal(notificationPayload{
		MonitorName: match.MonitorName,
		NetworkSlug: match.NetworkSlug,
		TxHash:      match.TxHash,
		Text:        rendered.Text,
		Variables:   match.Variables,
	})
	if err != nil {
		return fmt.Errorf("marshal script payload: %w", err)
	}

	timeout := time.Duration(trigger.TimeoutMs) * time.Millisecond
	spec := scriptrunner.Spec{
		Path:     trigger.ScriptPath,
		Language: trigger.Language,
		Args:     trigger.Args,
		Timeout:  timeout,
	}

	// Scrubbed the same way as the Trigger Condition Runner's gating
	// scripts (spec §4.4 "Scripts run with inherited environment
	// scrubbed of channel secrets") since this script also inherits
	// the process environment and has no business seeing other
	// channels' credentials.
	env := scriptrunner.ScrubEnv(os.Environ())
	if err := scriptrunner.Run(ctx, spec, payload, env); err != nil {
		return fmt.Errorf("script delivery: %w", err)
	}
	return nil
}

type notificationPayload struct {
	MonitorName string            `json:"monitor_name"`
	NetworkSlug string            `json:"network"`
	TxHash      string            `json:"transaction_hash"`
	Text        string            `json:"text"`
	Variables   map[string]string `json:"variables"`
}
