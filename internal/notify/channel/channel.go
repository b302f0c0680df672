// Package channel implements the per-Trigger-type delivery adapters for
// the Notification Dispatcher (spec §4.5): Slack, Discord, Telegram,
// generic webhook, email, script, and database. Grounded on the
// teacher's internal/sink.Sender shape (a single Send(ctx, payload)
// method per adapter) generalized from one HTTP-only sink type to the
// spec's seven tagged channel variants.
package channel

import (
	"context"
	"errors"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/model"
)

// Rendered is the per-trigger output of template rendering: the
// message text plus the placeholders that had no matching variable
// (spec §4.5 step 1, "unknown placeholders are preserved literally and
// emit a warning").
type Rendered struct {
	Text    string
	Missing []string
}

// Channel delivers one rendered message to one trigger's destination.
// Whether the Dispatcher retries a returned error depends on IsTransient.
type Channel interface {
	Send(ctx context.Context, trigger config.Trigger, match model.Match, rendered Rendered) error
}

// TransientError wraps a delivery failure the Dispatcher should retry
// (network error, 5xx, 429). Anything not wrapped this way is treated
// as permanent, per spec §4.5 "Permanent failures ... are recorded and
// not retried."
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err was wrapped with Transient anywhere
// in its chain.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}
