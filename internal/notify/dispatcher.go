// Package notify implements the Notification Dispatcher (spec §4.5):
// for every Monitor Match, render each named trigger's template and
// fan out to the trigger's channel adapter, retrying transient
// failures with backoff and recording permanent ones.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/metrics"
	"github.com/devblac/watch-tower/internal/model"
	"github.com/devblac/watch-tower/internal/notify/channel"
	"github.com/devblac/watch-tower/internal/storage"
	"github.com/devblac/watch-tower/internal/tmpl"
	"github.com/google/uuid"
)

// Dispatcher owns one Channel adapter per trigger type and fans a
// Match out to every trigger the matching monitor names.
type Dispatcher struct {
	log      *slog.Logger
	store    *storage.Store
	channels map[string]channel.Channel

	retryAttempts uint
	retryBase     time.Duration
	retryCap      time.Duration
}

// New builds a Dispatcher with the default channel set (one adapter
// instance per Trigger.Type, shared across every trigger of that
// type). store is used for the Alert/Send exactly-once bookkeeping
// named by the sqlite schema in internal/storage; it may be nil in
// tests that only care about channel fan-out.
func New(log *slog.Logger, store *storage.Store) *Dispatcher {
	return &Dispatcher{
		log:   log,
		store: store,
		channels: map[string]channel.Channel{
			"slack":    channel.NewSlack(),
			"discord":  channel.NewDiscord(),
			"telegram": channel.NewTelegram(),
			"webhook":  channel.NewWebhook(),
			"email":    channel.NewEmail(),
			"script":   channel.NewScript(),
			"database": channel.NewDatabase(),
		},
		retryAttempts: 5, // 1 initial attempt + 4 retries, per spec §4.5
		retryBase:     500 * time.Millisecond,
		retryCap:      30 * time.Second,
	}
}

// WithChannel overrides (or adds) the adapter used for a trigger type,
// for tests that substitute a fake channel.
func (d *Dispatcher) WithChannel(triggerType string, c channel.Channel) {
	d.channels[triggerType] = c
}

// Dispatch delivers match to every trigger named by triggerNames,
// looked up in triggers. Per spec §4.5 "Ordering": channels fire
// concurrently within one match; the caller is responsible for
// per-monitor FIFO across matches (internal/watcher feeds Dispatch
// matches for one monitor in arrival order and does not call Dispatch
// again for that monitor until the previous call returns).
func (d *Dispatcher) Dispatch(ctx context.Context, match model.Match, triggers map[string]config.Trigger) {
	alertID := uuid.NewString()
	if d.store != nil {
		payload, err := json.Marshal(match)
		if err != nil {
			d.log.Warn("marshal alert payload", "monitor", match.MonitorName, "error", err)
		} else if err := d.store.InsertAlert(ctx, storage.Alert{
			ID:          alertID,
			MonitorName: match.MonitorName,
			NetworkSlug: match.NetworkSlug,
			TxHash:      match.TxHash,
			ConditionID: match.ConditionIdentity(),
			PayloadJSON: string(payload),
		}); err != nil {
			d.log.Warn("insert alert", "monitor", match.MonitorName, "tx_hash", match.TxHash, "error", err)
		}
	}

	done := make(chan struct{})
	pending := len(match.TriggerNames)
	if pending == 0 {
		return
	}
	for _, name := range match.TriggerNames {
		trig, ok := triggers[name]
		if !ok {
			d.log.Warn("unknown trigger referenced by monitor", "monitor", match.MonitorName, "trigger", name)
			pending--
			continue
		}
		go func(trig config.Trigger) {
			d.deliverOne(ctx, alertID, match, trig)
			done <- struct{}{}
		}(trig)
	}
	for i := 0; i < pending; i++ {
		<-done
	}
}

// deliverOne renders the trigger's template and retries the channel
// send per spec §4.5's policy, recording the outcome.
func (d *Dispatcher) deliverOne(ctx context.Context, alertID string, match model.Match, trig config.Trigger) {
	c, ok := d.channels[trig.Type]
	if !ok {
		d.log.Error("unsupported trigger type", "trigger", trig.Name, "type", trig.Type)
		d.recordSend(ctx, alertID, trig.Name, "failed_permanent", 0)
		return
	}

	res := tmpl.Render(trig.Template, match.Variables)
	for _, missing := range res.Missing {
		d.log.Warn("template placeholder unresolved", "trigger", trig.Name, "placeholder", missing)
	}
	rendered := channel.Rendered{Text: res.Text, Missing: res.Missing}

	attempts := 0
	err := retry.Do(
		func() error {
			attempts++
			sendErr := c.Send(ctx, trig, match, rendered)
			if sendErr != nil && !channel.IsTransient(sendErr) {
				return retry.Unrecoverable(sendErr)
			}
			return sendErr
		},
		retry.Context(ctx),
		retry.Attempts(d.retryAttempts),
		retry.Delay(d.retryBase),
		retry.MaxDelay(d.retryCap),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(d.retryBase),
		retry.LastErrorOnly(true),
	)

	if retries := attempts - 1; retries > 0 {
		metrics.AddNotificationsRetried(retries)
	}

	if err != nil {
		d.log.Error("notification delivery failed permanently", "trigger", trig.Name, "monitor", match.MonitorName, "tx_hash", match.TxHash, "error", err)
		metrics.IncNotificationFailed()
		d.recordSend(ctx, alertID, trig.Name, "failed_permanent", 0)
		return
	}

	d.log.Info("notification delivered", "trigger", trig.Name, "monitor", match.MonitorName, "tx_hash", match.TxHash)
	metrics.IncNotificationsSent()
	d.recordSend(ctx, alertID, trig.Name, "delivered", 0)
}

func (d *Dispatcher) recordSend(ctx context.Context, alertID, channelName, status string, responseCode int) {
	if d.store == nil {
		return
	}
	if err := d.store.InsertSend(ctx, storage.Send{
		AlertID:      alertID,
		ChannelID:    channelName,
		Status:       status,
		ResponseCode: responseCode,
	}); err != nil {
		d.log.Warn("insert send record", "channel", channelName, "error", err)
	}
}
