package notify

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/model"
	"github.com/devblac/watch-tower/internal/notify/channel"
	"github.com/devblac/watch-tower/internal/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fakeChannel records every Send call and replays a scripted sequence
// of responses per call index, letting tests exercise the Dispatcher's
// retry-then-give-up policy without a real network.
type fakeChannel struct {
	mu      sync.Mutex
	sent    []model.Match
	replies []error // consumed in order; last entry repeats once exhausted
}

func (f *fakeChannel) Send(ctx context.Context, trigger config.Trigger, match model.Match, rendered channel.Rendered) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, match)
	idx := len(f.sent) - 1
	if idx >= len(f.replies) {
		idx = len(f.replies) - 1
	}
	if idx < 0 {
		return nil
	}
	return f.replies[idx]
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var _ channel.Channel = (*fakeChannel)(nil)

func TestDispatch_DeliversToEveryNamedTrigger(t *testing.T) {
	store := newTestStore(t)
	d := New(slog.Default(), store)

	slackFake := &fakeChannel{}
	webhookFake := &fakeChannel{}
	d.WithChannel("slack", slackFake)
	d.WithChannel("webhook", webhookFake)

	match := model.Match{
		MonitorName:  "watch-all",
		TxHash:       "0x1",
		TriggerNames: []string{"ops-slack", "ops-webhook"},
	}
	triggers := map[string]config.Trigger{
		"ops-slack":   {Name: "ops-slack", Type: "slack"},
		"ops-webhook": {Name: "ops-webhook", Type: "webhook"},
	}

	d.Dispatch(context.Background(), match, triggers)

	if slackFake.count() != 1 {
		t.Fatalf("slack deliveries = %d, want 1", slackFake.count())
	}
	if webhookFake.count() != 1 {
		t.Fatalf("webhook deliveries = %d, want 1", webhookFake.count())
	}
}

func TestDispatch_RetriesTransientFailureThenSucceeds(t *testing.T) {
	store := newTestStore(t)
	d := New(slog.Default(), store)
	d.retryBase = time.Millisecond
	d.retryCap = 5 * time.Millisecond

	fc := &fakeChannel{replies: []error{
		channel.Transient(errors.New("connection refused")),
		channel.Transient(errors.New("connection refused")),
		nil,
	}}
	d.WithChannel("webhook", fc)

	match := model.Match{MonitorName: "m", TxHash: "0x1", TriggerNames: []string{"ops"}}
	triggers := map[string]config.Trigger{"ops": {Name: "ops", Type: "webhook"}}

	d.Dispatch(context.Background(), match, triggers)

	if fc.count() != 3 {
		t.Fatalf("Send calls = %d, want 3 (2 failures + 1 success)", fc.count())
	}
}

func TestDispatch_DoesNotRetryPermanentFailure(t *testing.T) {
	store := newTestStore(t)
	d := New(slog.Default(), store)
	d.retryBase = time.Millisecond
	d.retryCap = 5 * time.Millisecond

	fc := &fakeChannel{replies: []error{errors.New("bad request")}}
	d.WithChannel("webhook", fc)

	match := model.Match{MonitorName: "m", TxHash: "0x1", TriggerNames: []string{"ops"}}
	triggers := map[string]config.Trigger{"ops": {Name: "ops", Type: "webhook"}}

	d.Dispatch(context.Background(), match, triggers)

	if fc.count() != 1 {
		t.Fatalf("Send calls = %d, want exactly 1 (no retry on a permanent error)", fc.count())
	}
}

func TestDispatch_UnknownTriggerNameIsSkippedNotBlocking(t *testing.T) {
	store := newTestStore(t)
	d := New(slog.Default(), store)

	fc := &fakeChannel{}
	d.WithChannel("webhook", fc)

	match := model.Match{MonitorName: "m", TxHash: "0x1", TriggerNames: []string{"missing", "ops"}}
	triggers := map[string]config.Trigger{"ops": {Name: "ops", Type: "webhook"}}

	d.Dispatch(context.Background(), match, triggers)

	if fc.count() != 1 {
		t.Fatalf("Send calls = %d, want 1", fc.count())
	}
}

func TestDispatch_FiresAllChannelsConcurrentlyWithinOneMatch(t *testing.T) {
	store := newTestStore(t)
	d := New(slog.Default(), store)

	var inFlight, maxInFlight int32
	blockingChannel := &blockingFakeChannel{inFlight: &inFlight, maxInFlight: &maxInFlight, release: make(chan struct{})}
	d.WithChannel("slack", blockingChannel)
	d.WithChannel("webhook", blockingChannel)
	d.WithChannel("discord", blockingChannel)

	match := model.Match{
		MonitorName:  "m",
		TxHash:       "0x1",
		TriggerNames: []string{"a", "b", "c"},
	}
	triggers := map[string]config.Trigger{
		"a": {Name: "a", Type: "slack"},
		"b": {Name: "b", Type: "webhook"},
		"c": {Name: "c", Type: "discord"},
	}

	done := make(chan struct{})
	go func() {
		d.Dispatch(context.Background(), match, triggers)
		close(done)
	}()

	// Hold every Send open until at least two are in flight at once (or
	// the deadline passes), then release them all.
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&maxInFlight) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(blockingChannel.release)
	<-done

	if got := atomic.LoadInt32(&maxInFlight); got < 2 {
		t.Fatalf("max concurrent Send calls = %d, want at least 2 (channels should fire concurrently)", got)
	}
}

type blockingFakeChannel struct {
	inFlight, maxInFlight *int32
	release               chan struct{}
}

func (b *blockingFakeChannel) Send(ctx context.Context, trigger config.Trigger, match model.Match, rendered channel.Rendered) error {
	n := atomic.AddInt32(b.inFlight, 1)
	for {
		max := atomic.LoadInt32(b.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(b.maxInFlight, max, n) {
			break
		}
	}
	<-b.release
	atomic.AddInt32(b.inFlight, -1)
	return nil
}

var _ channel.Channel = (*blockingFakeChannel)(nil)
