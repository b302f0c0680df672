package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/filter"
	"github.com/devblac/watch-tower/internal/model"
	"github.com/devblac/watch-tower/internal/notify"
	"github.com/devblac/watch-tower/internal/notify/channel"
	"github.com/devblac/watch-tower/internal/source"
	"github.com/devblac/watch-tower/internal/storage"
)

type fakeSource struct {
	mu     sync.Mutex
	latest uint64
	blocks []model.Block
}

func (f *fakeSource) LatestBlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeSource) GetBlocks(ctx context.Context, from, to uint64, expectedParentHash string) ([]model.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Block
	for _, b := range f.blocks {
		if b.Number >= from && b.Number <= to {
			out = append(out, b)
		}
	}
	return out, nil
}

var _ source.BlockSource = (*fakeSource)(nil)

type fakeDecoder struct{}

func (fakeDecoder) DecodeCall(string, []byte) (*model.DecodedCall, bool, error)  { return nil, false, nil }
func (fakeDecoder) DecodeEvent(model.Log) (*model.DecodedEvent, bool, error)     { return nil, false, nil }

type recordingChannel struct {
	mu   sync.Mutex
	sent []model.Match
}

func (r *recordingChannel) Send(ctx context.Context, trigger config.Trigger, match model.Match, rendered channel.Rendered) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, match)
	return nil
}

func (r *recordingChannel) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

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

func testMonitor(t *testing.T) *filter.CompiledMonitor {
	t.Helper()
	cm, err := filter.Compile(config.Monitor{
		Name:     "watch-all",
		Networks: []string{"ethereum_mainnet"},
		MatchConditions: config.MatchConditions{
			Transactions: []config.TransactionCondition{{}},
		},
		Triggers: []string{"ops"},
	})
	if err != nil {
		t.Fatalf("compile monitor: %v", err)
	}
	return cm
}

func TestWatcher_ProcessesNewBlocksAndAdvancesCursor(t *testing.T) {
	src := &fakeSource{latest: 2, blocks: []model.Block{
		{NetworkSlug: "ethereum_mainnet", Number: 0, Hash: "h0", Transactions: []model.Transaction{{Hash: "0x1"}}},
		{NetworkSlug: "ethereum_mainnet", Number: 1, Hash: "h1", Transactions: []model.Transaction{{Hash: "0x2"}}},
		{NetworkSlug: "ethereum_mainnet", Number: 2, Hash: "h2", Transactions: []model.Transaction{{Hash: "0x3"}}},
	}}
	store := newTestStore(t)
	rec := &recordingChannel{}
	dispatcher := notify.New(slog.Default(), store)
	dispatcher.WithChannel("webhook", rec)

	network := config.Network{
		Slug:              "ethereum_mainnet",
		ChainFamily:       "evm",
		PollIntervalMs:    10,
		MaxBlockRange:     100,
		ConfirmationDepth: 0,
	}

	w := New(Config{
		Network:  network,
		Pool:     src,
		Decoder:  fakeDecoder{},
		Monitors: []*filter.CompiledMonitor{testMonitor(t)},
		Triggers: map[string]config.Trigger{
			"ops": {Name: "ops", Type: "webhook", URL: "http://example.invalid", Template: "{{hash}}"},
		},
		Cursor:     store,
		Dedupe:     store,
		Dispatcher: dispatcher,
		Log:        slog.Default(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// tick only enqueues matches; the per-monitor consumers that
	// dispatch them are normally started by Run.
	for _, m := range w.monitors {
		go w.drainQueue(ctx, m.Monitor.Name)
	}
	if err := w.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	height, hash, ok, err := store.GetCursor(ctx, "ethereum_mainnet")
	if err != nil || !ok {
		t.Fatalf("get cursor: ok=%v err=%v", ok, err)
	}
	if height != 2 || hash != "h2" {
		t.Fatalf("cursor = %d/%s, want 2/h2", height, hash)
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count() != 3 {
		t.Fatalf("expected 3 dispatched matches, got %d", rec.count())
	}
}

func TestWatcher_SecondTickIsIdempotent(t *testing.T) {
	src := &fakeSource{latest: 0, blocks: []model.Block{
		{NetworkSlug: "ethereum_mainnet", Number: 0, Hash: "h0", Transactions: []model.Transaction{{Hash: "0x1"}}},
	}}
	store := newTestStore(t)
	rec := &recordingChannel{}
	dispatcher := notify.New(slog.Default(), store)
	dispatcher.WithChannel("webhook", rec)

	network := config.Network{Slug: "ethereum_mainnet", PollIntervalMs: 10, MaxBlockRange: 100}
	w := New(Config{
		Network:  network,
		Pool:     src,
		Decoder:  fakeDecoder{},
		Monitors: []*filter.CompiledMonitor{testMonitor(t)},
		Triggers: map[string]config.Trigger{
			"ops": {Name: "ops", Type: "webhook", URL: "http://example.invalid", Template: "{{hash}}"},
		},
		Cursor:     store,
		Dedupe:     store,
		Dispatcher: dispatcher,
		Log:        slog.Default(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// tick only enqueues matches; the per-monitor consumers that
	// dispatch them are normally started by Run.
	for _, m := range w.monitors {
		go w.drainQueue(ctx, m.Monitor.Name)
	}
	if err := w.tick(ctx); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if err := w.tick(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count() != 1 {
		t.Fatalf("expected exactly 1 dispatched match across two ticks, got %d", rec.count())
	}
}
