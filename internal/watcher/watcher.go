// Package watcher implements the Block Watcher (spec §4.1): one
// polling loop per network that advances a persisted cursor, detects
// gaps/duplicates/reorgs, and hands each fetched block to the Filter
// Engine and Notification Dispatcher. Grounded on the teacher's
// evm.Scanner/algorand.Scanner RunOnce loop, generalized from two
// chain-specific scanners into a single chain-agnostic driver over
// source.BlockSource.
package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/filter"
	"github.com/devblac/watch-tower/internal/metrics"
	"github.com/devblac/watch-tower/internal/model"
	"github.com/devblac/watch-tower/internal/notify"
	"github.com/devblac/watch-tower/internal/scriptrunner"
	"github.com/devblac/watch-tower/internal/source"
	"github.com/devblac/watch-tower/internal/storage"
	"github.com/devblac/watch-tower/internal/tracker"
)

// matchQueueCapacity is the per-monitor bounded channel size named by
// spec §5 ("per-monitor bounded queue of 1024 between Filter Engine
// and Dispatcher").
const matchQueueCapacity = 1024

// Watcher drives one network's poll/fetch/filter/dispatch loop.
type Watcher struct {
	network      config.Network
	pool         source.BlockSource
	monitors     []*filter.CompiledMonitor
	triggers     map[string]config.Trigger
	engine       *filter.Engine
	tracker      *tracker.Tracker
	cursor       storage.CursorStore
	dedupe       *storage.Store
	dispatcher   *notify.Dispatcher
	log          *slog.Logger
	pollInterval time.Duration

	queues map[string]chan model.Match
}

// Config bundles the per-network dependencies a Watcher needs,
// already constructed by cmd/watch-tower/run.go.
type Config struct {
	Network    config.Network
	Pool       source.BlockSource
	Decoder    source.Decoder
	Monitors   []*filter.CompiledMonitor
	Triggers   map[string]config.Trigger
	Cursor     storage.CursorStore
	Dedupe     *storage.Store
	Dispatcher *notify.Dispatcher
	Log        *slog.Logger
}

// New builds a Watcher for one network.
func New(cfg Config) *Watcher {
	w := &Watcher{
		network:      cfg.Network,
		pool:         cfg.Pool,
		monitors:     cfg.Monitors,
		triggers:     cfg.Triggers,
		engine:       filter.New(cfg.Decoder, cfg.Log),
		tracker:      tracker.New(64),
		cursor:       cfg.Cursor,
		dedupe:       cfg.Dedupe,
		dispatcher:   cfg.Dispatcher,
		log:          cfg.Log.With("network", cfg.Network.Slug),
		pollInterval: time.Duration(cfg.Network.PollIntervalMs) * time.Millisecond,
		queues:       make(map[string]chan model.Match),
	}
	for _, m := range cfg.Monitors {
		w.queues[m.Monitor.Name] = make(chan model.Match, matchQueueCapacity)
	}
	return w
}

// Run polls at the network's configured interval until ctx is
// cancelled. The loop checks for cancellation at the tick boundary,
// and ctx is also passed into the tick: a cancellation mid-tick aborts
// the tick's outstanding RPC and storage calls rather than letting the
// batch finish, and the cursor stays at the last block whose cursor
// write completed.
func (w *Watcher) Run(ctx context.Context) error {
	for _, m := range w.monitors {
		go w.drainQueue(ctx, m.Monitor.Name)
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if err := w.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error("tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick fetches and processes one batch of blocks up to the
// confirmed tip, advancing the cursor one block at a time so a
// mid-batch failure leaves the cursor at the last fully processed
// block (spec §5 "Cancellation": "the cursor reflects last fully
// processed block").
func (w *Watcher) tick(ctx context.Context) error {
	latest, err := w.pool.LatestBlockNumber(ctx)
	if err != nil {
		metrics.IncRPCErrors()
		return fmt.Errorf("latest block number: %w", err)
	}
	if latest < w.network.ConfirmationDepth {
		return nil
	}
	target := latest - w.network.ConfirmationDepth

	from, parentHash, err := w.startHeight(ctx)
	if err != nil {
		return err
	}
	if from > target {
		return nil
	}

	to := target
	if w.network.MaxBlockRange > 0 && to-from+1 > w.network.MaxBlockRange {
		to = from + w.network.MaxBlockRange - 1
	}

	blocks, err := w.pool.GetBlocks(ctx, from, to, parentHash)
	if err != nil {
		if errors.Is(err, source.ErrReorgDetected) {
			w.log.Warn("reorg detected, re-fetching from cursor next tick", "from", from)
			return nil
		}
		metrics.IncRPCErrors()
		return fmt.Errorf("get blocks [%d,%d]: %w", from, to, err)
	}

	for _, block := range blocks {
		if err := w.processBlock(ctx, block); err != nil {
			return err
		}
	}

	metrics.SetCursorLag(w.network.Slug, float64(target-latestProcessed(blocks, from-1)))
	return nil
}

func latestProcessed(blocks []model.Block, fallback uint64) uint64 {
	if len(blocks) == 0 {
		return fallback
	}
	return blocks[len(blocks)-1].Number
}

// startHeight resolves the next block to fetch: the persisted cursor
// plus one, or the network's configured start_block on first run.
func (w *Watcher) startHeight(ctx context.Context) (height uint64, parentHash string, err error) {
	cursorHeight, cursorHash, ok, err := w.cursor.GetCursor(ctx, w.network.Slug)
	if err != nil {
		return 0, "", fmt.Errorf("get cursor: %w", err)
	}
	if ok {
		return cursorHeight + 1, cursorHash, nil
	}
	if w.network.StartBlock != "" {
		var start uint64
		if _, err := fmt.Sscanf(w.network.StartBlock, "%d", &start); err != nil {
			return 0, "", fmt.Errorf("parse start_block %q: %w", w.network.StartBlock, err)
		}
		return start, "", nil
	}
	return 0, "", nil
}

// processBlock runs gap/duplicate detection, evaluates the Filter
// Engine, gates and dispatches every resulting match, then advances
// the cursor.
func (w *Watcher) processBlock(ctx context.Context, block model.Block) error {
	dropped, err := w.tracker.Observe(block.Number)
	if err != nil {
		if errors.Is(err, tracker.ErrGap) {
			w.log.Error("gap detected, abandoning batch", "block", block.Number)
			return err
		}
		return err
	}
	if dropped {
		w.log.Debug("duplicate block dropped", "block", block.Number)
		return nil
	}

	matches, err := w.engine.Evaluate(block, w.monitors)
	if err != nil {
		w.log.Error("filter engine error", "block", block.Number, "error", err)
	}
	metrics.IncBlocksProcessed()

	for _, match := range matches {
		w.handleMatch(ctx, match)
	}

	if err := w.cursor.UpsertCursor(ctx, w.network.Slug, block.Number, block.Hash); err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// handleMatch dedupes, runs the Trigger Condition Runner, and enqueues
// the match for its monitor's dispatch queue. Per spec §5 "Dispatcher:
// per-monitor FIFO to each channel", enqueuing rather than dispatching
// inline preserves arrival order per monitor while letting different
// monitors' deliveries proceed concurrently.
func (w *Watcher) handleMatch(ctx context.Context, match model.Match) {
	metrics.IncMatches()

	if w.dedupe != nil {
		isNew, err := w.dedupe.MarkIfNew(ctx, match.NetworkSlug, match.TxHash, match.MonitorName, match.ConditionIdentity())
		if err != nil {
			w.log.Error("dedupe check failed", "monitor", match.MonitorName, "tx_hash", match.TxHash, "error", err)
			return
		}
		if !isNew {
			metrics.IncMatchesDropped()
			return
		}
	}

	if vetoed := w.runGatingScripts(ctx, match); vetoed {
		metrics.IncScriptVetoed()
		return
	}

	queue, ok := w.queues[match.MonitorName]
	if !ok {
		w.log.Error("no dispatch queue for monitor", "monitor", match.MonitorName)
		return
	}
	queue <- match
}

// runGatingScripts runs every trigger_conditions script for match's
// monitor in order; any veto drops the match.
func (w *Watcher) runGatingScripts(ctx context.Context, match model.Match) bool {
	cm := w.monitorByName(match.MonitorName)
	if cm == nil || len(cm.Monitor.TriggerConditions) == 0 {
		return false
	}

	candidate, err := json.Marshal(candidatePayload{
		TxHash:      match.TxHash,
		MonitorName: match.MonitorName,
		NetworkSlug: match.NetworkSlug,
		BlockNumber: match.BlockNumber,
		Condition:   match.ConditionIdentity(),
		Variables:   match.Variables,
		DecodedArgs: match.DecodedArgs,
	})
	if err != nil {
		w.log.Error("marshal gating candidate", "monitor", match.MonitorName, "error", err)
		return true
	}

	env := scriptrunner.ScrubEnv(os.Environ())
	for _, ref := range cm.Monitor.TriggerConditions {
		spec := scriptrunner.Spec{
			Path:     ref.Path,
			Language: ref.Language,
			Args:     ref.Args,
			Timeout:  time.Duration(ref.TimeoutMs) * time.Millisecond,
		}
		if err := scriptrunner.Run(ctx, spec, candidate, env); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				metrics.IncScriptTimeouts()
			}
			metrics.IncScriptFailures()
			w.log.Info("gating script vetoed match", "monitor", match.MonitorName, "tx_hash", match.TxHash, "script", ref.Path, "error", err)
			return true
		}
	}
	return false
}

func (w *Watcher) monitorByName(name string) *filter.CompiledMonitor {
	for _, m := range w.monitors {
		if m.Monitor.Name == name {
			return m
		}
	}
	return nil
}

// drainQueue is the per-monitor FIFO consumer: it dispatches matches
// for one monitor strictly in arrival order, one at a time, while
// different monitors' drainQueue goroutines run concurrently.
func (w *Watcher) drainQueue(ctx context.Context, monitorName string) {
	queue := w.queues[monitorName]
	for {
		select {
		case <-ctx.Done():
			return
		case match, ok := <-queue:
			if !ok {
				return
			}
			w.dispatcher.Dispatch(ctx, match, w.triggers)
		}
	}
}

type candidatePayload struct {
	TxHash      string            `json:"tx_hash"`
	MonitorName string            `json:"monitor"`
	NetworkSlug string            `json:"network"`
	BlockNumber uint64            `json:"block_number"`
	Condition   string            `json:"condition"`
	Variables   map[string]string `json:"variables"`
	DecodedArgs map[string]any    `json:"decoded_args"`
}
