// Package clientpool wraps the per-network set of weighted RPC
// endpoints behind a single source.BlockSource, retrying transient
// failures with jittered exponential backoff and round-robining to the
// next-healthiest endpoint before giving up for the tick.
//
// Grounded on gabapcia-blockwatch's internal/pkg/resilience/retry
// wrapper around avast/retry-go/v4; the teacher's own scanners called a
// single client directly with no pool or backoff at all.
package clientpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	retry "github.com/avast/retry-go/v4"

	"github.com/devblac/watch-tower/internal/model"
	"github.com/devblac/watch-tower/internal/source"
)

// Endpoint is one weighted member of a Pool.
type Endpoint struct {
	Label  string
	Client source.BlockSource
	Weight int

	// healthy is 1 after a successful call and -n after n consecutive
	// failures (0 before any call); read via atomic to let health
	// checks run concurrently with the watcher's poll loop.
	healthy int64
}

// Healthy reports whether the endpoint's last call succeeded.
func (e *Endpoint) Healthy() bool { return atomic.LoadInt64(&e.healthy) >= 0 }

func (e *Endpoint) recordSuccess() { atomic.StoreInt64(&e.healthy, 1) }
func (e *Endpoint) recordFailure() {
	for {
		cur := atomic.LoadInt64(&e.healthy)
		next := cur - 1
		if cur > 0 {
			next = -1
		}
		if atomic.CompareAndSwapInt64(&e.healthy, cur, next) {
			return
		}
	}
}

// Pool round-robins across weighted endpoints for one network,
// retrying each call with backoff before moving to the next endpoint.
type Pool struct {
	networkSlug string
	endpoints   []*Endpoint
	order       []int // expanded weighted round-robin schedule
	next        uint64

	attempts uint
	delay    time.Duration
	maxDelay time.Duration
}

// Option configures a Pool.
type Option func(*Pool)

// WithRetryPolicy overrides the default retry policy (3 attempts,
// 250ms base delay, 30s cap, matching SPEC_FULL §4.1's Block Watcher
// failure policy).
func WithRetryPolicy(attempts uint, delay, maxDelay time.Duration) Option {
	return func(p *Pool) {
		p.attempts = attempts
		p.delay = delay
		p.maxDelay = maxDelay
	}
}

// New builds a Pool for networkSlug from a set of weighted endpoints.
// Endpoints with Weight <= 0 default to weight 1.
func New(networkSlug string, endpoints []Endpoint, opts ...Option) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("clientpool %s: at least one endpoint is required", networkSlug)
	}

	p := &Pool{
		networkSlug: networkSlug,
		attempts:    3,
		delay:       250 * time.Millisecond,
		maxDelay:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.endpoints = make([]*Endpoint, len(endpoints))
	for i := range endpoints {
		ep := endpoints[i]
		if ep.Weight <= 0 {
			ep.Weight = 1
		}
		p.endpoints[i] = &ep
	}
	p.order = weightedRoundRobin(p.endpoints)
	return p, nil
}

// weightedRoundRobin expands endpoint weights into a schedule of
// endpoint indices such that each index i appears endpoints[i].Weight
// times, interleaved rather than clustered.
func weightedRoundRobin(endpoints []*Endpoint) []int {
	total := 0
	for _, e := range endpoints {
		total += e.Weight
	}
	remaining := make([]int, len(endpoints))
	for i, e := range endpoints {
		remaining[i] = e.Weight
	}
	order := make([]int, 0, total)
	for len(order) < total {
		for i := range endpoints {
			if remaining[i] > 0 {
				order = append(order, i)
				remaining[i]--
			}
		}
	}
	return order
}

func (p *Pool) pickOrder() []*Endpoint {
	n := len(p.order)
	start := int(atomic.AddUint64(&p.next, 1)-1) % n
	out := make([]*Endpoint, 0, n)
	seen := make(map[int]bool, len(p.endpoints))
	for i := 0; i < n; i++ {
		idx := p.order[(start+i)%n]
		if seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, p.endpoints[idx])
	}
	return out
}

// LatestBlockNumber tries each endpoint in weighted round-robin order,
// retrying each one with backoff, until one succeeds.
func (p *Pool) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var lastErr error
	for _, ep := range p.pickOrder() {
		var n uint64
		err := p.call(ctx, ep, func() error {
			var callErr error
			n, callErr = ep.Client.LatestBlockNumber(ctx)
			return callErr
		})
		if err == nil {
			return n, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("clientpool %s: latest block number: %w", p.networkSlug, lastErr)
}

// GetBlocks tries each endpoint in weighted round-robin order, retrying
// each one with backoff, until one succeeds. A reorg error is not
// retried across endpoints: it is a fact about the chain, not the
// endpoint, and is returned immediately.
func (p *Pool) GetBlocks(ctx context.Context, from, to uint64, expectedParentHash string) ([]model.Block, error) {
	var lastErr error
	for _, ep := range p.pickOrder() {
		var blocks []model.Block
		err := p.call(ctx, ep, func() error {
			var callErr error
			blocks, callErr = ep.Client.GetBlocks(ctx, from, to, expectedParentHash)
			if callErr == source.ErrReorgDetected {
				return retry.Unrecoverable(callErr)
			}
			return callErr
		})
		if err == nil {
			return blocks, nil
		}
		if err == source.ErrReorgDetected {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("clientpool %s: get blocks [%d,%d]: %w", p.networkSlug, from, to, lastErr)
}

// call runs op against ep with jittered exponential backoff, recording
// the endpoint's health outcome.
func (p *Pool) call(ctx context.Context, ep *Endpoint, op func() error) error {
	err := retry.Do(op,
		retry.Context(ctx),
		retry.Attempts(p.attempts),
		retry.Delay(p.delay),
		retry.MaxDelay(p.maxDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.MaxJitter(p.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return retry.IsRecoverable(err) && err != source.ErrReorgDetected }),
	)
	if err != nil {
		ep.recordFailure()
		return err
	}
	ep.recordSuccess()
	return nil
}

// Endpoints exposes the pool's members for health reporting.
func (p *Pool) Endpoints() []*Endpoint { return p.endpoints }
