package clientpool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/devblac/watch-tower/internal/model"
	"github.com/devblac/watch-tower/internal/source"
)

type fakeSource struct {
	latest    uint64
	blocks    []model.Block
	failUntil int
	calls     int
	err       error
}

func (f *fakeSource) LatestBlockNumber(ctx context.Context) (uint64, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return 0, errors.New("transient rpc error")
	}
	if f.err != nil {
		return 0, f.err
	}
	return f.latest, nil
}

func (f *fakeSource) GetBlocks(ctx context.Context, from, to uint64, expectedParentHash string) ([]model.Block, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return nil, errors.New("transient rpc error")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.blocks, nil
}

func fastPolicy() Option {
	return WithRetryPolicy(3, time.Millisecond, 5*time.Millisecond)
}

func TestPool_LatestBlockNumber_RetriesThenSucceeds(t *testing.T) {
	ep := &fakeSource{latest: 100, failUntil: 2}
	p, err := New("net", []Endpoint{{Label: "a", Client: ep, Weight: 1}}, fastPolicy())
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	got, err := p.LatestBlockNumber(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got != 100 {
		t.Fatalf("got %d, want 100", got)
	}
	if !p.Endpoints()[0].Healthy() {
		t.Fatalf("expected endpoint to be marked healthy after eventual success")
	}
}

func TestPool_FailoverToSecondEndpoint(t *testing.T) {
	bad := &fakeSource{failUntil: 1000}
	good := &fakeSource{latest: 42}
	p, err := New("net", []Endpoint{
		{Label: "bad", Client: bad, Weight: 1},
		{Label: "good", Client: good, Weight: 1},
	}, fastPolicy())
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	got, err := p.LatestBlockNumber(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got != 42 {
		t.Fatalf("got %d, want 42 (from good endpoint)", got)
	}
}

func TestPool_AllEndpointsFail(t *testing.T) {
	bad1 := &fakeSource{failUntil: 1000}
	bad2 := &fakeSource{failUntil: 1000}
	p, err := New("net", []Endpoint{
		{Label: "bad1", Client: bad1},
		{Label: "bad2", Client: bad2},
	}, fastPolicy())
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	if _, err := p.LatestBlockNumber(context.Background()); err == nil {
		t.Fatalf("expected an error when every endpoint fails")
	}
	for _, ep := range p.Endpoints() {
		if ep.Healthy() {
			t.Fatalf("expected endpoint %s to be marked unhealthy", ep.Label)
		}
	}
}

func TestPool_ReorgNotRetriedAcrossEndpoints(t *testing.T) {
	bad := &fakeSource{err: source.ErrReorgDetected}
	good := &fakeSource{latest: 1}
	p, err := New("net", []Endpoint{
		{Label: "bad", Client: bad},
		{Label: "good", Client: good},
	}, fastPolicy())
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	_, err = p.GetBlocks(context.Background(), 1, 1, "parent")
	if !errors.Is(err, source.ErrReorgDetected) {
		t.Fatalf("expected reorg error to propagate immediately, got %v", err)
	}
	if bad.calls != 1 {
		t.Fatalf("expected exactly one call before giving up on reorg, got %d", bad.calls)
	}
}

func TestNew_RequiresAtLeastOneEndpoint(t *testing.T) {
	if _, err := New("net", nil); err == nil {
		t.Fatalf("expected an error for an empty endpoint set")
	}
}

func TestWeightedRoundRobin_RespectsWeight(t *testing.T) {
	endpoints := []*Endpoint{
		{Label: "heavy", Weight: 3},
		{Label: "light", Weight: 1},
	}
	order := weightedRoundRobin(endpoints)
	if len(order) != 4 {
		t.Fatalf("expected schedule length 4, got %d", len(order))
	}
	heavy := 0
	for _, idx := range order {
		if idx == 0 {
			heavy++
		}
	}
	if heavy != 3 {
		t.Fatalf("expected heavy endpoint scheduled 3 times, got %d", heavy)
	}
}
