package health

import (
	"context"
	"fmt"

	"github.com/devblac/watch-tower/internal/source"
)

// RPCChecker pings every network's Client Pool so /healthz reflects
// chain reachability, not just process liveness. Generalized from the
// original per-chain-family (evm.BlockClient/algorand.AlgodClient) map
// to a single source.BlockSource map, since every chain family and the
// Client Pool itself (internal/clientpool.Pool) satisfy that one
// interface.
type RPCChecker struct {
	sources map[string]source.BlockSource
}

// NewRPCChecker creates a checker for every network's source, keyed by
// network slug.
func NewRPCChecker(sources map[string]source.BlockSource) *RPCChecker {
	return &RPCChecker{sources: sources}
}

// Ping checks every configured network's LatestBlockNumber call.
func (c *RPCChecker) Ping(ctx context.Context) error {
	var lastErr error
	for slug, src := range c.sources {
		if _, err := src.LatestBlockNumber(ctx); err != nil {
			lastErr = fmt.Errorf("network %s: %w", slug, err)
		}
	}
	return lastErr
}
