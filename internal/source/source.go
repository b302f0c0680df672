// Package source defines the chain-family-agnostic contracts the Block
// Watcher and Filter Engine depend on, implemented per family under
// source/evm, source/stellar, and source/algorand.
package source

import (
	"context"
	"errors"

	"github.com/devblac/watch-tower/internal/model"
)

// ErrReorgDetected signals the chain rewound underneath the cursor;
// the caller must rewind and retry rather than advance (spec §4.1).
var ErrReorgDetected = errors.New("reorg detected")

// BlockSource is the RPC contract every chain family adapter
// implements (spec §6): fetch the current tip and an inclusive range
// of blocks.
type BlockSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	// GetBlocks fetches the inclusive range [from, to] in ascending
	// order. Implementations detect a reorg by comparing the fetched
	// range's first parent hash against the caller-supplied
	// expectedParentHash, returning ErrReorgDetected when it doesn't
	// match and expectedParentHash is non-empty.
	GetBlocks(ctx context.Context, from, to uint64, expectedParentHash string) ([]model.Block, error)
}

// Decoder decodes a chain family's raw call input and log data into the
// chain-agnostic Arg shape the Filter Engine and expression evaluator
// consume. A decoder that finds no matching function/event for a given
// input returns ok=false rather than an error.
type Decoder interface {
	DecodeCall(contractAddress string, input []byte) (call *model.DecodedCall, ok bool, err error)
	DecodeEvent(log model.Log) (event *model.DecodedEvent, ok bool, err error)
}
