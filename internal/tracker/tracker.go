// Package tracker guards against gaps and duplicates in the sequence
// of processed block numbers per network. The teacher had no
// equivalent: its scanners always resumed strictly from the persisted
// cursor and fetched contiguous ranges, so there was nothing to guard
// against in-memory. This package exists purely to satisfy the
// explicit "Gap/duplicate detection" behavior spec.md names.
package tracker

import "fmt"

// ErrGap is returned when Observe sees a block number that skips ahead
// of the expected next number.
var ErrGap = fmt.Errorf("tracker: gap in processed block sequence")

// Tracker remembers the last N processed block numbers for one
// network, in a fixed-size ring buffer, to detect duplicates and gaps.
type Tracker struct {
	size int
	ring []uint64
	seen map[uint64]struct{}
	next int // write cursor into ring
	last uint64
	have bool
}

// New builds a Tracker retaining the last size observations. size must
// be at least 1; a size of 0 or less defaults to 1.
func New(size int) *Tracker {
	if size < 1 {
		size = 1
	}
	return &Tracker{
		size: size,
		ring: make([]uint64, 0, size),
		seen: make(map[uint64]struct{}, size),
	}
}

// Observe records that blockNumber was just processed. It reports
// ErrGap if blockNumber skips ahead of the expected next number
// (last+1) for the first observation since a non-empty history, and
// reports (dropped=true) for a duplicate within the remembered window
// without treating it as an error — callers should log and skip.
func (t *Tracker) Observe(blockNumber uint64) (dropped bool, err error) {
	if _, ok := t.seen[blockNumber]; ok {
		return true, nil
	}
	if t.have && blockNumber > t.last+1 {
		return false, fmt.Errorf("%w: expected %d, observed %d", ErrGap, t.last+1, blockNumber)
	}

	t.push(blockNumber)
	if !t.have || blockNumber > t.last {
		t.last = blockNumber
		t.have = true
	}
	return false, nil
}

// push appends blockNumber to the ring, evicting the oldest entry once
// the buffer is full.
func (t *Tracker) push(blockNumber uint64) {
	if len(t.ring) < t.size {
		t.ring = append(t.ring, blockNumber)
	} else {
		evicted := t.ring[t.next]
		delete(t.seen, evicted)
		t.ring[t.next] = blockNumber
		t.next = (t.next + 1) % t.size
	}
	t.seen[blockNumber] = struct{}{}
}

// Last returns the highest block number observed so far, and whether
// any observation has been recorded at all.
func (t *Tracker) Last() (uint64, bool) {
	return t.last, t.have
}

// Reset clears all history, e.g. after a reorg forces a re-fetch from
// the cursor.
func (t *Tracker) Reset() {
	t.ring = t.ring[:0]
	t.seen = make(map[uint64]struct{}, t.size)
	t.next = 0
	t.last = 0
	t.have = false
}
