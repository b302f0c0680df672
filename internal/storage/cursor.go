package storage

import "context"

// CursorStore is the Processing Cursor persistence interface named in
// the Design Notes ("Cursor persistence is an interface with two
// concrete backings"): the sqlite-backed Store below is the primary
// on-disk backing, and internal/storage/rediskv.Store is the optional
// external KV backing. The Block Watcher is injected with one
// implementation at construction time and never knows which.
type CursorStore interface {
	GetCursor(ctx context.Context, networkSlug string) (height uint64, hash string, ok bool, err error)
	UpsertCursor(ctx context.Context, networkSlug string, height uint64, hash string) error
}

var _ CursorStore = (*Store)(nil)
