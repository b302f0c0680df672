// Package rediskv is the optional external-KV backing for the
// Processing Cursor persistence interface (storage.CursorStore),
// grounded on gabapcia-blockwatch's
// internal/infra/storage/redis/chainstream.go checkpoint pattern: one
// namespaced key per network, stored with no expiration, parsed back
// on read.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/devblac/watch-tower/internal/storage"
)

// keyPrefix namespaces every key this package writes, mirroring the
// teacher pack's "chainstream:checkpoint:<network>" convention.
const keyPrefix = "watch-tower:cursor"

func cursorKey(networkSlug string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, networkSlug)
}

// Store is a storage.CursorStore backed by Redis.
type Store struct {
	conn *redis.Client
}

var _ storage.CursorStore = (*Store)(nil)

// Open dials addr and verifies connectivity before returning.
func Open(ctx context.Context, addr, username, password string, db int) (*Store, error) {
	conn := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})
	if err := conn.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rediskv: ping %s: %w", addr, err)
	}
	return &Store{conn: conn}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}

// UpsertCursor records the latest processed height/hash for a network
// as "<height>:<hash>", with no expiration.
func (s *Store) UpsertCursor(ctx context.Context, networkSlug string, height uint64, hash string) error {
	val := fmt.Sprintf("%d:%s", height, hash)
	if err := s.conn.Set(ctx, cursorKey(networkSlug), val, 0).Err(); err != nil {
		return fmt.Errorf("rediskv: upsert cursor %s: %w", networkSlug, err)
	}
	return nil
}

// GetCursor retrieves the cursor for a network.
func (s *Store) GetCursor(ctx context.Context, networkSlug string) (height uint64, hash string, ok bool, err error) {
	val, err := s.conn.Get(ctx, cursorKey(networkSlug)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, fmt.Errorf("rediskv: get cursor %s: %w", networkSlug, err)
	}

	height, hash, err = parseCursor(val)
	if err != nil {
		return 0, "", false, fmt.Errorf("rediskv: parse cursor %s: %w", networkSlug, err)
	}
	return height, hash, true, nil
}

func parseCursor(val string) (uint64, string, error) {
	parts := strings.SplitN(val, ":", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("malformed cursor value %q", val)
	}
	height, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed cursor height %q: %w", parts[0], err)
	}
	return height, parts[1], nil
}
