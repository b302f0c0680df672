// Package storage provides the sqlite-backed persistence surface: the
// processing cursor, the match dedupe table, the alert/send audit
// trail, and an optional raw block debug dump. Grounded nearly
// verbatim on the teacher's own store.go for schema shape and query
// style, generalized from a single rule_id/sink_id pairing to the
// network-scoped cursor and (network, tx_hash, monitor, condition)
// dedupe key this system's Invariants require.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for cursors, dedupe, and the
// alert/send audit trail.
type Store struct {
	db *sql.DB
}

// Open initializes a SQLite database and runs minimal schema setup.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

func migrate(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	schema := `
CREATE TABLE IF NOT EXISTS cursors (
  network_slug TEXT PRIMARY KEY,
  height       INTEGER NOT NULL,
  hash         TEXT NOT NULL,
  updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS match_dedupe (
  key          TEXT PRIMARY KEY,
  network_slug TEXT NOT NULL,
  tx_hash      TEXT NOT NULL,
  monitor      TEXT NOT NULL,
  condition_id TEXT NOT NULL,
  created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS alerts (
  id            TEXT PRIMARY KEY,
  monitor_name  TEXT NOT NULL,
  network_slug  TEXT NOT NULL,
  tx_hash       TEXT,
  condition_id  TEXT,
  payload_json  TEXT,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sends (
  alert_id      TEXT NOT NULL,
  channel_id    TEXT NOT NULL,
  status        TEXT NOT NULL,
  response_code INTEGER,
  created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(alert_id, channel_id)
);

CREATE TABLE IF NOT EXISTS raw_blocks (
  network_slug TEXT NOT NULL,
  height       INTEGER NOT NULL,
  payload_json TEXT NOT NULL,
  created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(network_slug, height)
);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertCursor records the latest processed height/hash for a network.
// Per the Processing Cursor invariant, callers are expected to only
// ever advance height.
func (s *Store) UpsertCursor(ctx context.Context, networkSlug string, height uint64, hash string) error {
	if networkSlug == "" {
		return errors.New("networkSlug required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cursors (network_slug, height, hash, updated_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(network_slug) DO UPDATE SET
  height=excluded.height,
  hash=excluded.hash,
  updated_at=CURRENT_TIMESTAMP;
`, networkSlug, height, hash)
	if err != nil {
		return fmt.Errorf("upsert cursor: %w", err)
	}
	return nil
}

// GetCursor retrieves the cursor for a network.
func (s *Store) GetCursor(ctx context.Context, networkSlug string) (height uint64, hash string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT height, hash FROM cursors WHERE network_slug = ?;
`, networkSlug)
	switch err = row.Scan(&height, &hash); err {
	case nil:
		return height, hash, true, nil
	case sql.ErrNoRows:
		return 0, "", false, nil
	default:
		return 0, "", false, fmt.Errorf("get cursor: %w", err)
	}
}

// DedupeKey builds the dedupe key for one matched condition, per the
// match-dedup invariant: at most one match per (network, tx_hash,
// monitor, condition-id).
func DedupeKey(networkSlug, txHash, monitor, conditionID string) string {
	return networkSlug + "|" + txHash + "|" + monitor + "|" + conditionID
}

// MarkIfNew records the dedupe key if it has not been seen before and
// reports whether it was new. A false return means a match for this
// (network, tx, monitor, condition) has already been recorded and the
// caller should drop it silently.
func (s *Store) MarkIfNew(ctx context.Context, networkSlug, txHash, monitor, conditionID string) (isNew bool, err error) {
	key := DedupeKey(networkSlug, txHash, monitor, conditionID)
	res, err := s.db.ExecContext(ctx, `
INSERT INTO match_dedupe (key, network_slug, tx_hash, monitor, condition_id)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(key) DO NOTHING;
`, key, networkSlug, txHash, monitor, conditionID)
	if err != nil {
		return false, fmt.Errorf("mark dedupe: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark dedupe rows affected: %w", err)
	}
	return affected > 0, nil
}

// Alert is a persisted record of one emitted Monitor Match.
type Alert struct {
	ID          string
	MonitorName string
	NetworkSlug string
	TxHash      string
	ConditionID string
	PayloadJSON string
	CreatedAt   time.Time
}

// InsertAlert stores an alert; primary key enforces exactly-once insertion.
func (s *Store) InsertAlert(ctx context.Context, a Alert) error {
	if a.ID == "" || a.MonitorName == "" {
		return errors.New("alert id and monitor_name required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO alerts (id, monitor_name, network_slug, tx_hash, condition_id, payload_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`, a.ID, a.MonitorName, a.NetworkSlug, a.TxHash, a.ConditionID, a.PayloadJSON, nullTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// Send is a persisted record of one notification channel delivery attempt.
type Send struct {
	AlertID      string
	ChannelID    string
	Status       string
	ResponseCode int
	CreatedAt    time.Time
}

// InsertSend records a channel delivery attempt; primary key enforces exactly-once per alert/channel.
func (s *Store) InsertSend(ctx context.Context, srec Send) error {
	if srec.AlertID == "" || srec.ChannelID == "" || srec.Status == "" {
		return errors.New("alert_id, channel_id, and status are required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sends (alert_id, channel_id, status, response_code, created_at)
VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP));
`, srec.AlertID, srec.ChannelID, srec.Status, srec.ResponseCode, nullTime(srec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert send: %w", err)
	}
	return nil
}

// DumpRawBlock persists a block's raw JSON payload for debugging, per
// spec.md §2's "optional raw block dump for debugging". Overwrites any
// prior dump for the same (network, height).
func (s *Store) DumpRawBlock(ctx context.Context, networkSlug string, height uint64, payloadJSON string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO raw_blocks (network_slug, height, payload_json, created_at)
VALUES (?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(network_slug, height) DO UPDATE SET
  payload_json=excluded.payload_json,
  created_at=CURRENT_TIMESTAMP;
`, networkSlug, height, payloadJSON)
	if err != nil {
		return fmt.Errorf("dump raw block: %w", err)
	}
	return nil
}

// WithTx executes a callback inside a transaction for callers needing atomicity.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
