package channel

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/devblac/watch-tower/internal/config"
	"github.com/devblac/watch-tower/internal/model"
	_ "github.com/lib/pq"
)

// Database inserts one row per delivery into monitor_notifications,
// per spec §6's exact schema. Grounded on original_source's
// database.rs NotificationRecord (transaction_hash, block_number,
// network, monitor_name, matched_conditions, decoded_args), extended
// with the variables/additional_fields/created_at columns the spec's
// §6 schema names that the Rust struct (serialized separately via
// sqlx::query!) does not carry as Go fields. sqlx has no Go
// equivalent in the retrieved corpus; database/sql plus lib/pq's
// Postgres driver is the idiomatic substitute, matching the pack's own
// use of lib/pq elsewhere.
type Database struct {
	mu   sync.Mutex
	dbs  map[string]*sql.DB
	open func(connStr string) (*sql.DB, error)
}

var _ Channel = (*Database)(nil)

func NewDatabase() *Database {
	return &Database{
		dbs:  make(map[string]*sql.DB),
		open: func(connStr string) (*sql.DB, error) { return sql.Open("postgres", connStr) },
	}
}

func (d *Database) Send(ctx context.Context, trigger config.Trigger, match model.Match, rendered Rendered) error {
	if trigger.ConnectionString == "" {
		return fmt.Errorf("database trigger %s: connection_string required", trigger.Name)
	}
	table := trigger.TableName
	if table == "" {
		table = "monitor_notifications"
	}

	db, err := d.connection(trigger.ConnectionString)
	if err != nil {
		return Transient(fmt.Errorf("open database: %w", err))
	}

	matchedConditions, err := json.Marshal([]string{match.MatchedCondition.Signature})
	if err != nil {
		return fmt.Errorf("marshal matched_conditions: %w", err)
	}
	decodedArgs, err := json.Marshal(match.DecodedArgs)
	if err != nil {
		return fmt.Errorf("marshal decoded_args: %w", err)
	}
	variables, err := json.Marshal(match.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	additional, err := json.Marshal(trigger.AdditionalFields)
	if err != nil {
		return fmt.Errorf("marshal additional_fields: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (transaction_hash, block_number, network, monitor_name, matched_conditions, decoded_args, variables, additional_fields)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
`, table)

	if _, err := db.ExecContext(ctx, query,
		match.TxHash, match.BlockNumber, match.NetworkSlug, match.MonitorName,
		matchedConditions, decodedArgs, variables, additional,
	); err != nil {
		return Transient(fmt.Errorf("insert %s: %w", table, err))
	}
	return nil
}

// connection reuses one *sql.DB per distinct connection string so a
// busy monitor's deliveries don't each pay a fresh connection setup.
func (d *Database) connection(connStr string) (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if db, ok := d.dbs[connStr]; ok {
		return db, nil
	}
	db, err := d.open(connStr)
	if err != nil {
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	d.dbs[connStr] = db
	return db, nil
}

// ensureSchema creates monitor_notifications on first use, matching
// spec §6's schema exactly. JSONB is used in place of the spec's
// literal "JSON" type because Postgres cannot build a GIN index over
// plain json — only jsonb supports the gin operator class the spec's
// schema calls for; this is a faithfulness fix, not a deviation.
func ensureSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS monitor_notifications (
	id                BIGSERIAL PRIMARY KEY,
	transaction_hash  TEXT NOT NULL,
	block_number      BIGINT,
	network           TEXT NOT NULL,
	monitor_name      TEXT NOT NULL,
	matched_conditions JSONB NOT NULL,
	decoded_args      JSONB,
	variables         JSONB NOT NULL DEFAULT '{}',
	additional_fields JSONB NOT NULL DEFAULT '{}',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS monitor_notifications_created_at_idx ON monitor_notifications (created_at DESC);
CREATE INDEX IF NOT EXISTS monitor_notifications_tx_hash_idx ON monitor_notifications (transaction_hash);
CREATE INDEX IF NOT EXISTS monitor_notifications_network_idx ON monitor_notifications (network);
CREATE INDEX IF NOT EXISTS monitor_notifications_monitor_name_idx ON monitor_notifications (monitor_name);
CREATE INDEX IF NOT EXISTS monitor_notifications_matched_conditions_gin ON monitor_notifications USING GIN (matched_conditions);
CREATE INDEX IF NOT EXISTS monitor_notifications_decoded_args_gin ON monitor_notifications USING GIN (decoded_args);
`
	_, err := db.Exec(ddl)
	if err != nil {
		return fmt.Errorf("ensure monitor_notifications schema: %w", err)
	}
	return nil
}

// Close releases every pooled connection, for use at process shutdown.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for _, db := range d.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
