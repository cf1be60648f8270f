// Package sqlstore implements store.Store on database/sql for PostgreSQL
// (pgx stdlib driver) and SQLite (modernc.org/sqlite).
//
// Every mutation appends a row to the changes table inside the same
// transaction. Subscriptions poll that table from the cursor they took when
// they were acknowledged, so a change is delivered iff its transaction
// committed.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

// Config controls change-feed polling.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// Buffer is the per-subscription event buffer.
	Buffer int
	// MaxPollErrors ends a subscription after that many consecutive failed polls.
	MaxPollErrors int
	Logger        zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.Buffer <= 0 {
		c.Buffer = 64
	}
	if c.MaxPollErrors <= 0 {
		c.MaxPollErrors = 3
	}
	return c
}

// Store is a SQL-backed store.Store.
type Store struct {
	db  *sql.DB
	d   dialect
	cfg Config
	now func() time.Time
}

func newStore(db *sql.DB, d dialect, cfg Config) *Store {
	return &Store{db: db, d: d, cfg: cfg.withDefaults(), now: time.Now}
}

func (s *Store) Conversations() store.Conversations { return &conversations{s} }
func (s *Store) Logs() store.Logs                   { return &logs{s} }
func (s *Store) Feed() store.Feed                   { return &feed{s} }

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Driver names the SQL dialect in use.
func (s *Store) Driver() string { return s.d.name }

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.d.name, err)
		}
	}
	return nil
}

// HealthPing checks connectivity.
func (s *Store) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) timestamp() time.Time {
	// TIMESTAMPTZ keeps microseconds; truncate so returned values round-trip.
	return s.now().UTC().Truncate(time.Microsecond)
}

// inTx runs fn in a transaction that holds the change-feed writer lock.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if s.d.lockChanges != "" {
		if _, err := tx.ExecContext(ctx, s.d.lockChanges); err != nil {
			return err
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// writeChange records a row-level change in the same transaction as the mutation.
func (s *Store) writeChange(ctx context.Context, tx *sql.Tx, table types.Table, op types.Op, conversationID string, before, after any) error {
	b, err := jsonOrNil(before)
	if err != nil {
		return err
	}
	a, err := jsonOrNil(after)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.d.bind(`INSERT INTO changes (tbl, op, conversation_id, before_row, after_row, created_at) VALUES (?,?,?,?,?,?)`),
		string(table), string(op), conversationID, b, a, s.d.timeArg(s.timestamp()))
	return err
}

func jsonOrNil(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
