package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenPostgres opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func OpenPostgres(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// NewPostgres wraps an open PostgreSQL handle.
func NewPostgres(db *sql.DB, cfg Config) *Store { return newStore(db, postgresDialect, cfg) }

// ConnectPostgres opens, migrates and returns a PostgreSQL store.
func ConnectPostgres(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	db, err := OpenPostgres(dsn)
	if err != nil {
		return nil, err
	}
	s := NewPostgres(db, cfg)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
