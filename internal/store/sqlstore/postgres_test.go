package sqlstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/store/storetest"
)

func makePGStore(t *testing.T) store.Store {
	t.Helper()
	dsn := os.Getenv("SOLACE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SOLACE_POSTGRES_DSN not set; skipping postgres store test")
	}
	s, err := ConnectPostgres(context.Background(), dsn, Config{PollInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("postgres connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	truncate(t, s)
	return s
}

// truncate gives each compliance subtest an empty database.
func truncate(t *testing.T, s *Store) {
	t.Helper()
	if _, err := s.DB().ExecContext(context.Background(), `TRUNCATE changes, solace_logs, conversations RESTART IDENTITY`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func TestPostgresStore_Compliance(t *testing.T) {
	storetest.Run(t, makePGStore)
}
