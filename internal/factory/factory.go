// Package factory builds the store and client every binary shares from config.
package factory

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	client "github.com/cbbshop1/solace-sentience"
	"github.com/cbbshop1/solace-sentience/internal/config"
	"github.com/cbbshop1/solace-sentience/internal/state"
	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/store/memstore"
	"github.com/cbbshop1/solace-sentience/internal/store/sqlstore"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewStore opens the store selected by cfg.StoreDriver. SQL stores are
// migrated before they are returned; the closer releases the connection.
func NewStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, io.Closer, error) {
	sqlCfg := sqlstore.Config{
		PollInterval: cfg.PollInterval,
		Logger:       log.With().Str("component", "sqlstore").Logger(),
	}
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Warn().Msg("using in-memory store; data is lost on exit")
		return memstore.New(), nopCloser{}, nil
	case config.DriverSQLite:
		s, err := sqlstore.ConnectSQLite(ctx, cfg.SQLitePath, sqlCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		log.Debug().Str("path", cfg.SQLitePath).Msg("sqlite store ready")
		return s, s, nil
	case config.DriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("SOLACE_POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
		s, err := sqlstore.ConnectPostgres(ctx, cfg.PostgresDSN, sqlCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		log.Debug().Msg("postgres store ready")
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown STORE_DRIVER: %s", cfg.StoreDriver)
	}
}

// ClientOptions translates cfg into client options.
func ClientOptions(cfg *config.Config, log zerolog.Logger) []client.Option {
	initial := min(250*time.Millisecond, cfg.ReconnectMaxInterval)
	opts := []client.Option{
		client.WithLogger(log),
		client.WithHTTPTimeout(cfg.HTTPTimeout),
		client.WithPendingTTL(cfg.PendingTTL),
		client.WithReconnectBackoff(initial, cfg.ReconnectMaxInterval),
	}
	if cfg.StatePath != "-" {
		path := cfg.StatePath
		if path == "" {
			path = state.DefaultPath()
		}
		opts = append(opts, client.WithSessionState(state.Open(path)))
	}
	if cfg.RealtimeURL != "" {
		opts = append(opts, client.WithRealtime(cfg.RealtimeURL))
	}
	return opts
}

// NewClient opens the configured store and builds a Client over it. The
// returned closer closes the client and then the store.
func NewClient(ctx context.Context, cfg *config.Config, log zerolog.Logger, extra ...client.Option) (*client.Client, io.Closer, error) {
	s, closer, err := NewStore(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	c, err := client.New(s, cfg.BackendURL, append(ClientOptions(cfg, log), extra...)...)
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return c, closers{c, closer}, nil
}

type closers []io.Closer

func (cs closers) Close() error {
	var first error
	for _, c := range cs {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
