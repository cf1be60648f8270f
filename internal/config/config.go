package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the settings shared by the CLI, the MCP server and the dev backend.
// Environment variables are parsed from the SOLACE_ prefix.
type Config struct {
	// Store selection
	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:""`
	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`

	// Backend boundary
	BackendURL  string        `envconfig:"BACKEND_URL" default:"http://localhost:8000"`
	RealtimeURL string        `envconfig:"REALTIME_URL" default:""`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`

	// Sync tuning
	PollInterval         time.Duration `envconfig:"POLL_INTERVAL" default:"250ms"`
	ReconnectMaxInterval time.Duration `envconfig:"RECONNECT_MAX_INTERVAL" default:"30s"`
	PendingTTL           time.Duration `envconfig:"PENDING_TTL" default:"2m"`

	// Local session state
	StatePath string `envconfig:"STATE_PATH" default:""`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Dev backend
	DevBackendAddr string        `envconfig:"DEV_BACKEND_ADDR" default:":8000"`
	ReplyDelay     time.Duration `envconfig:"REPLY_DELAY" default:"1500ms"`
}

// ResolveDefaults validates the driver choice and derives dependent settings.
func (c *Config) ResolveDefaults() error {
	switch c.StoreDriver {
	case "", "auto":
		c.StoreDriver = DriverSQLite
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}
	if c.StoreDriver == DriverSQLite && c.SQLitePath == "" {
		c.SQLitePath = "solace.db"
	}
	if c.StoreDriver == DriverPostgres && c.PostgresDSN == "" {
		return fmt.Errorf("STORE_DRIVER=postgres requires POSTGRES_DSN")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return nil
}

// Level returns the parsed log level; ResolveDefaults has validated it.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// New creates a new Config by parsing environment variables
// Example: SOLACE_STORE_DRIVER, SOLACE_BACKEND_URL
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("SOLACE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Debug().
		Str("store_driver", cfg.StoreDriver).
		Str("backend_url", cfg.BackendURL).
		Bool("realtime", cfg.RealtimeURL != "").
		Bool("postgres_dsn_present", cfg.PostgresDSN != "").
		Dur("pending_ttl", cfg.PendingTTL).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting returns an in-memory configuration with short timings.
func NewForTesting() *Config {
	return &Config{
		StoreDriver:          DriverMemory,
		BackendURL:           "http://localhost:8000",
		HTTPTimeout:          5 * time.Second,
		PollInterval:         10 * time.Millisecond,
		ReconnectMaxInterval: 100 * time.Millisecond,
		PendingTTL:           2 * time.Minute,
		LogLevel:             "debug",
		DevBackendAddr:       "127.0.0.1:0",
		ReplyDelay:           10 * time.Millisecond,
	}
}
