package shardqueue

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Config groups the executor tunables. Values load from environment variables
// with the prefix "SOLACE_QUEUE_", e.g. SOLACE_QUEUE_SHARDS=8.
type Config struct {
	Shards         int           `envconfig:"SHARDS"          default:"4"`
	QueueSize      int           `envconfig:"QUEUE_SIZE"      default:"256"`
	EnqueueTimeout time.Duration `envconfig:"ENQUEUE_TIMEOUT" default:"250ms"`

	// MaxAttempts bounds retries of recoverable job errors. Reconciliation
	// handlers never fail, so the default is a single attempt.
	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"1"`
	BaseBackoff time.Duration `envconfig:"BASE_BACKOFF" default:"100ms"`
	MaxInterval time.Duration `envconfig:"MAX_INTERVAL" default:"5s"`

	// ErrorHandler is called synchronously after a job's final failure.
	ErrorHandler func(error) `envconfig:"-"`

	// Logger receives lifecycle and panic messages. Zero value disables logging.
	Logger zerolog.Logger `envconfig:"-"`
}

// LoadConfig populates Config from environment variables (prefix SOLACE_QUEUE).
func LoadConfig() (Config, error) {
	var c Config
	if err := envconfig.Process("SOLACE_QUEUE", &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) withDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = 250 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 100 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Second
	}
	return c
}
