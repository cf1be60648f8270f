package devbackend

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker is implemented by component-level checkers (store, feed).
type HealthChecker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// ServiceHealthChecker aggregates component checkers into a single service health flag.
type ServiceHealthChecker struct {
	healthy atomic.Int32
	deps    []HealthChecker
	log     zerolog.Logger
}

func NewServiceHealthChecker(log zerolog.Logger, deps ...HealthChecker) *ServiceHealthChecker {
	h := &ServiceHealthChecker{deps: deps, log: log}
	h.healthy.Store(0)
	return h
}

// IsHealthy returns cached service health.
func (h *ServiceHealthChecker) IsHealthy() bool { return h.healthy.Load() == 1 }

// Start runs every dependency checker and periodically folds their state
// into the service flag until ctx ends.
func (h *ServiceHealthChecker) Start(ctx context.Context, interval time.Duration) {
	for _, d := range h.deps {
		go d.Start(ctx, interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := int32(-1)
	eval := func() {
		all := true
		for _, c := range h.deps {
			if !c.IsHealthy() {
				all = false
				h.log.Debug().Str("component", c.Name()).Msg("component unhealthy")
			}
		}
		if all {
			h.healthy.Store(1)
		} else {
			h.healthy.Store(0)
		}
		cur := h.healthy.Load()
		if cur != prev {
			if cur == 1 {
				h.log.Info().Msg("service health: UP")
			} else {
				h.log.Error().Msg("service health: DOWN")
			}
			prev = cur
		}
	}

	eval()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eval()
		}
	}
}

// Pinger is implemented by stores that can check their connection.
type Pinger interface {
	HealthPing(ctx context.Context) error
}

// StoreChecker pings a store on every tick. Stores without a Pinger are
// always healthy.
type StoreChecker struct {
	name    string
	pinger  Pinger
	healthy atomic.Bool
	log     zerolog.Logger
}

// NewStoreChecker returns a checker for s.
func NewStoreChecker(name string, s any, log zerolog.Logger) *StoreChecker {
	c := &StoreChecker{name: name, log: log}
	if p, ok := s.(Pinger); ok {
		c.pinger = p
	} else {
		c.healthy.Store(true)
	}
	return c
}

func (c *StoreChecker) Name() string    { return c.name }
func (c *StoreChecker) IsHealthy() bool { return c.healthy.Load() }

func (c *StoreChecker) Start(ctx context.Context, interval time.Duration) {
	if c.pinger == nil {
		return
	}
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		err := c.pinger.HealthPing(pctx)
		if err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Str("component", c.name).Msg("health ping failed")
		}
		c.healthy.Store(err == nil)
	}
	check()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
