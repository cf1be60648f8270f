// Package stream owns a live change subscription on behalf of one component.
// A Watcher subscribes (retrying with exponential backoff), pumps changes to
// its hooks in delivery order, and resubscribes after the stream is lost.
// Close tears the subscription down and returns only once the pump has exited,
// so the owner can open a replacement without two coexisting.
package stream

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cbbshop1/solace-sentience/internal/errors"
	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

// Hooks receive the watcher's callbacks. All hooks run on the watcher's pump
// goroutine, one at a time, in order. They must not call Close.
type Hooks struct {
	// Acknowledged runs each time a subscription is established. resumed is
	// false for the first one and true after a reconnect.
	Acknowledged func(ctx context.Context, resumed bool) error
	// Change runs for every delivered change. A non-nil error drops the
	// subscription and forces a resubscribe.
	Change func(ctx context.Context, c types.Change) error
	// Lost runs when a subscribe attempt fails or a live stream ends.
	Lost func(err error)
}

// Config configures a Watcher.
type Config struct {
	Feed   store.Feed
	Filter store.Filter
	Hooks  Hooks

	InitialInterval time.Duration
	MaxInterval     time.Duration
	// ReconnectDelay is the pause between losing a live stream and resubscribing.
	ReconnectDelay time.Duration

	Logger zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 200 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 100 * time.Millisecond
	}
	return c
}

// Watcher is an owned subscription handle.
type Watcher struct {
	cfg    Config
	cancel context.CancelFunc
	done   chan struct{}
}

// Open starts watching. The first subscribe attempt happens asynchronously.
func Open(cfg Config) *Watcher {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{cfg: cfg, cancel: cancel, done: make(chan struct{})}
	go w.run(ctx)
	return w
}

// Close unsubscribes and waits for the pump goroutine to exit. It is safe to
// call more than once.
func (w *Watcher) Close() {
	if w == nil {
		return
	}
	w.cancel()
	<-w.done
}

// Done is closed once the watcher has fully stopped.
func (w *Watcher) Done() <-chan struct{} { return w.done }

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	table := string(w.cfg.Filter.Table)
	log := w.cfg.Logger.With().Str("table", table).Str("conversation_id", w.cfg.Filter.ConversationID).Logger()

	resumed := false
	for {
		sub, err := w.subscribe(ctx, log)
		if err != nil {
			return
		}
		if resumed {
			reconnectsTotal.WithLabelValues(table).Inc()
		}
		log.Debug().Bool("resumed", resumed).Msg("subscription established")

		err = w.acknowledge(ctx, resumed)
		if err == nil {
			err = w.pump(ctx, sub)
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			log.Debug().Msg("subscription closed by owner")
			return
		}

		log.Warn().Err(err).Msg("subscription lost")
		w.lost(&errors.SubscriptionError{Table: table, Err: err})
		resumed = true

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.ReconnectDelay):
		}
	}
}

func (w *Watcher) subscribe(ctx context.Context, log zerolog.Logger) (store.Subscription, error) {
	table := string(w.cfg.Filter.Table)
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.cfg.InitialInterval
	exp.MaxInterval = w.cfg.MaxInterval
	exp.MaxElapsedTime = 0

	var sub store.Subscription
	op := func() error {
		s, err := w.cfg.Feed.Subscribe(ctx, w.cfg.Filter)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		sub = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		subscribeFailuresTotal.WithLabelValues(table).Inc()
		log.Warn().Err(err).Dur("retry_in", wait).Msg("subscribe failed")
		w.lost(&errors.SubscriptionError{Table: table, Err: err})
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(exp, ctx), notify); err != nil {
		return nil, err
	}
	return sub, nil
}

func (w *Watcher) acknowledge(ctx context.Context, resumed bool) error {
	if w.cfg.Hooks.Acknowledged == nil {
		return nil
	}
	return w.cfg.Hooks.Acknowledged(ctx, resumed)
}

func (w *Watcher) pump(ctx context.Context, sub store.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return err
				}
				return errors.ErrSubscriptionClosed
			}
			eventsTotal.WithLabelValues(string(c.Table), string(c.Op)).Inc()
			if w.cfg.Hooks.Change == nil {
				continue
			}
			if err := w.cfg.Hooks.Change(ctx, c); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) lost(err error) {
	if w.cfg.Hooks.Lost != nil {
		w.cfg.Hooks.Lost(err)
	}
}
