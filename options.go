package client

// Functional options that configure the Client during construction.

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cbbshop1/solace-sentience/internal/notify"
)

// Option configures a Client during construction in New.
type Option func(*Client) error

// WithHTTPTimeout sets the underlying http.Client Timeout used for backend calls.
//
// Prefer per-request context deadlines where possible; this timeout is a
// coarse safety net. The value must be greater than zero.
func WithHTTPTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("http timeout must be > 0")
		}
		c.http.Timeout = d
		return nil
	}
}

// WithDebugLogging wraps the client's transport so each request/response is
// logged when enabled is true. Do not enable this in production.
func WithDebugLogging(enabled bool) Option {
	return func(c *Client) error {
		if enabled {
			if _, ok := c.http.Transport.(*debugTransport); !ok {
				c.http.Transport = &debugTransport{base: c.http.Transport}
			}
		}
		return nil
	}
}

// WithNotifier routes user-facing notifications to n.
func WithNotifier(n Notifier) Option {
	return func(c *Client) error {
		if n == nil {
			n = notify.Discard
		}
		c.notifier = n
		return nil
	}
}

// WithLogger sets the logger every component derives from.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) error {
		c.logger = l
		return nil
	}
}

// WithSessionState persists the active conversation across runs.
func WithSessionState(s SessionState) Option {
	return func(c *Client) error {
		c.session = s
		return nil
	}
}

// WithPendingTTL bounds how long an unconfirmed optimistic message is shown.
func WithPendingTTL(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("pending ttl must be > 0")
		}
		c.pendingTTL = d
		return nil
	}
}

// WithReconnectBackoff sets the resubscription backoff bounds.
func WithReconnectBackoff(initial, max time.Duration) Option {
	return func(c *Client) error {
		if initial <= 0 || max < initial {
			return fmt.Errorf("invalid reconnect backoff %s..%s", initial, max)
		}
		c.reconnectInitial, c.reconnectMax = initial, max
		return nil
	}
}

// WithRealtime receives change events over the WebSocket endpoint at url
// instead of the store's own feed.
func WithRealtime(url string) Option {
	return func(c *Client) error {
		c.realtimeURL = url
		return nil
	}
}

// withExecutor replaces the default shard executor; used by tests.
func withExecutor(e executor) Option {
	return func(c *Client) error {
		c.exec = e
		return nil
	}
}
