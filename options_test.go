package client

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/cbbshop1/solace-sentience/internal/notify"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestWithHTTPTimeoutAndDebugLogging(t *testing.T) {
	// timeout option sets http timeout
	c := &Client{http: &http.Client{}}
	if err := WithHTTPTimeout(5 * time.Second)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.http.Timeout != 5*time.Second {
		t.Fatalf("http timeout not set")
	}
	if err := WithHTTPTimeout(0)(c); err == nil {
		t.Fatalf("expected error for zero timeout")
	}

	// debug logging wraps transport exactly once
	var called bool
	c.http.Transport = roundTripFunc(func(r *http.Request) (*http.Response, error) {
		called = true
		return &http.Response{StatusCode: 200, Body: http.NoBody, Header: make(http.Header)}, nil
	})
	for i := 0; i < 2; i++ {
		if err := WithDebugLogging(true)(c); err != nil {
			t.Fatalf("debug logging: %v", err)
		}
	}
	dt, ok := c.http.Transport.(*debugTransport)
	if !ok {
		t.Fatalf("transport not wrapped: %T", c.http.Transport)
	}
	if _, nested := dt.base.(*debugTransport); nested {
		t.Fatalf("debug transport wrapped twice")
	}

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://example.com", strings.NewReader(""))
	if _, err := c.http.Do(req); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if !called {
		t.Fatalf("base transport not invoked")
	}
}

func TestWithReconnectBackoffValidates(t *testing.T) {
	c := &Client{}
	if err := WithReconnectBackoff(time.Second, time.Millisecond)(c); err == nil {
		t.Fatalf("expected error when max < initial")
	}
	if err := WithReconnectBackoff(10*time.Millisecond, time.Second)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.reconnectInitial != 10*time.Millisecond || c.reconnectMax != time.Second {
		t.Fatalf("backoff not applied: %s %s", c.reconnectInitial, c.reconnectMax)
	}
}

func TestWithPendingTTLAndNotifier(t *testing.T) {
	c := &Client{}
	if err := WithPendingTTL(-time.Second)(c); err == nil {
		t.Fatalf("expected error for negative ttl")
	}
	if err := WithPendingTTL(time.Minute)(c); err != nil || c.pendingTTL != time.Minute {
		t.Fatalf("pending ttl not applied: %v %s", err, c.pendingTTL)
	}
	if err := WithNotifier(nil)(c); err != nil || c.notifier != notify.Discard {
		t.Fatalf("nil notifier should discard")
	}
}

func TestWithExecutorOverridesDefault(t *testing.T) {
	s := &stubExec{}
	c := &Client{}
	if err := withExecutor(s)(c); err != nil {
		t.Fatalf("executor option: %v", err)
	}
	if c.exec != s {
		t.Fatalf("executor not applied")
	}
}
