package client

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbbshop1/solace-sentience/internal/devbackend"
	"github.com/cbbshop1/solace-sentience/internal/notify"
	"github.com/cbbshop1/solace-sentience/internal/shardqueue"
	"github.com/cbbshop1/solace-sentience/internal/state"
	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/store/memstore"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

const waitFor = 3 * time.Second

type stubExec struct{ stops int }

func (s *stubExec) Submit(context.Context, string, shardqueue.Job) error { return nil }
func (s *stubExec) Barrier(context.Context, string) error                { return nil }
func (s *stubExec) Stop()                                                { s.stops++ }

func TestIsBackPressure(t *testing.T) {
	if !IsBackPressure(ErrBackPressure) {
		t.Fatalf("expected back pressure")
	}
	if IsBackPressure(errors.New("other")) {
		t.Fatalf("unexpected back pressure detection")
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := &stubExec{}
	c := &Client{exec: s}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if s.stops != 1 {
		t.Fatalf("executor stop called %d times", s.stops)
	}
}

func TestNewPanicsWithoutStore(t *testing.T) {
	assert.Panics(t, func() { _, _ = New(nil, "") })
}

type env struct {
	mem     *memstore.Store
	backend *devbackend.Server
	srv     *httptest.Server
	bus     *notify.Bus
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{mem: memstore.New(), bus: notify.NewBus(32)}
	e.backend = devbackend.New(devbackend.Config{Store: e.mem, ReplyDelay: 20 * time.Millisecond})
	e.srv = httptest.NewServer(e.backend.Handler())
	t.Cleanup(func() {
		e.srv.Close()
		e.backend.Close()
	})
	return e
}

func (e *env) client(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithNotifier(e.bus), WithReconnectBackoff(10*time.Millisecond, 50*time.Millisecond)}, opts...)
	c, err := New(e.mem, e.srv.URL, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_SendRoundTrip(t *testing.T) {
	e := newEnv(t)
	c := e.client(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	cv, err := c.Create(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, cv.ID, c.Active())
	assert.True(t, strings.HasPrefix(cv.DisplayTitle(), "Session "))

	require.NoError(t, c.Send(ctx, cv.ID, "  I feel scared to say this  "))

	require.Eventually(t, func() bool {
		v := c.View()
		return len(v.Entries) == 1 && v.Entries[0].AIResponse != nil && v.Pending == nil && v.State == StateConnected
	}, waitFor, 10*time.Millisecond)

	v := c.View()
	assert.Equal(t, "I feel scared to say this", *v.Entries[0].UserText)
	assert.False(t, v.IsSending)
	assert.Len(t, v.Trend, 1)
}

func TestClient_SendWithoutSelection(t *testing.T) {
	e := newEnv(t)
	c := e.client(t)
	err := c.Send(context.Background(), "", "hello")
	assert.ErrorIs(t, err, ErrNoActiveConversation)
}

func TestClient_StartSelectsNewest(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.mem.Conversations().Create(ctx, types.StringPtr("older"))
	require.NoError(t, err)
	newer, err := e.mem.Conversations().Create(ctx, types.StringPtr("newer"))
	require.NoError(t, err)

	c := e.client(t)
	require.NoError(t, c.Start(ctx))
	assert.Equal(t, newer.ID, c.Active())
	assert.Len(t, c.Conversations(), 2)
}

func TestClient_RestoresLastActive(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	older, err := e.mem.Conversations().Create(ctx, types.StringPtr("older"))
	require.NoError(t, err)
	_, err = e.mem.Conversations().Create(ctx, types.StringPtr("newer"))
	require.NoError(t, err)

	session := state.Open(filepath.Join(t.TempDir(), "session.bolt"))
	first := e.client(t, WithSessionState(session))
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.Select(ctx, older.ID))
	require.NoError(t, first.Close())

	second := e.client(t, WithSessionState(session))
	require.NoError(t, second.Start(ctx))
	assert.Equal(t, older.ID, second.Active())
}

// flakyLogs fails log listing while failList is set.
type flakyLogs struct {
	store.Store
	failList atomic.Bool
}

func (f *flakyLogs) Logs() store.Logs { return flakyLogList{Logs: f.Store.Logs(), f: f} }

type flakyLogList struct {
	store.Logs
	f *flakyLogs
}

func (l flakyLogList) List(ctx context.Context, conversationID string) ([]types.LogEntry, error) {
	if l.f.failList.Load() {
		return nil, errors.New("store unreachable")
	}
	return l.Logs.List(ctx, conversationID)
}

func TestClient_RefreshRetriesFailedLogFetch(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cv, err := e.mem.Conversations().Create(ctx, types.StringPtr("only"))
	require.NoError(t, err)
	entry, err := e.mem.Logs().Insert(ctx, types.LogEntry{ConversationID: cv.ID, UserText: types.StringPtr("hi"), Affect: types.NeutralAffect()})
	require.NoError(t, err)

	fs := &flakyLogs{Store: e.mem}
	fs.failList.Store(true)
	c, err := New(fs, e.srv.URL, WithNotifier(e.bus), WithReconnectBackoff(10*time.Millisecond, 50*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Start(ctx))
	require.Equal(t, cv.ID, c.Active())

	deadline := time.After(waitFor)
	for seen := false; !seen; {
		select {
		case n := <-e.bus.C():
			seen = n.Description == "Failed to fetch conversation logs"
		case <-deadline:
			t.Fatal("no fetch failure notification")
		}
	}

	fs.failList.Store(false)
	require.NoError(t, c.Refresh(ctx))
	require.Eventually(t, func() bool {
		v := c.View()
		return v.State == StateConnected && len(v.Entries) == 1 && v.Entries[0].ID == entry.ID
	}, waitFor, 10*time.Millisecond)
}

func TestClient_ReselectRefetchesLog(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cv, err := e.mem.Conversations().Create(ctx, types.StringPtr("only"))
	require.NoError(t, err)

	fs := &flakyLogs{Store: e.mem}
	fs.failList.Store(true)
	c, err := New(fs, e.srv.URL, WithNotifier(e.bus), WithReconnectBackoff(10*time.Millisecond, 50*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Start(ctx))

	fs.failList.Store(false)
	require.NoError(t, c.Select(ctx, cv.ID))
	require.Eventually(t, func() bool { return c.ConnectionState() == StateConnected }, waitFor, 10*time.Millisecond)
}

func TestClient_ArchiveActiveMovesSelection(t *testing.T) {
	e := newEnv(t)
	c := e.client(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	a, err := c.Create(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, c.Archive(ctx, a.ID))
	require.NoError(t, c.Sync(ctx))

	assert.NotEqual(t, a.ID, c.Active())
	assert.NotEmpty(t, c.Active())
	for _, cv := range c.Conversations() {
		assert.NotEqual(t, a.ID, cv.ID)
	}
}

func TestClient_Export(t *testing.T) {
	e := newEnv(t)
	c := e.client(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	_, err := c.Export(t.TempDir(), true)
	assert.ErrorIs(t, err, ErrNoActiveConversation)

	cv, err := c.Create(ctx, "Night Notes")
	require.NoError(t, err)
	require.NoError(t, c.Send(ctx, cv.ID, "hello there"))
	require.Eventually(t, func() bool {
		entries := c.Entries()
		return len(entries) == 1 && entries[0].AIResponse != nil
	}, waitFor, 10*time.Millisecond)

	path, err := c.Export(t.TempDir(), false)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "night-notes-"))
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), "# Night Notes")
	assert.Contains(t, string(body), "> hello there")
	assert.NotContains(t, string(body), "Emotion State")
}

func TestClient_ExtractText(t *testing.T) {
	e := newEnv(t)
	c := e.client(t)
	res, err := c.ExtractText(context.Background(), "notes.txt", strings.NewReader("plain words"))
	require.NoError(t, err)
	assert.Equal(t, "plain words", res.Text)
}

func TestClient_RealtimeFeed(t *testing.T) {
	e := newEnv(t)
	c := e.client(t, WithRealtime(e.srv.URL+"/realtime"))
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))

	cv, err := c.Create(ctx, "over the wire")
	require.NoError(t, err)
	require.NoError(t, c.Send(ctx, cv.ID, "are you there"))

	require.Eventually(t, func() bool {
		entries := c.Entries()
		return len(entries) == 1 && entries[0].AIResponse != nil && c.ConnectionState() == StateConnected
	}, waitFor, 10*time.Millisecond)
}

func TestClient_SendAndWait(t *testing.T) {
	e := newEnv(t)
	c := e.client(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	cv, err := c.Create(ctx, "")
	require.NoError(t, err)

	first, err := c.SendAndWait(ctx, cv.ID, "same words")
	require.NoError(t, err)
	require.NotNil(t, first.AIResponse)

	// A repeated text resolves to the new entry, not the earlier one.
	second, err := c.SendAndWait(ctx, cv.ID, "same words")
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)
}

func TestClient_SendAndWaitTimesOut(t *testing.T) {
	e := &env{mem: memstore.New(), bus: notify.NewBus(32)}
	e.backend = devbackend.New(devbackend.Config{Store: e.mem, ReplyDelay: time.Hour})
	e.srv = httptest.NewServer(e.backend.Handler())
	t.Cleanup(func() {
		e.srv.Close()
		e.backend.Close()
	})
	c := e.client(t)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	cv, err := c.Create(ctx, "")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	_, err = c.SendAndWait(waitCtx, cv.ID, "still thinking?")
	assert.ErrorIs(t, err, ErrReplyPending)
}
