package logsync

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbbshop1/solace-sentience/internal/job"
	"github.com/cbbshop1/solace-sentience/internal/notify"
	"github.com/cbbshop1/solace-sentience/internal/shardqueue"
	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/store/memstore"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

const waitFor = 2 * time.Second

// gatedStore holds List results until the gate for that conversation is opened.
// The rows are read before blocking, so a gated fetch returns what the store
// held when it was issued.
type gatedStore struct {
	store.Store
	mu      sync.Mutex
	gates   map[string]chan struct{}
	subGate chan struct{}
	fail    atomic.Bool
}

func (g *gatedStore) gate(id string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.gates == nil {
		g.gates = map[string]chan struct{}{}
	}
	ch, ok := g.gates[id]
	if !ok {
		ch = make(chan struct{})
		g.gates[id] = ch
	}
	return ch
}

func (g *gatedStore) hold(id string) { g.gate(id) }

func (g *gatedStore) release(id string) { close(g.gate(id)) }

func (g *gatedStore) Logs() store.Logs { return gatedLogs{Logs: g.Store.Logs(), g: g} }

func (g *gatedStore) Feed() store.Feed { return gatedFeed{Feed: g.Store.Feed(), g: g} }

// holdSubscribe makes Subscribe wait until the returned func is called.
func (g *gatedStore) holdSubscribe() func() {
	ch := make(chan struct{})
	g.mu.Lock()
	g.subGate = ch
	g.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

type gatedFeed struct {
	store.Feed
	g *gatedStore
}

func (f gatedFeed) Subscribe(ctx context.Context, filter store.Filter) (store.Subscription, error) {
	f.g.mu.Lock()
	ch := f.g.subGate
	f.g.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.Feed.Subscribe(ctx, filter)
}

type gatedLogs struct {
	store.Logs
	g *gatedStore
}

func (l gatedLogs) List(ctx context.Context, conversationID string) ([]types.LogEntry, error) {
	if l.g.fail.Load() {
		return nil, stderrors.New("store unreachable")
	}
	rows, err := l.Logs.List(ctx, conversationID)
	l.g.mu.Lock()
	ch, held := l.g.gates[conversationID]
	l.g.mu.Unlock()
	if held {
		// Ignores ctx so a superseded fetch still completes and must be discarded.
		<-ch
	}
	return rows, err
}

type fixture struct {
	mem  *memstore.Store
	gs   *gatedStore
	sync *Synchronizer
	bus  *notify.Bus
	conv types.Conversation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{mem: memstore.New(), bus: notify.NewBus(16)}
	f.gs = &gatedStore{Store: f.mem}
	ex := shardqueue.NewShardExecutor(shardqueue.Config{Shards: 2})
	t.Cleanup(ex.Stop)

	var err error
	f.conv, err = f.mem.Conversations().Create(context.Background(), types.StringPtr("main"))
	require.NoError(t, err)

	f.sync = New(Config{
		Store:            f.gs,
		Executor:         ex,
		Notifier:         f.bus,
		ReconnectInitial: time.Millisecond,
		ReconnectMax:     10 * time.Millisecond,
	})
	t.Cleanup(f.sync.Close)
	return f
}

func (f *fixture) insert(t *testing.T, convID, text string) types.LogEntry {
	t.Helper()
	e, err := f.mem.Logs().Insert(context.Background(), types.LogEntry{
		ConversationID: convID,
		UserText:       types.StringPtr(text),
		Affect:         types.NeutralAffect(),
	})
	require.NoError(t, err)
	return e
}

func (f *fixture) waitConnected(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.sync.ConnectionState() == types.StateConnected
	}, waitFor, 5*time.Millisecond)
}

func entryIDs(es []types.LogEntry) []int64 {
	out := make([]int64, 0, len(es))
	for _, e := range es {
		out = append(out, e.ID)
	}
	return out
}

func TestSynchronizer_FetchThenDuplicateInsert(t *testing.T) {
	f := newFixture(t)
	first := f.insert(t, f.conv.ID, "hello")

	require.NoError(t, f.sync.Activate(context.Background(), f.conv.ID))
	f.waitConnected(t)
	require.Len(t, f.sync.Entries(), 1)

	// Re-deliver the same row as a push insert.
	require.NoError(t, f.sync.cfg.Executor.Barrier(context.Background(), job.KeyLogSync))
	f.sync.mu.Lock()
	f.sync.applyLocked(types.Change{Op: types.OpInsert, Table: types.TableLogs, After: mustJSON(t, first)})
	f.sync.mu.Unlock()

	assert.Equal(t, []int64{first.ID}, entryIDs(f.sync.Entries()))
}

func TestSynchronizer_UpdateBeforeFetchWins(t *testing.T) {
	f := newFixture(t)
	e := f.insert(t, f.conv.ID, "draft")
	f.gs.hold(f.conv.ID)

	require.NoError(t, f.sync.Activate(context.Background(), f.conv.ID))
	assert.True(t, f.sync.Loading())
	require.Eventually(t, func() bool { return f.mem.Subscribers() == 1 }, waitFor, 5*time.Millisecond)

	e.AIResponse = types.StringPtr("reply")
	e.TrustScore = types.Float64Ptr(0.9)
	_, err := f.mem.Logs().Update(context.Background(), e)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.sync.Entries()) == 1 }, waitFor, 5*time.Millisecond)

	f.gs.release(f.conv.ID)
	f.waitConnected(t)

	got := f.sync.Entries()
	require.Len(t, got, 1)
	require.NotNil(t, got[0].AIResponse)
	assert.Equal(t, "reply", *got[0].AIResponse)
	assert.Equal(t, 0.9, f.sync.CurrentTrust())
	assert.False(t, f.sync.Loading())
}

func TestSynchronizer_OrderedByIDAndDeletes(t *testing.T) {
	f := newFixture(t)
	a := f.insert(t, f.conv.ID, "one")
	require.NoError(t, f.sync.Activate(context.Background(), f.conv.ID))
	f.waitConnected(t)

	b := f.insert(t, f.conv.ID, "two")
	c := f.insert(t, f.conv.ID, "three")
	require.Eventually(t, func() bool { return len(f.sync.Entries()) == 3 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []int64{a.ID, b.ID, c.ID}, entryIDs(f.sync.Entries()))
	assert.Equal(t, c.ID, f.sync.LatestID())

	require.NoError(t, f.mem.Logs().Delete(context.Background(), b.ID))
	require.Eventually(t, func() bool { return len(f.sync.Entries()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []int64{a.ID, c.ID}, entryIDs(f.sync.Entries()))
}

func TestSynchronizer_IgnoresOtherConversations(t *testing.T) {
	f := newFixture(t)
	other, err := f.mem.Conversations().Create(context.Background(), types.StringPtr("other"))
	require.NoError(t, err)

	require.NoError(t, f.sync.Activate(context.Background(), f.conv.ID))
	f.waitConnected(t)
	f.insert(t, other.ID, "elsewhere")
	mine := f.insert(t, f.conv.ID, "here")

	require.Eventually(t, func() bool { return len(f.sync.Entries()) == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []int64{mine.ID}, entryIDs(f.sync.Entries()))
}

func TestSynchronizer_NeutralDefaultsWhenEmpty(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sync.Activate(context.Background(), f.conv.ID))
	f.waitConnected(t)

	assert.Empty(t, f.sync.Entries())
	assert.Equal(t, types.NeutralAffect(), f.sync.CurrentAffect())
	assert.Equal(t, types.NeutralTrust, f.sync.CurrentTrust())
	assert.Equal(t, int64(0), f.sync.LatestID())
	assert.Empty(t, f.sync.AffectHistory(TrendWindow))
}

func TestSynchronizer_AffectHistoryWindow(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 20; i++ {
		e := types.LogEntry{ConversationID: f.conv.ID, Affect: types.NeutralAffect()}
		e.Affect.Fear = float64(i) / 20
		_, err := f.mem.Logs().Insert(context.Background(), e)
		require.NoError(t, err)
	}
	require.NoError(t, f.sync.Activate(context.Background(), f.conv.ID))
	f.waitConnected(t)

	hist := f.sync.AffectHistory(TrendWindow)
	require.Len(t, hist, TrendWindow)
	assert.InDelta(t, 5.0/20, hist[0].Fear, 1e-9)
	assert.InDelta(t, 19.0/20, hist[len(hist)-1].Fear, 1e-9)
	assert.Equal(t, hist[len(hist)-1], f.sync.CurrentAffect())
}

func TestSynchronizer_StaleFetchDiscarded(t *testing.T) {
	f := newFixture(t)
	f.insert(t, f.conv.ID, "old conversation")
	second, err := f.mem.Conversations().Create(context.Background(), types.StringPtr("second"))
	require.NoError(t, err)
	fresh := f.insert(t, second.ID, "new conversation")

	f.gs.hold(f.conv.ID)
	require.NoError(t, f.sync.Activate(context.Background(), f.conv.ID))
	require.NoError(t, f.sync.Activate(context.Background(), second.ID))
	f.waitConnected(t)

	f.gs.release(f.conv.ID)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, f.sync.cfg.Executor.Barrier(context.Background(), job.KeyLogSync))

	assert.Equal(t, second.ID, f.sync.ActiveID())
	assert.Equal(t, []int64{fresh.ID}, entryIDs(f.sync.Entries()))
}

func TestSynchronizer_ActivateEmptyIsIdle(t *testing.T) {
	f := newFixture(t)
	f.insert(t, f.conv.ID, "hello")
	require.NoError(t, f.sync.Activate(context.Background(), f.conv.ID))
	f.waitConnected(t)

	require.NoError(t, f.sync.Activate(context.Background(), ""))
	assert.Empty(t, f.sync.Entries())
	assert.Equal(t, types.StateDisconnected, f.sync.ConnectionState())
	assert.False(t, f.sync.Loading())
	require.Eventually(t, func() bool { return f.mem.Subscribers() == 0 }, waitFor, 5*time.Millisecond)
}

func TestSynchronizer_FetchFailureNotifies(t *testing.T) {
	f := newFixture(t)
	f.gs.holdSubscribe()
	f.gs.fail.Store(true)

	require.NoError(t, f.sync.Activate(context.Background(), f.conv.ID))
	select {
	case n := <-f.bus.C():
		assert.Equal(t, notify.LevelError, n.Level)
		assert.Equal(t, msgFetchFailed, n.Description)
	case <-time.After(waitFor):
		t.Fatal("no notification")
	}
	assert.Equal(t, types.StateDisconnected, f.sync.ConnectionState())
	assert.False(t, f.sync.Loading())
}

func TestSynchronizer_ObserverSeesMergedEntries(t *testing.T) {
	f := newFixture(t)
	var seen []int64
	var mu sync.Mutex
	f.sync.Observe(func(e types.LogEntry) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.ID)
	})
	a := f.insert(t, f.conv.ID, "fetched")
	require.NoError(t, f.sync.Activate(context.Background(), f.conv.ID))
	f.waitConnected(t)
	b := f.insert(t, f.conv.ID, "pushed")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, waitFor, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int64{a.ID, b.ID}, seen)
}

func TestSynchronizer_RefetchesAfterReconnect(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sync.Activate(context.Background(), f.conv.ID))
	f.waitConnected(t)

	f.mem.DropSubscriptions(stderrors.New("connection reset"))
	missed := f.insert(t, f.conv.ID, "while away")

	require.Eventually(t, func() bool {
		es := f.sync.Entries()
		return len(es) == 1 && es[0].ID == missed.ID
	}, waitFor, 5*time.Millisecond)
	f.waitConnected(t)
}

func TestSynchronizer_RowWrittenBeforeAcknowledgementIsMerged(t *testing.T) {
	f := newFixture(t)
	open := f.gs.holdSubscribe()

	require.NoError(t, f.sync.Activate(context.Background(), f.conv.ID))
	require.Eventually(t, func() bool { return !f.sync.Loading() }, waitFor, 5*time.Millisecond)
	require.Empty(t, f.sync.Entries())

	// Committed after the fetch read the table and before any subscription exists.
	late := f.insert(t, f.conv.ID, "between fetch and subscribe")
	open()

	f.waitConnected(t)
	assert.Equal(t, []int64{late.ID}, entryIDs(f.sync.Entries()))
}

func TestSynchronizer_RefreshRecoversFromFailedFetch(t *testing.T) {
	f := newFixture(t)
	e := f.insert(t, f.conv.ID, "hello")
	f.gs.fail.Store(true)

	require.NoError(t, f.sync.Activate(context.Background(), f.conv.ID))
	select {
	case n := <-f.bus.C():
		assert.Equal(t, msgFetchFailed, n.Description)
	case <-time.After(waitFor):
		t.Fatal("no notification")
	}

	f.gs.fail.Store(false)
	require.NoError(t, f.sync.Refresh(context.Background()))
	f.waitConnected(t)
	assert.Equal(t, []int64{e.ID}, entryIDs(f.sync.Entries()))
	assert.False(t, f.sync.Loading())
}

func TestSynchronizer_RefreshWhileIdleIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sync.Refresh(context.Background()))
	require.NoError(t, f.sync.Activate(context.Background(), ""))
	require.NoError(t, f.sync.Refresh(context.Background()))
	assert.Equal(t, types.StateDisconnected, f.sync.ConnectionState())
}

func TestSynchronizer_KeyOnlyDeleteRemovesEntry(t *testing.T) {
	f := newFixture(t)
	a := f.insert(t, f.conv.ID, "keep")
	b := f.insert(t, f.conv.ID, "drop")
	require.NoError(t, f.sync.Activate(context.Background(), f.conv.ID))
	f.waitConnected(t)

	require.NoError(t, f.sync.cfg.Executor.Barrier(context.Background(), job.KeyLogSync))
	f.sync.mu.Lock()
	f.sync.applyLocked(types.Change{Op: types.OpDelete, Table: types.TableLogs, Before: mustJSON(t, map[string]int64{"id": b.ID})})
	f.sync.mu.Unlock()

	assert.Equal(t, []int64{a.ID}, entryIDs(f.sync.Entries()))
}
