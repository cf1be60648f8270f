package directory

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbbshop1/solace-sentience/internal/errors"
	"github.com/cbbshop1/solace-sentience/internal/job"
	"github.com/cbbshop1/solace-sentience/internal/notify"
	"github.com/cbbshop1/solace-sentience/internal/shardqueue"
	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/store/memstore"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

var errUnreachable = stderrors.New("store unreachable")

// faultyStore injects failures into selected conversation operations.
type faultyStore struct {
	store.Store
	failList   atomic.Bool
	failCreate atomic.Bool
	failTitle  atomic.Bool

	// subGate, when set before Start, holds Subscribe until closed.
	subGate chan struct{}
}

func (f *faultyStore) Feed() store.Feed { return gatedFeed{Feed: f.Store.Feed(), gate: f.subGate} }

type gatedFeed struct {
	store.Feed
	gate chan struct{}
}

func (g gatedFeed) Subscribe(ctx context.Context, filter store.Filter) (store.Subscription, error) {
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.Feed.Subscribe(ctx, filter)
}

func (f *faultyStore) Conversations() store.Conversations {
	return faultyConversations{Conversations: f.Store.Conversations(), f: f}
}

type faultyConversations struct {
	store.Conversations
	f *faultyStore
}

func (c faultyConversations) ListActive(ctx context.Context) ([]types.Conversation, error) {
	if c.f.failList.Load() {
		return nil, errUnreachable
	}
	return c.Conversations.ListActive(ctx)
}

func (c faultyConversations) Create(ctx context.Context, title *string) (types.Conversation, error) {
	if c.f.failCreate.Load() {
		return types.Conversation{}, errUnreachable
	}
	return c.Conversations.Create(ctx, title)
}

func (c faultyConversations) SetTitle(ctx context.Context, id, title string) (types.Conversation, error) {
	if c.f.failTitle.Load() {
		return types.Conversation{}, errUnreachable
	}
	return c.Conversations.SetTitle(ctx, id, title)
}

type fixture struct {
	mem      *memstore.Store
	faulty   *faultyStore
	dir      *Directory
	bus      *notify.Bus
	mu       sync.Mutex
	selected []string
}

func newFixture(t *testing.T, tweak func(*Config)) *fixture {
	t.Helper()
	f := &fixture{mem: memstore.New(), bus: notify.NewBus(16)}
	f.faulty = &faultyStore{Store: f.mem}
	ex := shardqueue.NewShardExecutor(shardqueue.Config{Shards: 2})
	t.Cleanup(ex.Stop)

	cfg := Config{
		Store:    f.faulty,
		Executor: ex,
		Notifier: f.bus,
		OnSelect: func(id string) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.selected = append(f.selected, id)
		},
		ReconnectInitial: time.Millisecond,
		ReconnectMax:     10 * time.Millisecond,
		Now:              func() time.Time { return time.Date(2026, 3, 7, 9, 0, 0, 0, time.Local) },
	}
	if tweak != nil {
		tweak(&cfg)
	}
	f.dir = New(cfg)
	t.Cleanup(f.dir.Close)
	return f
}

func (f *fixture) selections() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.selected...)
}

func seed(t *testing.T, s store.Store, titles ...string) []types.Conversation {
	t.Helper()
	var out []types.Conversation
	for _, title := range titles {
		cv, err := s.Conversations().Create(context.Background(), types.StringPtr(title))
		require.NoError(t, err)
		out = append(out, cv)
		time.Sleep(2 * time.Millisecond)
	}
	return out
}

func ids(cs []types.Conversation) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}

func TestDirectory_StartLoadsNewestFirstAndAutoSelects(t *testing.T) {
	f := newFixture(t, nil)
	seeded := seed(t, f.mem, "a", "b", "c")

	require.NoError(t, f.dir.Start(context.Background()))

	assert.Equal(t, []string{seeded[2].ID, seeded[1].ID, seeded[0].ID}, ids(f.dir.Conversations()))
	assert.Equal(t, seeded[2].ID, f.dir.Active())
	assert.Equal(t, []string{seeded[2].ID}, f.selections())
	assert.False(t, f.dir.Loading())
}

func TestDirectory_RestoresPreviousSelection(t *testing.T) {
	mem := memstore.New()
	seeded := seed(t, mem, "a", "b")
	f := newFixture(t, func(c *Config) { c.Restore = seeded[0].ID })
	f.faulty.Store = mem

	require.NoError(t, f.dir.Start(context.Background()))
	assert.Equal(t, seeded[0].ID, f.dir.Active())
}

func TestDirectory_FetchFailureKeepsStateAndNotifies(t *testing.T) {
	f := newFixture(t, nil)
	f.faulty.failList.Store(true)

	convs, err := f.dir.List(context.Background())
	var fe *errors.FetchError
	require.True(t, stderrors.As(err, &fe), "got %v", err)
	assert.Empty(t, convs)

	n := <-f.bus.C()
	assert.Equal(t, notify.LevelError, n.Level)
	assert.Equal(t, msgFetchFailed, n.Description)
}

func TestDirectory_EventReconciliation(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.dir.Start(context.Background()))
	require.Eventually(t, func() bool { return f.mem.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	other, err := f.mem.Conversations().Create(ctx, types.StringPtr("from another device"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := f.dir.Get(other.ID)
		return ok
	}, time.Second, 5*time.Millisecond)

	_, err = f.mem.Conversations().SetTitle(ctx, other.ID, "renamed elsewhere")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		cv, _ := f.dir.Get(other.ID)
		return cv.DisplayTitle() == "renamed elsewhere"
	}, time.Second, 5*time.Millisecond)

	_, err = f.mem.Conversations().SetArchived(ctx, other.ID, true)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := f.dir.Get(other.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestDirectory_DuplicateEventsArePureMerge(t *testing.T) {
	f := newFixture(t, nil)
	cv := types.Conversation{ID: "c1", CreatedAt: time.Now(), Title: types.StringPtr("t")}

	for i := 0; i < 2; i++ {
		require.NoError(t, f.dir.do(context.Background(), func() { f.dir.apply(types.OpInsert, cv) }))
	}
	assert.Len(t, f.dir.Conversations(), 1)

	for i := 0; i < 2; i++ {
		require.NoError(t, f.dir.do(context.Background(), func() { f.dir.apply(types.OpDelete, cv) }))
	}
	assert.Empty(t, f.dir.Conversations())

	archived := cv
	archived.IsArchived = true
	require.NoError(t, f.dir.do(context.Background(), func() { f.dir.apply(types.OpInsert, archived) }))
	assert.Empty(t, f.dir.Conversations())
}

func TestDirectory_CreateSelectsAndDefaultsTitle(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.dir.Start(context.Background()))

	cv, err := f.dir.Create(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, "Session 3/7/2026", cv.DisplayTitle())
	assert.Equal(t, cv.ID, f.dir.Active())
	assert.Equal(t, []string{cv.ID}, ids(f.dir.Conversations()))
}

func TestDirectory_CreateFailureLeavesSelection(t *testing.T) {
	f := newFixture(t, nil)
	seeded := seed(t, f.mem, "a")
	require.NoError(t, f.dir.Start(context.Background()))
	f.faulty.failCreate.Store(true)

	_, err := f.dir.Create(context.Background(), "new")
	var me *errors.MutationError
	require.True(t, stderrors.As(err, &me))
	assert.Equal(t, seeded[0].ID, f.dir.Active())
	assert.Equal(t, msgCreateFailed, (<-f.bus.C()).Description)
}

func TestDirectory_CreateThenArchiveSoleConversation(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.dir.Start(context.Background()))

	first, err := f.dir.Create(context.Background(), "only")
	require.NoError(t, err)
	require.NoError(t, f.dir.Archive(context.Background(), first.ID))

	convs := f.dir.Conversations()
	require.Len(t, convs, 1)
	assert.NotEqual(t, first.ID, convs[0].ID)
	assert.Equal(t, convs[0].ID, f.dir.Active())
}

func TestDirectory_ArchiveActiveSelectsFirstRemaining(t *testing.T) {
	f := newFixture(t, nil)
	seeded := seed(t, f.mem, "a", "b", "c")
	require.NoError(t, f.dir.Start(context.Background()))
	require.Equal(t, seeded[2].ID, f.dir.Active())

	require.NoError(t, f.dir.Archive(context.Background(), seeded[2].ID))
	assert.Equal(t, seeded[1].ID, f.dir.Active())
	assert.Equal(t, []string{seeded[1].ID, seeded[0].ID}, ids(f.dir.Conversations()))

	// Archiving a non-active conversation leaves the selection alone.
	require.NoError(t, f.dir.Archive(context.Background(), seeded[0].ID))
	assert.Equal(t, seeded[1].ID, f.dir.Active())
}

func TestDirectory_ArchiveIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	seeded := seed(t, f.mem, "a", "b")
	require.NoError(t, f.dir.Start(context.Background()))

	require.NoError(t, f.dir.Archive(context.Background(), seeded[0].ID))
	require.NoError(t, f.dir.Archive(context.Background(), seeded[0].ID))
	assert.Equal(t, []string{seeded[1].ID}, ids(f.dir.Conversations()))
}

func TestDirectory_ArchiveMissingFails(t *testing.T) {
	f := newFixture(t, nil)
	err := f.dir.Archive(context.Background(), "does-not-exist")
	var me *errors.MutationError
	require.True(t, stderrors.As(err, &me))
	assert.Equal(t, msgArchiveFailed, (<-f.bus.C()).Description)
}

func TestDirectory_Rename(t *testing.T) {
	f := newFixture(t, nil)
	seeded := seed(t, f.mem, "a")
	require.NoError(t, f.dir.Start(context.Background()))

	require.NoError(t, f.dir.Rename(context.Background(), seeded[0].ID, "  better  "))
	cv, _ := f.dir.Get(seeded[0].ID)
	assert.Equal(t, "better", cv.DisplayTitle())

	f.faulty.failTitle.Store(true)
	require.NoError(t, f.dir.Rename(context.Background(), seeded[0].ID, "   "), "blank rename is a no-op")
	require.Error(t, f.dir.Rename(context.Background(), seeded[0].ID, "worse"))
}

func TestDirectory_SelectDoesNotValidate(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.dir.Select(context.Background(), "ghost"))
	assert.Equal(t, "ghost", f.dir.Active())
	require.NoError(t, f.dir.Select(context.Background(), "ghost"))
	assert.Equal(t, []string{"ghost"}, f.selections(), "reselecting the same id is not a change")
}

func TestDirectory_ReloadsAfterReconnect(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.dir.Start(context.Background()))
	require.Eventually(t, func() bool { return f.mem.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	f.mem.DropSubscriptions(stderrors.New("connection reset"))
	// Written while no subscription exists; only the reload can surface it.
	missed, err := f.mem.Conversations().Create(context.Background(), types.StringPtr("missed"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := f.dir.Get(missed.ID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDirectory_ConversationWrittenBeforeAcknowledgementIsLoaded(t *testing.T) {
	f := newFixture(t, nil)
	seeded := seed(t, f.mem, "a")
	f.faulty.subGate = make(chan struct{})

	require.NoError(t, f.dir.Start(context.Background()))
	require.Equal(t, []string{seeded[0].ID}, ids(f.dir.Conversations()))

	// Written after the initial load and before the subscription exists.
	late, err := f.mem.Conversations().Create(context.Background(), types.StringPtr("late"))
	require.NoError(t, err)
	close(f.faulty.subGate)

	require.Eventually(t, func() bool {
		_, ok := f.dir.Get(late.ID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, seeded[0].ID, f.dir.Active())
}

func TestDirectory_SubscriptionLossNotifiesOnce(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.dir.Start(context.Background()))
	require.Eventually(t, func() bool { return f.mem.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	f.mem.DropSubscriptions(stderrors.New("connection reset"))
	select {
	case n := <-f.bus.C():
		assert.Equal(t, notify.LevelError, n.Level)
		assert.Equal(t, msgStreamLost, n.Description)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification")
	}

	require.Eventually(t, func() bool { return f.mem.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, f.dir.cfg.Executor.Barrier(context.Background(), job.KeyDirectory))
	select {
	case n := <-f.bus.C():
		t.Fatalf("unexpected notification %q", n.Description)
	default:
	}
}
