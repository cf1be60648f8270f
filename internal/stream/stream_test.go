package stream

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
	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/store/memstore"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

// flakyFeed fails the first n Subscribe calls.
type flakyFeed struct {
	store.Feed
	fails atomic.Int32
	calls atomic.Int32
}

func (f *flakyFeed) Subscribe(ctx context.Context, filter store.Filter) (store.Subscription, error) {
	f.calls.Add(1)
	if f.fails.Add(-1) >= 0 {
		return nil, stderrors.New("store unreachable")
	}
	return f.Feed.Subscribe(ctx, filter)
}

type recorder struct {
	mu      sync.Mutex
	acks    []bool
	changes []types.Change
	lost    []error
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		Acknowledged: func(_ context.Context, resumed bool) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.acks = append(r.acks, resumed)
			return nil
		},
		Change: func(_ context.Context, c types.Change) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.changes = append(r.changes, c)
			return nil
		},
		Lost: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.lost = append(r.lost, err)
		},
	}
}

func (r *recorder) snapshot() (acks []bool, changes []types.Change, lost []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.acks...), append([]types.Change(nil), r.changes...), append([]error(nil), r.lost...)
}

func TestWatcher_DeliversInOrder(t *testing.T) {
	s := memstore.New()
	rec := &recorder{}
	w := Open(Config{Feed: s.Feed(), Filter: store.Filter{Table: types.TableConversations}, Hooks: rec.hooks()})
	defer w.Close()

	require.Eventually(t, func() bool { return s.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Conversations().Create(ctx, nil)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		_, changes, _ := rec.snapshot()
		return len(changes) == 5
	}, time.Second, 5*time.Millisecond)

	acks, changes, lost := rec.snapshot()
	assert.Equal(t, []bool{false}, acks)
	assert.Empty(t, lost)
	for i := 1; i < len(changes); i++ {
		assert.Greater(t, changes[i].Seq, changes[i-1].Seq)
	}
}

func TestWatcher_RetriesSubscribe(t *testing.T) {
	s := memstore.New()
	feed := &flakyFeed{Feed: s.Feed()}
	feed.fails.Store(2)
	rec := &recorder{}
	w := Open(Config{Feed: feed, Filter: store.Filter{Table: types.TableLogs, ConversationID: "c1"}, Hooks: rec.hooks(),
		InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond})
	defer w.Close()

	require.Eventually(t, func() bool {
		acks, _, _ := rec.snapshot()
		return len(acks) == 1
	}, time.Second, 5*time.Millisecond)

	_, _, lost := rec.snapshot()
	require.Len(t, lost, 2)
	var se *errors.SubscriptionError
	assert.True(t, stderrors.As(lost[0], &se))
	assert.Equal(t, int32(3), feed.calls.Load())
}

func TestWatcher_ResubscribesAfterLoss(t *testing.T) {
	s := memstore.New()
	rec := &recorder{}
	w := Open(Config{Feed: s.Feed(), Filter: store.Filter{Table: types.TableConversations}, Hooks: rec.hooks(), ReconnectDelay: time.Millisecond})
	defer w.Close()

	require.Eventually(t, func() bool { return s.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	s.DropSubscriptions(stderrors.New("connection reset"))

	require.Eventually(t, func() bool {
		acks, _, _ := rec.snapshot()
		return len(acks) == 2
	}, time.Second, 5*time.Millisecond)

	acks, _, lost := rec.snapshot()
	assert.Equal(t, []bool{false, true}, acks)
	require.Len(t, lost, 1)
	assert.ErrorContains(t, lost[0], "connection reset")
}

func TestWatcher_ChangeErrorForcesResubscribe(t *testing.T) {
	s := memstore.New()
	var acks atomic.Int32
	w := Open(Config{Feed: s.Feed(), Filter: store.Filter{Table: types.TableConversations}, ReconnectDelay: time.Millisecond,
		Hooks: Hooks{
			Acknowledged: func(context.Context, bool) error { acks.Add(1); return nil },
			Change:       func(context.Context, types.Change) error { return stderrors.New("queue full") },
		}})
	defer w.Close()

	require.Eventually(t, func() bool { return s.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	_, err := s.Conversations().Create(context.Background(), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return acks.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestWatcher_CloseReleasesSubscription(t *testing.T) {
	s := memstore.New()
	w := Open(Config{Feed: s.Feed(), Filter: store.Filter{Table: types.TableConversations}})
	require.Eventually(t, func() bool { return s.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	w.Close()
	w.Close()
	assert.Equal(t, 0, s.Subscribers())
	select {
	case <-w.Done():
	default:
		t.Fatal("Done not closed after Close")
	}
}
