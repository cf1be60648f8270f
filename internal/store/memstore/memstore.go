// Package memstore is an in-process store.Store. Every mutation publishes a
// change to matching subscriptions synchronously, so delivery order equals
// commit order.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

// DefaultBuffer is the per-subscription event buffer.
const DefaultBuffer = 256

// Store is an in-memory store.Store.
type Store struct {
	mu     sync.Mutex
	convs  map[string]types.Conversation
	logs   map[int64]types.LogEntry
	nextID int64
	seq    int64
	subs   map[*subscription]struct{}
	buffer int
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithBuffer sets the per-subscription buffer size.
func WithBuffer(n int) Option { return func(s *Store) { s.buffer = n } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// New returns an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		convs:  make(map[string]types.Conversation),
		logs:   make(map[int64]types.LogEntry),
		subs:   make(map[*subscription]struct{}),
		buffer: DefaultBuffer,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Conversations() store.Conversations { return conversations{s} }
func (s *Store) Logs() store.Logs                   { return logs{s} }
func (s *Store) Feed() store.Feed                   { return feed{s} }

// DropSubscriptions ends every open subscription with err, as a lost
// connection to a remote store would.
func (s *Store) DropSubscriptions(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		s.endLocked(sub, err)
	}
}

// Subscribers returns the number of open subscriptions.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// --- conversations ---

type conversations struct{ s *Store }

func (c conversations) ListActive(ctx context.Context) ([]types.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	out := make([]types.Conversation, 0, len(c.s.convs))
	for _, cv := range c.s.convs {
		if !cv.IsArchived {
			out = append(out, cv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (c conversations) Get(ctx context.Context, id string) (types.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return types.Conversation{}, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	cv, ok := c.s.convs[id]
	if !ok {
		return types.Conversation{}, store.ErrNotFound
	}
	return cv, nil
}

func (c conversations) Create(ctx context.Context, title *string) (types.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return types.Conversation{}, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	cv := types.Conversation{ID: uuid.NewString(), CreatedAt: c.s.now().UTC(), Title: cloneString(title)}
	c.s.convs[cv.ID] = cv
	c.s.publishLocked(types.TableConversations, types.OpInsert, cv.ID, nil, cv)
	return cv, nil
}

func (c conversations) SetArchived(ctx context.Context, id string, archived bool) (types.Conversation, error) {
	return c.mutate(ctx, id, func(cv *types.Conversation) { cv.IsArchived = archived })
}

func (c conversations) SetTitle(ctx context.Context, id, title string) (types.Conversation, error) {
	return c.mutate(ctx, id, func(cv *types.Conversation) { cv.Title = types.StringPtr(title) })
}

func (c conversations) mutate(ctx context.Context, id string, fn func(*types.Conversation)) (types.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return types.Conversation{}, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	before, ok := c.s.convs[id]
	if !ok {
		return types.Conversation{}, store.ErrNotFound
	}
	after := before
	after.Title = cloneString(before.Title)
	fn(&after)
	c.s.convs[id] = after
	c.s.publishLocked(types.TableConversations, types.OpUpdate, id, before, after)
	return after, nil
}

// --- logs ---

type logs struct{ s *Store }

func (l logs) List(ctx context.Context, conversationID string) ([]types.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	var out []types.LogEntry
	for _, e := range l.s.logs {
		if e.ConversationID == conversationID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l logs) Insert(ctx context.Context, e types.LogEntry) (types.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return types.LogEntry{}, err
	}
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	l.s.nextID++
	e.ID = l.s.nextID
	e.CreatedAt = l.s.now().UTC()
	l.s.logs[e.ID] = e
	l.s.publishLocked(types.TableLogs, types.OpInsert, e.ConversationID, nil, e)
	return e, nil
}

func (l logs) Update(ctx context.Context, e types.LogEntry) (types.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return types.LogEntry{}, err
	}
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	before, ok := l.s.logs[e.ID]
	if !ok {
		return types.LogEntry{}, store.ErrNotFound
	}
	e.ConversationID = before.ConversationID
	e.CreatedAt = before.CreatedAt
	l.s.logs[e.ID] = e
	l.s.publishLocked(types.TableLogs, types.OpUpdate, e.ConversationID, before, e)
	return e, nil
}

func (l logs) Delete(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	before, ok := l.s.logs[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(l.s.logs, id)
	l.s.publishLocked(types.TableLogs, types.OpDelete, before.ConversationID, before, nil)
	return nil
}

// --- feed ---

type feed struct{ s *Store }

type subscription struct {
	*store.Pipe
	s      *Store
	filter store.Filter
}

func (f feed) Subscribe(ctx context.Context, filter store.Filter) (store.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &subscription{Pipe: store.NewPipe(f.s.buffer), s: f.s, filter: filter}
	f.s.mu.Lock()
	f.s.subs[sub] = struct{}{}
	f.s.mu.Unlock()
	return sub, nil
}

// Close detaches the subscription from the store.
func (sub *subscription) Close() error {
	sub.s.mu.Lock()
	defer sub.s.mu.Unlock()
	sub.s.endLocked(sub, nil)
	return nil
}

func (s *Store) endLocked(sub *subscription, err error) {
	if _, ok := s.subs[sub]; !ok {
		return
	}
	delete(s.subs, sub)
	sub.Fail(err)
	sub.CloseEvents()
}

func (s *Store) publishLocked(table types.Table, op types.Op, conversationID string, before, after any) {
	s.seq++
	c := types.Change{Seq: s.seq, Op: op, Table: table, ConversationID: conversationID}
	if before != nil {
		c.Before = mustJSON(before)
	}
	if after != nil {
		c.After = mustJSON(after)
	}
	for sub := range s.subs {
		if !sub.filter.Matches(c) {
			continue
		}
		if !sub.Offer(c) {
			s.endLocked(sub, store.ErrSlowConsumer)
		}
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.Clone(*p)
	return &v
}
