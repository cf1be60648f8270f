// Package store defines the persistent store boundary the sync engine talks
// to: filtered and ordered bulk reads, row mutations, and a change feed that
// pushes row-level insert, update and delete events.
//
// Implementations live under internal/store/<driver>/ and are checked by the
// storetest compliance suite.
package store

import (
	"context"
	"errors"

	"github.com/cbbshop1/solace-sentience/internal/types"
)

// ErrNotFound is returned when a row addressed by id does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrSlowConsumer closes a subscription whose reader fell too far behind.
var ErrSlowConsumer = errors.New("store: subscription consumer too slow")

// Store exposes the collections and the change feed.
type Store interface {
	Conversations() Conversations
	Logs() Logs
	Feed() Feed
}

// Conversations is the conversation collection.
type Conversations interface {
	// ListActive returns non-archived conversations, newest first (ties by id).
	ListActive(ctx context.Context) ([]types.Conversation, error)
	Get(ctx context.Context, id string) (types.Conversation, error)
	// Create assigns id and created_at.
	Create(ctx context.Context, title *string) (types.Conversation, error)
	SetArchived(ctx context.Context, id string, archived bool) (types.Conversation, error)
	SetTitle(ctx context.Context, id, title string) (types.Conversation, error)
}

// Logs is the log-entry collection.
type Logs interface {
	// List returns the entries of one conversation ordered by id ascending.
	List(ctx context.Context, conversationID string) ([]types.LogEntry, error)
	// Insert assigns id and created_at.
	Insert(ctx context.Context, e types.LogEntry) (types.LogEntry, error)
	// Update replaces every mutable field of the entry with e.ID.
	Update(ctx context.Context, e types.LogEntry) (types.LogEntry, error)
	Delete(ctx context.Context, id int64) error
}

// Filter selects the changes a subscription receives.
type Filter struct {
	Table types.Table
	// ConversationID, when set, restricts changes to rows of that conversation.
	ConversationID string
}

// Matches reports whether c passes the filter.
func (f Filter) Matches(c types.Change) bool {
	if c.Table != f.Table {
		return false
	}
	return f.ConversationID == "" || c.ConversationID == f.ConversationID
}

// Feed opens change subscriptions.
type Feed interface {
	// Subscribe blocks until the subscription is acknowledged: every change
	// committed after Subscribe returns is delivered, in commit order.
	Subscribe(ctx context.Context, f Filter) (Subscription, error)
}

// Subscription is an open change stream. It is owned by whoever opened it.
type Subscription interface {
	// Events is closed when the subscription ends.
	Events() <-chan types.Change
	// Done is closed when the subscription ends for any reason.
	Done() <-chan struct{}
	// Err reports why the subscription ended; nil after a clean Close.
	Err() error
	Close() error
}

// WithFeed returns s with its change feed replaced by f.
func WithFeed(s Store, f Feed) Store {
	return feedOverride{Store: s, feed: f}
}

type feedOverride struct {
	Store
	feed Feed
}

func (o feedOverride) Feed() Feed { return o.feed }
