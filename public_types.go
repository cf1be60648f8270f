package client

import (
	"github.com/cbbshop1/solace-sentience/internal/notify"
	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

// Public type aliases so SDK consumers can import only the client package.
type (
	// Domain entities
	Conversation   = types.Conversation
	LogEntry       = types.LogEntry
	AffectVector   = types.AffectVector
	Reasoning      = types.Reasoning
	PendingMessage = types.PendingMessage

	// Live state
	ConnectionState = types.ConnectionState

	// Backend responses
	ExtractResponse = types.ExtractResponse

	// Boundaries
	Store        = store.Store
	Notifier     = notify.Notifier
	Notification = notify.Notification
)

const (
	StateConnected    = types.StateConnected
	StateSyncing      = types.StateSyncing
	StateDisconnected = types.StateDisconnected
)

// SessionState remembers the last active conversation between runs.
type SessionState interface {
	LastActive() (string, error)
	SetLastActive(id string) error
}

// View is a snapshot of the active conversation as a chat screen shows it.
type View struct {
	ConversationID string
	Entries        []LogEntry
	// Pending is the optimistic message for this conversation, if any.
	Pending *PendingMessage
	Affect  AffectVector
	Trust   float64
	// Trend holds the affect vectors of the most recent entries, oldest first.
	Trend     []AffectVector
	State     ConnectionState
	Loading   bool
	IsSending bool
}
