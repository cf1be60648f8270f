package client

import (
	"errors"

	interrors "github.com/cbbshop1/solace-sentience/internal/errors"
	"github.com/cbbshop1/solace-sentience/internal/shardqueue"
	"github.com/cbbshop1/solace-sentience/internal/store"
)

// ErrBackPressure is returned when the client's internal shard queue is full.
var ErrBackPressure = shardqueue.ErrQueueFull

// IsBackPressure reports whether err is a back-pressure error.
func IsBackPressure(err error) bool { return errors.Is(err, ErrBackPressure) }

// ErrReplyPending is returned by SendAndWait when the message was accepted
// but no reply arrived before the context ended.
var ErrReplyPending = errors.New("reply not received yet")

// Re-exported so callers compare against a single symbol.
var (
	ErrNotFound             = store.ErrNotFound
	ErrNoActiveConversation = interrors.ErrNoActiveConversation
	ErrSendInFlight         = interrors.ErrSendInFlight
	ErrEmptyMessage         = interrors.ErrEmptyMessage
)

type (
	FetchError        = interrors.FetchError
	SubscriptionError = interrors.SubscriptionError
	SendError         = interrors.SendError
	MutationError     = interrors.MutationError
	ClassifiedError   = interrors.ClassifiedError
)

// IsRecoverable reports whether err is a transient backend failure worth retrying.
func IsRecoverable(err error) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Category == interrors.Recoverable
}
