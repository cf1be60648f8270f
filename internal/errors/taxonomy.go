package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrNoActiveConversation is returned when an operation needs a selected conversation.
	ErrNoActiveConversation = stderrors.New("no active conversation")

	// ErrSendInFlight is returned when a send is attempted while another is outstanding.
	ErrSendInFlight = stderrors.New("a message is already being sent")

	// ErrEmptyMessage is returned for messages that are blank after trimming.
	ErrEmptyMessage = stderrors.New("message is empty")

	// ErrSubscriptionClosed marks an event stream that ended without a caller asking.
	ErrSubscriptionClosed = stderrors.New("subscription closed")
)

// FetchError reports a failed bulk read.
type FetchError struct {
	Table string
	Err   error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.Table, e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// SubscriptionError reports a stream that could not be established or closed unexpectedly.
type SubscriptionError struct {
	Table string
	Err   error
}

func (e *SubscriptionError) Error() string { return fmt.Sprintf("subscribe %s: %v", e.Table, e.Err) }
func (e *SubscriptionError) Unwrap() error { return e.Err }

// SendError reports an outbound message that failed or was rejected.
type SendError struct {
	ConversationID string
	Err            error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to conversation %s: %v", e.ConversationID, e.Err)
}
func (e *SendError) Unwrap() error { return e.Err }

// MutationError reports a failed create/archive/rename against the store.
type MutationError struct {
	Op  string
	ID  string
	Err error
}

func (e *MutationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s conversation: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s conversation %s: %v", e.Op, e.ID, e.Err)
}
func (e *MutationError) Unwrap() error { return e.Err }
