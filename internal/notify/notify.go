// Package notify carries user-visible, non-fatal notifications ("toasts")
// out of the sync engine.
package notify

import (
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is one user-visible message.
type Notification struct {
	Level       Level  `json:"level"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(Notification)
}

// Error builds an error-level notification.
func Error(title, description string) Notification {
	return Notification{Level: LevelError, Title: title, Description: description}
}

// Info builds an info-level notification.
func Info(title, description string) Notification {
	return Notification{Level: LevelInfo, Title: title, Description: description}
}

// Log writes notifications to a zerolog logger.
type Log struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (l Log) Notify(n Notification) {
	ev := l.Logger.Info()
	if n.Level == LevelError {
		ev = l.Logger.Warn()
	}
	ev.Str("description", n.Description).Msg(n.Title)
}

// Bus is an in-process notifier backed by a buffered channel. Publishing
// never blocks; when the buffer is full the notification is dropped and counted.
type Bus struct {
	ch      chan Notification
	dropped atomic.Int64
}

// NewBus creates a bus with the given buffer size.
func NewBus(buffer int) *Bus {
	return &Bus{ch: make(chan Notification, buffer)}
}

// Notify implements Notifier.
func (b *Bus) Notify(n Notification) {
	select {
	case b.ch <- n:
	default:
		b.dropped.Add(1)
	}
}

// C returns the channel consumers read from.
func (b *Bus) C() <-chan Notification { return b.ch }

// Dropped reports how many notifications were discarded on a full buffer.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(n Notification) {
	for _, x := range m {
		if x != nil {
			x.Notify(n)
		}
	}
}

// Discard drops every notification.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(Notification) {}
