// Package sender issues outbound chat messages. It enforces a single send in
// flight, shows an optimistic pending shadow for the message and retires the
// shadow when the authoritative entry arrives through the log synchronizer.
package sender

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cbbshop1/solace-sentience/internal/errors"
	"github.com/cbbshop1/solace-sentience/internal/job"
	"github.com/cbbshop1/solace-sentience/internal/notify"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

// DefaultPendingTTL bounds how long an unresolved pending shadow is shown.
const DefaultPendingTTL = 2 * time.Minute

const (
	msgNoActive    = "No active conversation"
	msgAPIFailed   = "Failed to send message to API"
	msgUnreachable = "Could not reach the chat server"
)

// Backend accepts a chat message. A nil error means the request was accepted;
// the reply itself lands in the store asynchronously.
type Backend interface {
	Chat(ctx context.Context, req types.ChatRequest) error
}

// Config wires a Sender.
type Config struct {
	Backend  Backend
	Executor types.Executor
	Notifier notify.Notifier
	Logger   zerolog.Logger

	// Watermark returns the newest entry id visible in conversationID.
	Watermark  func(conversationID string) int64
	PendingTTL time.Duration
	Now        func() time.Time
}

// Sender is the send coordinator.
type Sender struct {
	cfg Config

	// mu guards the fields below; they are only written from jobs on job.KeySender.
	mu      sync.RWMutex
	active  string
	sending bool
	attempt uint64
	cancel  context.CancelFunc
	pending *types.PendingMessage
	floor   int64
	expiry  *time.Timer
}

// New builds a Sender.
func New(cfg Config) *Sender {
	if cfg.Backend == nil || cfg.Executor == nil {
		panic("sender: Backend and Executor are required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Watermark == nil {
		cfg.Watermark = func(string) int64 { return 0 }
	}
	return &Sender{cfg: cfg}
}

// Send delivers text to conversationID and blocks until the backend answers
// or the send is canceled. On failure the pending shadow stays visible so the
// user can retry.
func (s *Sender) Send(ctx context.Context, conversationID, text string) error {
	if conversationID == "" {
		s.cfg.Notifier.Notify(notify.Error("Error", msgNoActive))
		return errors.ErrNoActiveConversation
	}
	text, ok := types.NormalizeMessage(text)
	if !ok {
		return errors.ErrEmptyMessage
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		attempt uint64
		busy    bool
	)
	if err := s.do(ctx, func() {
		if s.sending {
			busy = true
			return
		}
		s.attempt++
		attempt = s.attempt
		s.sending = true
		s.active = conversationID
		s.cancel = cancel
		s.setPendingLocked(&types.PendingMessage{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			Text:           text,
			CreatedAt:      s.cfg.Now(),
		}, s.cfg.Watermark(conversationID))
	}); err != nil {
		return err
	}
	if busy {
		sendsTotal.WithLabelValues("rejected").Inc()
		return errors.ErrSendInFlight
	}

	start := time.Now()
	err := s.cfg.Backend.Chat(reqCtx, types.ChatRequest{Message: text, ConversationID: conversationID})

	var current bool
	doErr := s.do(context.Background(), func() {
		if attempt != s.attempt {
			return
		}
		current = true
		s.sending = false
		s.cancel = nil
	})
	if doErr != nil {
		s.cfg.Logger.Warn().Err(doErr).Msg("send completion not recorded")
	}

	log := s.cfg.Logger.With().Str("conversation_id", conversationID).Dur("elapsed", time.Since(start)).Logger()
	switch {
	case err == nil && current:
		sendsTotal.WithLabelValues("accepted").Inc()
		log.Debug().Msg("message accepted")
		return nil
	case err == nil:
		// Accepted after a cancel or a switch; the entry still arrives normally.
		sendsTotal.WithLabelValues("superseded").Inc()
		return nil
	case !current:
		sendsTotal.WithLabelValues("canceled").Inc()
		log.Debug().Err(err).Msg("send abandoned")
		return &errors.SendError{ConversationID: conversationID, Err: err}
	}

	sendsTotal.WithLabelValues("failed").Inc()
	log.Error().Err(err).Msg("send failed")
	if unreachable(err) {
		s.cfg.Notifier.Notify(notify.Error("Connection Error", msgUnreachable))
	} else {
		s.cfg.Notifier.Notify(notify.Error("Error", msgAPIFailed))
	}
	return &errors.SendError{ConversationID: conversationID, Err: err}
}

// Cancel aborts the in-flight request, if any, and discards the pending shadow.
func (s *Sender) Cancel(ctx context.Context) error {
	return s.do(ctx, func() {
		if s.sending {
			s.attempt++
			s.sending = false
			s.cancel()
			s.cancel = nil
			s.cfg.Logger.Debug().Msg("send canceled")
		}
		s.setPendingLocked(nil, 0)
	})
}

// SwitchConversation records the newly active conversation. A pending shadow
// for any other conversation is discarded and the in-flight flag is released;
// the request itself is left to finish.
func (s *Sender) SwitchConversation(ctx context.Context, conversationID string) error {
	return s.do(ctx, func() {
		if s.active == conversationID {
			return
		}
		s.active = conversationID
		if s.pending != nil && s.pending.ConversationID != conversationID {
			s.setPendingLocked(nil, 0)
			pendingTotal.WithLabelValues("discarded").Inc()
		}
		if s.sending {
			s.attempt++
			s.sending = false
			s.cancel = nil
		}
	})
}

// Observe offers an entry merged by the log synchronizer. It only enqueues
// and so may be called from another component's job.
func (s *Sender) Observe(e types.LogEntry) {
	if e.UserText == nil {
		return
	}
	err := s.cfg.Executor.Submit(context.Background(), job.KeySender, job.Apply(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		p := s.pending
		if p == nil || e.ConversationID != p.ConversationID || *e.UserText != p.Text || e.ID <= s.floor {
			return
		}
		s.setPendingLocked(nil, 0)
		pendingTotal.WithLabelValues("resolved").Inc()
		s.cfg.Logger.Debug().Int64("entry_id", e.ID).Str("conversation_id", e.ConversationID).Msg("pending message resolved")
	}))
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Int64("entry_id", e.ID).Msg("entry not offered to sender")
	}
}

// IsSending reports whether a send is in flight.
func (s *Sender) IsSending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sending
}

// Pending returns a copy of the pending shadow, or nil.
func (s *Sender) Pending() *types.PendingMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pending == nil {
		return nil
	}
	p := *s.pending
	return &p
}

// Close stops the expiry timer.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
}

// setPendingLocked replaces the shadow and rearms its expiry.
func (s *Sender) setPendingLocked(p *types.PendingMessage, floor int64) {
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	s.pending, s.floor = p, floor
	if p == nil {
		return
	}
	id := p.ID
	s.expiry = time.AfterFunc(s.cfg.PendingTTL, func() {
		_ = s.cfg.Executor.Submit(context.Background(), job.KeySender, job.Apply(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.pending == nil || s.pending.ID != id {
				return
			}
			s.pending, s.expiry = nil, nil
			pendingTotal.WithLabelValues("expired").Inc()
			s.cfg.Logger.Debug().Str("conversation_id", p.ConversationID).Msg("pending message expired")
		}))
	})
}

func (s *Sender) do(ctx context.Context, fn func()) error {
	return job.Do(ctx, s.cfg.Executor, job.KeySender, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		fn()
	})
}

// unreachable reports failures that never produced an HTTP response.
func unreachable(err error) bool {
	var ce *errors.ClassifiedError
	if stderrors.As(err, &ce) {
		return ce.StatusCode == 0
	}
	return true
}
