// Package client is the synchronization engine for a conversational
// session-logging app. A Client keeps the conversation directory, the active
// conversation's log and an optimistic outbound message consistent with a
// backing store that pushes row-level changes.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cbbshop1/solace-sentience/internal/api"
	"github.com/cbbshop1/solace-sentience/internal/directory"
	"github.com/cbbshop1/solace-sentience/internal/export"
	"github.com/cbbshop1/solace-sentience/internal/job"
	"github.com/cbbshop1/solace-sentience/internal/logsync"
	"github.com/cbbshop1/solace-sentience/internal/notify"
	"github.com/cbbshop1/solace-sentience/internal/realtime"
	"github.com/cbbshop1/solace-sentience/internal/sender"
	"github.com/cbbshop1/solace-sentience/internal/shardqueue"
	"github.com/cbbshop1/solace-sentience/internal/store"
)

const (
	// selectTimeout bounds the work done when the active conversation changes.
	selectTimeout = 30 * time.Second

	replyPollInterval = 50 * time.Millisecond
)

// --------------------------------------------------------------------
// Client core
// --------------------------------------------------------------------

type Client struct {
	store   store.Store
	http    *http.Client
	backend *api.Backend
	exec    executor

	notifier    notify.Notifier
	logger      zerolog.Logger
	session     SessionState
	pendingTTL  time.Duration
	realtimeURL string

	reconnectInitial time.Duration
	reconnectMax     time.Duration

	dir  *directory.Directory
	logs *logsync.Synchronizer
	send *sender.Sender

	closedOnce uint32 // ensures Close is idempotent
}

// New constructs a Client over s that sends messages to the backend at
// backendURL. Additional options can be provided via functional arguments.
func New(s store.Store, backendURL string, opts ...Option) (*Client, error) {
	if s == nil {
		panic("store cannot be nil")
	}
	if backendURL == "" {
		backendURL = api.DefaultBaseURL
	}

	c := &Client{
		store:      s,
		http:       &http.Client{Timeout: 30 * time.Second},
		notifier:   notify.Log{Logger: log.Logger},
		logger:     log.Logger,
		pendingTTL: sender.DefaultPendingTTL,
	}

	// Auto-enable debug via env variable without changing code.
	if debugLoggingRequested() {
		opts = append(opts, WithDebugLogging(true))
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.exec == nil {
		c.exec = newDefaultExecutor(c.logger)
	}
	if c.realtimeURL != "" {
		// WebSocket dials are bounded by context, not by http.Client.Timeout.
		wsClient := &http.Client{Transport: c.http.Transport}
		c.store = store.WithFeed(c.store, realtime.NewFeed(c.realtimeURL, wsClient, c.logger))
	}
	c.backend = api.New(backendURL, c.http)

	c.logs = logsync.New(logsync.Config{
		Store:            c.store,
		Executor:         c.exec,
		Notifier:         c.notifier,
		Logger:           c.logger.With().Str("component", "logsync").Logger(),
		ReconnectInitial: c.reconnectInitial,
		ReconnectMax:     c.reconnectMax,
	})
	c.send = sender.New(sender.Config{
		Backend:    c.backend,
		Executor:   c.exec,
		Notifier:   c.notifier,
		Logger:     c.logger.With().Str("component", "sender").Logger(),
		Watermark:  c.watermark,
		PendingTTL: c.pendingTTL,
	})
	c.logs.Observe(c.send.Observe)

	restore := ""
	if c.session != nil {
		id, err := c.session.LastActive()
		if err != nil {
			c.logger.Warn().Err(err).Msg("session state unreadable; starting without a restored selection")
		}
		restore = id
	}
	c.dir = directory.New(directory.Config{
		Store:            c.store,
		Executor:         c.exec,
		Notifier:         c.notifier,
		Logger:           c.logger.With().Str("component", "directory").Logger(),
		OnSelect:         c.onSelect,
		Restore:          restore,
		ReconnectInitial: c.reconnectInitial,
		ReconnectMax:     c.reconnectMax,
	})
	return c, nil
}

// Start subscribes to conversation changes, loads the directory and selects
// the restored or newest conversation.
func (c *Client) Start(ctx context.Context) error {
	return c.dir.Start(ctx)
}

// onSelect moves the log synchronizer and the sender to id. It runs outside
// the executor, serialized by the directory.
func (c *Client) onSelect(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), selectTimeout)
	defer cancel()

	selectionsTotal.WithLabelValues(job.ConversationLabel(id)).Inc()
	if err := c.send.SwitchConversation(ctx, id); err != nil {
		c.logger.Error().Err(err).Str("conversation_id", id).Msg("sender switch failed")
	}
	if err := c.logs.Activate(ctx, id); err != nil {
		c.logger.Error().Err(err).Str("conversation_id", id).Msg("log activation failed")
	}
	if c.session != nil {
		if err := c.session.SetLastActive(id); err != nil {
			c.logger.Warn().Err(err).Msg("session state not saved")
		}
	}
}

func (c *Client) watermark(conversationID string) int64 {
	if c.logs.ActiveID() != conversationID {
		return 0
	}
	return c.logs.LatestID()
}

// Close releases subscriptions and stops the executor. Safe to call multiple times.
func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closedOnce, 0, 1) {
		return nil
	}
	if c.dir != nil {
		c.dir.Close()
	}
	if c.logs != nil {
		c.logs.Close()
	}
	if c.send != nil {
		c.send.Close()
	}
	if c.exec != nil {
		c.exec.Stop()
	}
	return nil
}

// Sync blocks until every handler queued so far, in every component, has run.
func (c *Client) Sync(ctx context.Context) error {
	for _, key := range []string{job.KeyDirectory, job.KeyLogSync, job.KeySender} {
		if err := c.exec.Barrier(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// newDefaultExecutor constructs the shardqueue executor from SOLACE_QUEUE_*
// variables, falling back to fixed defaults when they do not parse.
func newDefaultExecutor(logger zerolog.Logger) *shardqueue.ShardExecutor {
	cfg, err := shardqueue.LoadConfig()
	if err != nil {
		logger.Warn().Err(err).Msg("invalid SOLACE_QUEUE configuration, using defaults")
		cfg = shardqueue.Config{Shards: 4, QueueSize: 1000}
	}
	cfg.Logger = logger
	return shardqueue.NewShardExecutor(cfg)
}

// --------------------------------------------------------------------
// Conversation directory
// --------------------------------------------------------------------

// Conversations returns the non-archived conversations, newest first.
func (c *Client) Conversations() []Conversation { return c.dir.Conversations() }

// Active returns the selected conversation id, or "".
func (c *Client) Active() string { return c.dir.Active() }

// ActiveConversation returns the selected conversation if it is known.
func (c *Client) ActiveConversation() (Conversation, bool) { return c.dir.Get(c.dir.Active()) }

// Refresh reloads the directory and refetches the active conversation's log.
// It is the retry path after a failed fetch.
func (c *Client) Refresh(ctx context.Context) error {
	dirErr := c.dir.Refresh(ctx)
	if err := c.logs.Refresh(ctx); err != nil && dirErr == nil {
		return err
	}
	return dirErr
}

// Select makes id the active conversation. Selecting the conversation that is
// already active refetches its log instead.
func (c *Client) Select(ctx context.Context, id string) error {
	if id != "" && id == c.dir.Active() {
		return c.logs.Refresh(ctx)
	}
	return c.dir.Select(ctx, id)
}

// Create starts a conversation and selects it. A blank title gets the default.
func (c *Client) Create(ctx context.Context, title string) (Conversation, error) {
	return c.dir.Create(ctx, title)
}

// Archive hides id. Archiving the active conversation selects another one,
// creating it when none remain.
func (c *Client) Archive(ctx context.Context, id string) error { return c.dir.Archive(ctx, id) }

// Rename sets a conversation's title.
func (c *Client) Rename(ctx context.Context, id, title string) error {
	return c.dir.Rename(ctx, id, title)
}

// --------------------------------------------------------------------
// Messages
// --------------------------------------------------------------------

// Send delivers text to conversationID and waits for the backend to accept it.
// The reply arrives later through the log.
func (c *Client) Send(ctx context.Context, conversationID, text string) error {
	return c.send.Send(ctx, conversationID, text)
}

// SendAndWait sends text and blocks until the backend's reply to it appears in
// the log. When ctx ends after the send succeeded, ErrReplyPending is returned.
func (c *Client) SendAndWait(ctx context.Context, conversationID, text string) (LogEntry, error) {
	floor := c.watermark(conversationID)
	if err := c.send.Send(ctx, conversationID, text); err != nil {
		return LogEntry{}, err
	}
	want := strings.TrimSpace(text)

	ticker := time.NewTicker(replyPollInterval)
	defer ticker.Stop()
	for {
		if c.logs.ActiveID() == conversationID {
			for _, e := range c.logs.Entries() {
				if e.ID > floor && e.UserText != nil && *e.UserText == want && e.AIResponse != nil {
					return e, nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return LogEntry{}, fmt.Errorf("%w: %v", ErrReplyPending, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Cancel aborts the in-flight send and discards the pending message.
func (c *Client) Cancel(ctx context.Context) error { return c.send.Cancel(ctx) }

// IsSending reports whether a send is in flight.
func (c *Client) IsSending() bool { return c.send.IsSending() }

// Entries returns the active conversation's log ordered by id.
func (c *Client) Entries() []LogEntry { return c.logs.Entries() }

// ConnectionState reports the active conversation's subscription health.
func (c *Client) ConnectionState() ConnectionState { return c.logs.ConnectionState() }

// View returns a consistent-enough snapshot of everything a chat screen shows.
func (c *Client) View() View {
	active := c.dir.Active()
	v := View{
		ConversationID: active,
		Entries:        c.logs.Entries(),
		Affect:         c.logs.CurrentAffect(),
		Trust:          c.logs.CurrentTrust(),
		Trend:          c.logs.AffectHistory(logsync.TrendWindow),
		State:          c.logs.ConnectionState(),
		Loading:        c.logs.Loading(),
		IsSending:      c.send.IsSending(),
	}
	if p := c.send.Pending(); p != nil && p.ConversationID == active {
		v.Pending = p
	}
	return v
}

// --------------------------------------------------------------------
// Documents
// --------------------------------------------------------------------

// Export writes the active conversation as Markdown into dir and returns the path.
func (c *Client) Export(dir string, includeAffect bool) (string, error) {
	cv, ok := c.ActiveConversation()
	if !ok {
		return "", ErrNoActiveConversation
	}
	path, err := export.WriteFile(dir, cv.DisplayTitle(), c.logs.Entries(), export.Options{IncludeAffect: includeAffect})
	if err != nil {
		return "", err
	}
	exportsTotal.Inc()
	c.logger.Info().Str("conversation_id", cv.ID).Str("path", path).Msg("conversation exported")
	return path, nil
}

// ExtractText asks the backend to turn a document into plain text.
func (c *Client) ExtractText(ctx context.Context, filename string, r io.Reader) (*ExtractResponse, error) {
	return c.backend.ExtractText(ctx, filename, r)
}
