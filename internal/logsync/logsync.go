// Package logsync keeps the ordered, duplicate-free log of the active
// conversation in step with the store. A bulk fetch and the per-conversation
// change subscription start together on every activation; both are merged by
// entry id, and results tagged with an older activation are dropped.
//
// Every subscription acknowledgement opens a fresh snapshot window and
// refetches, so rows committed after a fetch read them but before the feed
// was delivering are never lost.
package logsync

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cbbshop1/solace-sentience/internal/errors"
	"github.com/cbbshop1/solace-sentience/internal/job"
	"github.com/cbbshop1/solace-sentience/internal/keyed"
	"github.com/cbbshop1/solace-sentience/internal/notify"
	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/stream"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

// TrendWindow is the number of recent entries the affect trend covers.
const TrendWindow = 15

const (
	msgFetchFailed = "Failed to fetch conversation logs"
	msgStreamLost  = "Live updates interrupted; reconnecting"
)

// Config wires a Synchronizer.
type Config struct {
	Store    store.Store
	Executor types.Executor
	Notifier notify.Notifier
	Logger   zerolog.Logger

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// Synchronizer is the log synchronizer.
type Synchronizer struct {
	cfg Config

	// mu guards the fields below; they are only written from jobs on job.KeyLogSync.
	mu       sync.RWMutex
	convID   string
	gen      uint64
	window   keyed.Token
	entries  *keyed.Set[int64, types.LogEntry]
	state    types.ConnectionState
	loading  bool
	acked    bool
	fetched  bool
	failed   bool
	observer func(types.LogEntry)

	// actMu serializes activations, which own the watcher and the fetch context.
	actMu     sync.Mutex
	watcher   *stream.Watcher
	actCtx    context.Context
	actCancel context.CancelFunc
	fetches   sync.WaitGroup
}

// New builds a Synchronizer with no active conversation.
func New(cfg Config) *Synchronizer {
	if cfg.Store == nil || cfg.Executor == nil {
		panic("logsync: Store and Executor are required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	return &Synchronizer{
		cfg:     cfg,
		entries: keyed.New[int64, types.LogEntry](),
		state:   types.StateDisconnected,
	}
}

// Observe registers fn to be called, on the log shard, with every entry that
// is merged from a fetch or a change. It must not block.
func (s *Synchronizer) Observe(fn func(types.LogEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

// Activate switches to conversationID. The previous subscription is torn down
// and the previous entries are cleared before it returns. An empty id leaves
// the synchronizer idle and disconnected.
func (s *Synchronizer) Activate(ctx context.Context, conversationID string) error {
	s.actMu.Lock()
	defer s.actMu.Unlock()

	if s.actCancel != nil {
		s.actCancel()
	}
	s.watcher.Close()
	s.watcher = nil

	var (
		gen uint64
		tok keyed.Token
	)
	if err := s.do(ctx, func() {
		s.gen++
		gen = s.gen
		s.convID = conversationID
		s.entries.Reset()
		s.acked, s.fetched, s.failed = false, false, false
		if conversationID == "" {
			s.state, s.loading = types.StateDisconnected, false
			return
		}
		s.state, s.loading = types.StateSyncing, true
		tok = s.entries.BeginSnapshot()
		s.window = tok
	}); err != nil {
		return err
	}
	if conversationID == "" {
		s.cfg.Logger.Debug().Msg("log sync idle")
		return nil
	}

	actCtx, cancel := context.WithCancel(context.Background())
	s.actCtx, s.actCancel = actCtx, cancel
	s.watcher = stream.Open(stream.Config{
		Feed:            s.cfg.Store.Feed(),
		Filter:          store.Filter{Table: types.TableLogs, ConversationID: conversationID},
		Hooks:           s.hooks(actCtx, gen, conversationID),
		InitialInterval: s.cfg.ReconnectInitial,
		MaxInterval:     s.cfg.ReconnectMax,
		Logger:          s.cfg.Logger,
	})
	s.fetch(actCtx, gen, conversationID, tok)
	s.cfg.Logger.Debug().Str("conversation_id", conversationID).Uint64("generation", gen).Msg("log sync activated")
	return nil
}

// Refresh refetches the active conversation, superseding any fetch in
// flight. It returns once the fetch is scheduled; a failed fetch leaves the
// synchronizer disconnected until Refresh is called again or the
// subscription is re-established.
func (s *Synchronizer) Refresh(ctx context.Context) error {
	s.actMu.Lock()
	defer s.actMu.Unlock()
	actCtx := s.actCtx
	if actCtx == nil {
		return nil
	}
	return s.do(ctx, func() {
		if s.convID == "" {
			return
		}
		s.refetchLocked(actCtx)
		s.updateStateLocked()
	})
}

// Close tears down the subscription and waits for in-flight fetches.
func (s *Synchronizer) Close() {
	s.actMu.Lock()
	if s.actCancel != nil {
		s.actCancel()
	}
	s.watcher.Close()
	s.watcher = nil
	s.actMu.Unlock()
	s.fetches.Wait()
}

// ActiveID returns the conversation being synchronized.
func (s *Synchronizer) ActiveID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.convID
}

// Entries returns the active conversation's entries ordered by id.
func (s *Synchronizer) Entries() []types.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Values(byID)
}

// LatestID returns the highest entry id visible, or 0.
func (s *Synchronizer) LatestID() int64 {
	es := s.Entries()
	if len(es) == 0 {
		return 0
	}
	return es[len(es)-1].ID
}

// CurrentAffect returns the newest entry's affect vector, or the neutral vector.
func (s *Synchronizer) CurrentAffect() types.AffectVector {
	es := s.Entries()
	if len(es) == 0 {
		return types.NeutralAffect()
	}
	return es[len(es)-1].Affect
}

// CurrentTrust returns the newest entry's trust score, or 0.5.
func (s *Synchronizer) CurrentTrust() float64 {
	es := s.Entries()
	if len(es) == 0 {
		return types.NeutralTrust
	}
	return es[len(es)-1].Trust()
}

// AffectHistory returns the affect vectors of the last n entries, oldest first.
func (s *Synchronizer) AffectHistory(n int) []types.AffectVector {
	es := s.Entries()
	if n > 0 && len(es) > n {
		es = es[len(es)-n:]
	}
	out := make([]types.AffectVector, len(es))
	for i, e := range es {
		out[i] = e.Affect
	}
	return out
}

// ConnectionState reports the health of the live subscription.
func (s *Synchronizer) ConnectionState() types.ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Loading reports whether the initial fetch for the active conversation is outstanding.
func (s *Synchronizer) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// fetch loads the conversation in the background and merges the result on
// the log shard, provided gen is still current.
func (s *Synchronizer) fetch(ctx context.Context, gen uint64, conversationID string, tok keyed.Token) {
	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()
		start := time.Now()
		rows, err := s.cfg.Store.Logs().List(ctx, conversationID)
		if ctx.Err() != nil {
			staleTotal.WithLabelValues("fetch").Inc()
			return
		}
		submitErr := s.cfg.Executor.Submit(ctx, job.KeyLogSync, job.Apply(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if gen != s.gen || tok != s.window {
				staleTotal.WithLabelValues("fetch").Inc()
				return
			}
			s.loading = false
			if err != nil {
				s.entries.AbortSnapshot(tok)
				s.fetched, s.failed = false, true
				s.state = types.StateDisconnected
				fetchErr := &errors.FetchError{Table: string(types.TableLogs), Err: err}
				s.cfg.Logger.Error().Err(fetchErr).Str("conversation_id", conversationID).Msg("log fetch failed")
				s.cfg.Notifier.Notify(notify.Error("Connection Error", msgFetchFailed))
				return
			}
			if !s.entries.ApplySnapshot(tok, rows, entryKey) {
				staleTotal.WithLabelValues("fetch").Inc()
				return
			}
			s.fetched = true
			s.updateStateLocked()
			for _, e := range s.entries.Values(byID) {
				s.notifyObserverLocked(e)
			}
			s.cfg.Logger.Debug().Str("conversation_id", conversationID).Int("entries", len(rows)).
				Dur("elapsed", time.Since(start)).Msg("logs fetched")
		}))
		if submitErr != nil && ctx.Err() == nil {
			s.cfg.Logger.Error().Err(submitErr).Str("conversation_id", conversationID).Msg("log fetch result dropped")
		}
	}()
}

func (s *Synchronizer) hooks(ctx context.Context, gen uint64, conversationID string) stream.Hooks {
	return stream.Hooks{
		Acknowledged: func(hctx context.Context, _ bool) error {
			return s.cfg.Executor.Submit(hctx, job.KeyLogSync, job.Apply(func() {
				s.mu.Lock()
				defer s.mu.Unlock()
				if gen != s.gen {
					return
				}
				s.acked = true
				// Rows written between an earlier fetch and this point reached
				// neither source.
				s.refetchLocked(ctx)
				s.updateStateLocked()
			}))
		},
		Change: func(hctx context.Context, c types.Change) error {
			return s.cfg.Executor.Submit(hctx, job.KeyLogSync, job.Apply(func() {
				s.mu.Lock()
				defer s.mu.Unlock()
				if gen != s.gen {
					staleTotal.WithLabelValues("change").Inc()
					return
				}
				s.applyLocked(c)
			}))
		},
		Lost: func(err error) {
			_ = s.cfg.Executor.Submit(ctx, job.KeyLogSync, job.Apply(func() {
				s.mu.Lock()
				defer s.mu.Unlock()
				if gen != s.gen {
					return
				}
				s.acked = false
				if s.state != types.StateDisconnected {
					s.cfg.Notifier.Notify(notify.Error("Connection Error", msgStreamLost))
				}
				s.state = types.StateDisconnected
				s.cfg.Logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("log subscription lost")
			}))
		},
	}
}

// applyLocked merges one change. Inserts of a present id and updates of an
// absent id both upsert, so delivery order relative to the fetch and
// duplicate delivery cannot produce two entries with one id.
func (s *Synchronizer) applyLocked(c types.Change) {
	e, err := c.DecodeLogEntry()
	if err != nil {
		s.cfg.Logger.Warn().Err(err).Int64("seq", c.Seq).Msg("undecodable log change")
		return
	}
	// A key-only delete carries no conversation id; the feed filter already
	// scoped it to this conversation.
	keyOnlyDelete := c.Op == types.OpDelete && e.ConversationID == ""
	if e.ConversationID != s.convID && !keyOnlyDelete {
		return
	}
	eventsAppliedTotal.WithLabelValues(string(c.Op)).Inc()
	switch c.Op {
	case types.OpDelete:
		s.entries.Remove(e.ID)
	default:
		s.entries.Upsert(e.ID, e)
		s.notifyObserverLocked(e)
	}
}

// refetchLocked opens a new snapshot window for the current generation and
// fetches into it. Results of earlier fetches become stale.
func (s *Synchronizer) refetchLocked(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.fetched, s.failed = false, false
	s.window = s.entries.BeginSnapshot()
	s.fetch(ctx, s.gen, s.convID, s.window)
}

// updateStateLocked is connected only when the subscription is acknowledged
// and the latest fetch has landed. A failed fetch stays disconnected until
// the next refetch.
func (s *Synchronizer) updateStateLocked() {
	if s.failed {
		s.state = types.StateDisconnected
		return
	}
	if s.acked && s.fetched {
		s.state = types.StateConnected
		return
	}
	s.state = types.StateSyncing
}

func (s *Synchronizer) notifyObserverLocked(e types.LogEntry) {
	if s.observer != nil {
		s.observer(e)
	}
}

func (s *Synchronizer) do(ctx context.Context, fn func()) error {
	return job.Do(ctx, s.cfg.Executor, job.KeyLogSync, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		fn()
	})
}

func entryKey(e types.LogEntry) int64 { return e.ID }

func byID(a, b types.LogEntry) bool { return a.ID < b.ID }
