// Package directory maintains the set of non-archived conversations and the
// active selection. It merges bulk loads with the conversation change feed
// and exposes create, archive and rename.
package directory

import (
	"context"
	"strings"
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

// Toast texts.
const (
	msgFetchFailed   = "Failed to fetch conversations"
	msgCreateFailed  = "Failed to create new thread"
	msgArchiveFailed = "Failed to archive thread"
	msgRenameFailed  = "Failed to rename thread"
	msgStreamLost    = "Conversation updates interrupted; reconnecting"
)

// Config wires a Directory.
type Config struct {
	Store    store.Store
	Executor types.Executor
	Notifier notify.Notifier
	Logger   zerolog.Logger

	// OnSelect runs after the active id changes, outside the executor and in
	// selection order.
	OnSelect func(id string)
	// Restore is selected after the first load when it is still active.
	Restore string

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	Now              func() time.Time
}

// Directory is the conversation directory.
type Directory struct {
	cfg Config

	// mu guards the fields below; they are only written from jobs on job.KeyDirectory.
	mu         sync.RWMutex
	convs      *keyed.Set[string, types.Conversation]
	active     string
	loading    bool
	loaded     bool
	streamLost bool

	// selMu serializes selection changes end to end, including OnSelect.
	selMu sync.Mutex
	// refreshMu keeps bulk loads from overlapping, so no load supersedes
	// another's snapshot window.
	refreshMu sync.Mutex

	watchMu sync.Mutex
	watcher *stream.Watcher
	bg      sync.WaitGroup
	bgCtx   context.Context
	bgStop  context.CancelFunc
}

// New builds a Directory. Call Start to load and subscribe.
func New(cfg Config) *Directory {
	if cfg.Store == nil || cfg.Executor == nil {
		panic("directory: Store and Executor are required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Directory{
		cfg:    cfg,
		convs:  keyed.New[string, types.Conversation](),
		bgCtx:  ctx,
		bgStop: cancel,
	}
}

// Start subscribes to conversation changes and performs the initial load.
// A load failure is returned but the subscription stays open.
func (d *Directory) Start(ctx context.Context) error {
	d.watchMu.Lock()
	if d.watcher == nil {
		d.watcher = stream.Open(stream.Config{
			Feed:            d.cfg.Store.Feed(),
			Filter:          store.Filter{Table: types.TableConversations},
			Hooks:           d.hooks(),
			InitialInterval: d.cfg.ReconnectInitial,
			MaxInterval:     d.cfg.ReconnectMax,
			Logger:          d.cfg.Logger,
		})
	}
	d.watchMu.Unlock()
	_, err := d.List(ctx)
	return err
}

// Close releases the subscription and waits for background reloads.
func (d *Directory) Close() {
	d.watchMu.Lock()
	w := d.watcher
	d.watcher = nil
	d.watchMu.Unlock()
	w.Close()
	d.bgStop()
	d.bg.Wait()
}

// List returns the active conversations, newest first. The first call
// performs the bulk load; on failure the previous (possibly empty) state is
// returned along with a *errors.FetchError.
func (d *Directory) List(ctx context.Context) ([]types.Conversation, error) {
	d.mu.RLock()
	loaded := d.loaded
	d.mu.RUnlock()
	if !loaded {
		if err := d.Refresh(ctx); err != nil {
			return d.Conversations(), err
		}
	}
	return d.Conversations(), nil
}

// Conversations returns the current ordered view without loading.
func (d *Directory) Conversations() []types.Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.convs.Values(newestFirst)
}

// Get returns an active conversation by id.
func (d *Directory) Get(id string) (types.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.convs.Get(id)
}

// Active returns the selected conversation id, or "".
func (d *Directory) Active() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.active
}

// Loading reports whether a bulk load is in progress.
func (d *Directory) Loading() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.loading
}

// Refresh performs a bulk load and merges it with changes seen meanwhile.
func (d *Directory) Refresh(ctx context.Context) error {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	var tok keyed.Token
	if err := d.do(ctx, func() {
		d.loading = true
		tok = d.convs.BeginSnapshot()
	}); err != nil {
		return err
	}

	start := time.Now()
	rows, fetchErr := d.cfg.Store.Conversations().ListActive(ctx)

	var autoSelect string
	err := d.do(context.WithoutCancel(ctx), func() {
		d.loading = false
		if fetchErr != nil {
			d.convs.AbortSnapshot(tok)
			return
		}
		if !d.convs.ApplySnapshot(tok, activeOnly(rows), convKey) {
			staleTotal.Inc()
			return
		}
		first := !d.loaded
		d.loaded = true
		if first && d.active == "" {
			autoSelect = d.initialSelection()
		}
	})
	if err != nil {
		return err
	}
	if fetchErr != nil {
		d.cfg.Logger.Error().Err(fetchErr).Msg("conversation load failed")
		d.cfg.Notifier.Notify(notify.Error("Error", msgFetchFailed))
		return &errors.FetchError{Table: string(types.TableConversations), Err: fetchErr}
	}
	d.cfg.Logger.Debug().Int("count", len(rows)).Dur("elapsed", time.Since(start)).Msg("conversations loaded")
	if autoSelect != "" {
		d.selMu.Lock()
		defer d.selMu.Unlock()
		if d.Active() == "" {
			return d.selectLocked(ctx, autoSelect)
		}
	}
	return nil
}

// initialSelection picks the restored id when still active, else the newest.
func (d *Directory) initialSelection() string {
	if d.cfg.Restore != "" {
		if _, ok := d.convs.Get(d.cfg.Restore); ok {
			return d.cfg.Restore
		}
	}
	if vals := d.convs.Values(newestFirst); len(vals) > 0 {
		return vals[0].ID
	}
	return ""
}

// Select sets the active conversation without validating that it exists.
func (d *Directory) Select(ctx context.Context, id string) error {
	d.selMu.Lock()
	defer d.selMu.Unlock()
	return d.selectLocked(ctx, id)
}

func (d *Directory) selectLocked(ctx context.Context, id string) error {
	changed := false
	if err := d.do(ctx, func() {
		changed = d.active != id
		d.active = id
	}); err != nil {
		return err
	}
	if changed {
		d.cfg.Logger.Debug().Str("conversation_id", id).Msg("conversation selected")
		if d.cfg.OnSelect != nil {
			d.cfg.OnSelect(id)
		}
	}
	return nil
}

// Create makes a new conversation (default title when title is blank),
// selects it and returns it. On failure the selection is left unchanged.
func (d *Directory) Create(ctx context.Context, title string) (types.Conversation, error) {
	d.selMu.Lock()
	defer d.selMu.Unlock()
	return d.createLocked(ctx, title)
}

func (d *Directory) createLocked(ctx context.Context, title string) (types.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = types.DefaultTitle(d.cfg.Now())
	}
	cv, err := d.cfg.Store.Conversations().Create(ctx, types.StringPtr(title))
	if err != nil {
		mutationsTotal.WithLabelValues("create", "error").Inc()
		d.cfg.Logger.Error().Err(err).Msg("create conversation failed")
		d.cfg.Notifier.Notify(notify.Error("Error", msgCreateFailed))
		return types.Conversation{}, &errors.MutationError{Op: "create", Err: err}
	}
	mutationsTotal.WithLabelValues("create", "ok").Inc()
	if err := d.do(ctx, func() { d.apply(types.OpInsert, cv) }); err != nil {
		return cv, err
	}
	return cv, d.selectLocked(ctx, cv.ID)
}

// Archive marks a conversation archived. Archiving the active conversation
// selects the first remaining one, or creates a new one when none remain.
// Archiving an already-archived id succeeds without effect.
func (d *Directory) Archive(ctx context.Context, id string) error {
	if err := types.ValidateIDPresent(id, "conversation id"); err != nil {
		return &errors.MutationError{Op: "archive", Err: err}
	}
	d.selMu.Lock()
	defer d.selMu.Unlock()

	cv, err := d.cfg.Store.Conversations().SetArchived(ctx, id, true)
	if err != nil {
		mutationsTotal.WithLabelValues("archive", "error").Inc()
		d.cfg.Logger.Error().Err(err).Str("conversation_id", id).Msg("archive conversation failed")
		d.cfg.Notifier.Notify(notify.Error("Error", msgArchiveFailed))
		return &errors.MutationError{Op: "archive", ID: id, Err: err}
	}
	mutationsTotal.WithLabelValues("archive", "ok").Inc()

	var next string
	wasActive := false
	if err := d.do(ctx, func() {
		d.apply(types.OpUpdate, cv)
		if d.active != id {
			return
		}
		wasActive = true
		if vals := d.convs.Values(newestFirst); len(vals) > 0 {
			next = vals[0].ID
		}
	}); err != nil {
		return err
	}
	if !wasActive {
		return nil
	}
	if next != "" {
		return d.selectLocked(ctx, next)
	}
	_, err = d.createLocked(ctx, "")
	return err
}

// Rename sets a conversation's title. A blank title is a no-op.
func (d *Directory) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil
	}
	cv, err := d.cfg.Store.Conversations().SetTitle(ctx, id, title)
	if err != nil {
		mutationsTotal.WithLabelValues("rename", "error").Inc()
		d.cfg.Logger.Error().Err(err).Str("conversation_id", id).Msg("rename conversation failed")
		d.cfg.Notifier.Notify(notify.Error("Error", msgRenameFailed))
		return &errors.MutationError{Op: "rename", ID: id, Err: err}
	}
	mutationsTotal.WithLabelValues("rename", "ok").Inc()
	return d.do(ctx, func() { d.apply(types.OpUpdate, cv) })
}

// apply merges one conversation change. It must run on job.KeyDirectory.
// Archived rows become invisible whether they arrive as insert or update;
// replaying a change is harmless.
func (d *Directory) apply(op types.Op, cv types.Conversation) {
	switch {
	case op == types.OpDelete, cv.IsArchived:
		d.convs.Remove(cv.ID)
	default:
		d.convs.Upsert(cv.ID, cv)
	}
}

func (d *Directory) hooks() stream.Hooks {
	return stream.Hooks{
		Acknowledged: func(ctx context.Context, _ bool) error {
			err := d.cfg.Executor.Submit(ctx, job.KeyDirectory, job.Apply(func() {
				d.mu.Lock()
				defer d.mu.Unlock()
				d.streamLost = false
			}))
			if err != nil {
				return err
			}
			// Conversations written between the last load and this point
			// reached neither source.
			d.reloadAsync()
			return nil
		},
		Change: func(ctx context.Context, c types.Change) error {
			cv, err := c.DecodeConversation()
			if err != nil {
				d.cfg.Logger.Warn().Err(err).Int64("seq", c.Seq).Msg("undecodable conversation change")
				return nil
			}
			return d.cfg.Executor.Submit(ctx, job.KeyDirectory, job.Apply(func() {
				d.mu.Lock()
				defer d.mu.Unlock()
				d.apply(c.Op, cv)
				eventsAppliedTotal.WithLabelValues(string(c.Op)).Inc()
			}))
		},
		Lost: func(err error) {
			d.cfg.Logger.Warn().Err(err).Msg("conversation subscription lost")
			submitErr := d.cfg.Executor.Submit(d.bgCtx, job.KeyDirectory, job.Apply(func() {
				d.mu.Lock()
				defer d.mu.Unlock()
				if d.streamLost {
					return
				}
				d.streamLost = true
				d.cfg.Notifier.Notify(notify.Error("Connection Error", msgStreamLost))
			}))
			if submitErr != nil && d.bgCtx.Err() == nil {
				d.cfg.Logger.Warn().Err(submitErr).Msg("subscription loss not recorded")
			}
		},
	}
}

// reloadAsync refreshes in the background after a subscription is acknowledged.
func (d *Directory) reloadAsync() {
	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		if err := d.Refresh(d.bgCtx); err != nil && d.bgCtx.Err() == nil {
			d.cfg.Logger.Warn().Err(err).Msg("reload after subscribe failed")
		}
	}()
}

// do runs fn under the write lock on the directory shard and waits for it.
func (d *Directory) do(ctx context.Context, fn func()) error {
	return job.Do(ctx, d.cfg.Executor, job.KeyDirectory, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		fn()
	})
}

func convKey(c types.Conversation) string { return c.ID }

func newestFirst(a, b types.Conversation) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

func activeOnly(rows []types.Conversation) []types.Conversation {
	out := rows[:0:0]
	for _, r := range rows {
		if !r.IsArchived {
			out = append(out, r)
		}
	}
	return out
}
