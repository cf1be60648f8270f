package sqlstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

type feed struct{ s *Store }

type subscription struct {
	*store.Pipe
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Subscribe takes the current high-water mark of the changes table as its
// cursor and returns once it has it; that is the acknowledgement.
func (f *feed) Subscribe(ctx context.Context, filter store.Filter) (store.Subscription, error) {
	var cursor int64
	if err := f.s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM changes`).Scan(&cursor); err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{Pipe: store.NewPipe(f.s.cfg.Buffer), cancel: cancel}
	sub.wg.Add(1)
	go f.poll(pollCtx, sub, filter, cursor)

	f.s.cfg.Logger.Debug().Str("table", string(filter.Table)).Str("conversation_id", filter.ConversationID).
		Int64("cursor", cursor).Msg("change subscription acknowledged")
	return sub, nil
}

// Close stops the poller and waits for it to exit.
func (sub *subscription) Close() error {
	sub.Fail(nil)
	sub.cancel()
	sub.wg.Wait()
	return nil
}

func (f *feed) poll(ctx context.Context, sub *subscription, filter store.Filter, cursor int64) {
	defer sub.wg.Done()
	defer sub.CloseEvents()
	defer sub.cancel()

	ticker := time.NewTicker(f.s.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-sub.Done():
			return
		case <-ticker.C:
		}

		changes, err := f.fetch(ctx, filter, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			f.s.cfg.Logger.Warn().Err(err).Int("failures", failures).Msg("change poll failed")
			if failures >= f.s.cfg.MaxPollErrors {
				sub.Fail(err)
				return
			}
			continue
		}
		failures = 0
		for _, c := range changes {
			if !sub.Send(c) {
				return
			}
			cursor = c.Seq
		}
	}
}

func (f *feed) fetch(ctx context.Context, filter store.Filter, cursor int64) ([]types.Change, error) {
	q := `SELECT seq, tbl, op, conversation_id, before_row, after_row FROM changes WHERE seq > ? AND tbl = ?`
	args := []any{cursor, string(filter.Table)}
	if filter.ConversationID != "" {
		q += ` AND conversation_id = ?`
		args = append(args, filter.ConversationID)
	}
	q += ` ORDER BY seq ASC LIMIT ?`
	args = append(args, f.s.cfg.BatchSize)

	rows, err := f.s.db.QueryContext(ctx, f.s.d.bind(q), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.Change
	for rows.Next() {
		var (
			c             types.Change
			tbl, op       string
			before, after []byte
		)
		if err := rows.Scan(&c.Seq, &tbl, &op, &c.ConversationID, &before, &after); err != nil {
			return nil, err
		}
		c.Table, c.Op = types.Table(tbl), types.Op(op)
		if len(before) > 0 {
			c.Before = json.RawMessage(before)
		}
		if len(after) > 0 {
			c.After = json.RawMessage(after)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Prune deletes changes older than age. Subscribers whose cursor is behind the
// pruned range simply resume from the next surviving seq.
func (s *Store) Prune(ctx context.Context, age time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.d.bind(`DELETE FROM changes WHERE created_at < ?`), s.d.timeArg(s.timestamp().Add(-age)))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var _ store.Subscription = (*subscription)(nil)
