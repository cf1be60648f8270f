package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

const selectConversation = `SELECT id, created_at, title, is_archived FROM conversations`

type conversations struct{ s *Store }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (types.Conversation, error) {
	var (
		c     types.Conversation
		title sql.NullString
	)
	if err := r.Scan(&c.ID, timeScanner{&c.CreatedAt}, &title, &c.IsArchived); err != nil {
		return types.Conversation{}, err
	}
	if title.Valid {
		c.Title = types.StringPtr(title.String)
	}
	return c, nil
}

func (c *conversations) ListActive(ctx context.Context) ([]types.Conversation, error) {
	rows, err := c.s.db.QueryContext(ctx, c.s.d.bind(selectConversation+` WHERE is_archived = ? ORDER BY created_at DESC, id ASC`), false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []types.Conversation
	for rows.Next() {
		cv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cv)
	}
	return out, rows.Err()
}

func (c *conversations) Get(ctx context.Context, id string) (types.Conversation, error) {
	return c.get(ctx, c.s.db, id)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *conversations) get(ctx context.Context, q queryRower, id string) (types.Conversation, error) {
	cv, err := scanConversation(q.QueryRowContext(ctx, c.s.d.bind(selectConversation+` WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Conversation{}, store.ErrNotFound
	}
	return cv, err
}

func (c *conversations) Create(ctx context.Context, title *string) (types.Conversation, error) {
	cv := types.Conversation{ID: uuid.NewString(), CreatedAt: c.s.timestamp(), Title: title}
	err := c.s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, c.s.d.bind(`INSERT INTO conversations (id, created_at, title, is_archived) VALUES (?,?,?,?)`),
			cv.ID, c.s.d.timeArg(cv.CreatedAt), nullString(title), false); err != nil {
			return err
		}
		return c.s.writeChange(ctx, tx, types.TableConversations, types.OpInsert, cv.ID, nil, cv)
	})
	if err != nil {
		return types.Conversation{}, err
	}
	return cv, nil
}

func (c *conversations) SetArchived(ctx context.Context, id string, archived bool) (types.Conversation, error) {
	return c.mutate(ctx, id, `UPDATE conversations SET is_archived = ? WHERE id = ?`, archived, func(cv *types.Conversation) {
		cv.IsArchived = archived
	})
}

func (c *conversations) SetTitle(ctx context.Context, id, title string) (types.Conversation, error) {
	return c.mutate(ctx, id, `UPDATE conversations SET title = ? WHERE id = ?`, title, func(cv *types.Conversation) {
		cv.Title = types.StringPtr(title)
	})
}

func (c *conversations) mutate(ctx context.Context, id, stmt string, value any, apply func(*types.Conversation)) (types.Conversation, error) {
	var after types.Conversation
	err := c.s.inTx(ctx, func(tx *sql.Tx) error {
		before, err := c.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, c.s.d.bind(stmt), value, id); err != nil {
			return err
		}
		after = before
		apply(&after)
		return c.s.writeChange(ctx, tx, types.TableConversations, types.OpUpdate, id, before, after)
	})
	if err != nil {
		return types.Conversation{}, err
	}
	return after, nil
}
