package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

const selectLog = `SELECT id, conversation_id, created_at, user_txt, ai_response, reasoning, emotion_state, trust_score FROM solace_logs`

type logs struct{ s *Store }

func scanLog(r rowScanner) (types.LogEntry, error) {
	var (
		e                          types.LogEntry
		userTxt, aiResp, reasoning sql.NullString
		affect                     []byte
		trust                      sql.NullFloat64
	)
	if err := r.Scan(&e.ID, &e.ConversationID, timeScanner{&e.CreatedAt}, &userTxt, &aiResp, &reasoning, &affect, &trust); err != nil {
		return types.LogEntry{}, err
	}
	if userTxt.Valid {
		e.UserText = types.StringPtr(userTxt.String)
	}
	if aiResp.Valid {
		e.AIResponse = types.StringPtr(aiResp.String)
	}
	if reasoning.Valid {
		e.Reasoning = types.NewReasoning(reasoning.String)
	}
	e.Affect = types.NeutralAffect()
	if len(affect) > 0 {
		if err := json.Unmarshal(affect, &e.Affect); err != nil {
			return types.LogEntry{}, err
		}
	}
	if trust.Valid {
		e.TrustScore = types.Float64Ptr(trust.Float64)
	}
	return e, nil
}

func affectArg(a types.AffectVector) (any, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func reasoningArg(r types.Reasoning) any {
	if txt, ok := r.Text(); ok {
		return txt
	}
	return nil
}

func (l *logs) List(ctx context.Context, conversationID string) ([]types.LogEntry, error) {
	rows, err := l.s.db.QueryContext(ctx, l.s.d.bind(selectLog+` WHERE conversation_id = ? ORDER BY id ASC`), conversationID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []types.LogEntry
	for rows.Next() {
		e, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *logs) get(ctx context.Context, tx *sql.Tx, id int64) (types.LogEntry, error) {
	e, err := scanLog(tx.QueryRowContext(ctx, l.s.d.bind(selectLog+` WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return types.LogEntry{}, store.ErrNotFound
	}
	return e, err
}

func (l *logs) Insert(ctx context.Context, e types.LogEntry) (types.LogEntry, error) {
	e.CreatedAt = l.s.timestamp()
	affect, err := affectArg(e.Affect)
	if err != nil {
		return types.LogEntry{}, err
	}
	err = l.s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, l.s.d.bind(`INSERT INTO solace_logs (conversation_id, created_at, user_txt, ai_response, reasoning, emotion_state, trust_score)
VALUES (?,?,?,?,?,?,?) RETURNING id`),
			e.ConversationID, l.s.d.timeArg(e.CreatedAt), nullString(e.UserText), nullString(e.AIResponse), reasoningArg(e.Reasoning), affect, nullFloat(e.TrustScore))
		if err := row.Scan(&e.ID); err != nil {
			return err
		}
		return l.s.writeChange(ctx, tx, types.TableLogs, types.OpInsert, e.ConversationID, nil, e)
	})
	if err != nil {
		return types.LogEntry{}, err
	}
	return e, nil
}

func (l *logs) Update(ctx context.Context, e types.LogEntry) (types.LogEntry, error) {
	affect, err := affectArg(e.Affect)
	if err != nil {
		return types.LogEntry{}, err
	}
	err = l.s.inTx(ctx, func(tx *sql.Tx) error {
		before, err := l.get(ctx, tx, e.ID)
		if err != nil {
			return err
		}
		e.ConversationID = before.ConversationID
		e.CreatedAt = before.CreatedAt
		if _, err := tx.ExecContext(ctx, l.s.d.bind(`UPDATE solace_logs SET user_txt = ?, ai_response = ?, reasoning = ?, emotion_state = ?, trust_score = ? WHERE id = ?`),
			nullString(e.UserText), nullString(e.AIResponse), reasoningArg(e.Reasoning), affect, nullFloat(e.TrustScore), e.ID); err != nil {
			return err
		}
		return l.s.writeChange(ctx, tx, types.TableLogs, types.OpUpdate, e.ConversationID, before, e)
	})
	if err != nil {
		return types.LogEntry{}, err
	}
	return e, nil
}

func (l *logs) Delete(ctx context.Context, id int64) error {
	return l.s.inTx(ctx, func(tx *sql.Tx) error {
		before, err := l.get(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, l.s.d.bind(`DELETE FROM solace_logs WHERE id = ?`), id); err != nil {
			return err
		}
		return l.s.writeChange(ctx, tx, types.TableLogs, types.OpDelete, before.ConversationID, before, nil)
	})
}
