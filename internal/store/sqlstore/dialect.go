package sqlstore

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// timeLayout is fixed width so that text timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type dialect struct {
	name string
	// bindDollar rewrites ? placeholders to $1, $2, ...
	bindDollar bool
	// lockChanges serializes writers so change seqs commit in order.
	lockChanges string
	timeArg     func(time.Time) any
	schema      []string
}

var postgresDialect = dialect{
	name:        "postgres",
	bindDollar:  true,
	lockChanges: `SELECT pg_advisory_xact_lock(74657)`,
	timeArg:     func(t time.Time) any { return t },
	schema: []string{
		`CREATE TABLE IF NOT EXISTS conversations (
    id          TEXT PRIMARY KEY,
    created_at  TIMESTAMPTZ NOT NULL,
    title       TEXT,
    is_archived BOOLEAN NOT NULL DEFAULT FALSE
)`,
		`CREATE INDEX IF NOT EXISTS conversations_active_idx ON conversations (is_archived, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS solace_logs (
    id              BIGSERIAL PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id),
    created_at      TIMESTAMPTZ NOT NULL,
    user_txt        TEXT,
    ai_response     TEXT,
    reasoning       TEXT,
    emotion_state   JSONB,
    trust_score     DOUBLE PRECISION
)`,
		`CREATE INDEX IF NOT EXISTS solace_logs_conversation_idx ON solace_logs (conversation_id, id)`,
		`CREATE TABLE IF NOT EXISTS changes (
    seq             BIGSERIAL PRIMARY KEY,
    tbl             TEXT NOT NULL,
    op              TEXT NOT NULL,
    conversation_id TEXT NOT NULL,
    before_row      JSONB,
    after_row       JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	},
}

var sqliteDialect = dialect{
	name:    "sqlite",
	timeArg: func(t time.Time) any { return t.UTC().Format(timeLayout) },
	schema: []string{
		`CREATE TABLE IF NOT EXISTS conversations (
    id          TEXT PRIMARY KEY,
    created_at  TEXT NOT NULL,
    title       TEXT,
    is_archived INTEGER NOT NULL DEFAULT 0
)`,
		`CREATE INDEX IF NOT EXISTS conversations_active_idx ON conversations (is_archived, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS solace_logs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id TEXT NOT NULL REFERENCES conversations(id),
    created_at      TEXT NOT NULL,
    user_txt        TEXT,
    ai_response     TEXT,
    reasoning       TEXT,
    emotion_state   TEXT,
    trust_score     REAL
)`,
		`CREATE INDEX IF NOT EXISTS solace_logs_conversation_idx ON solace_logs (conversation_id, id)`,
		`CREATE TABLE IF NOT EXISTS changes (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    tbl             TEXT NOT NULL,
    op              TEXT NOT NULL,
    conversation_id TEXT NOT NULL,
    before_row      TEXT,
    after_row       TEXT,
    created_at      TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
	},
}

func (d dialect) bind(query string) string {
	if !d.bindDollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// timeScanner reads timestamps stored natively or as text.
type timeScanner struct{ dst *time.Time }

func (s timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*s.dst = v.UTC()
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	case nil:
		*s.dst = time.Time{}
		return nil
	default:
		return fmt.Errorf("sqlstore: cannot scan %T into time", src)
	}
}

func (s timeScanner) parse(v string) error {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			*s.dst = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("sqlstore: unparseable time %q", v)
}

// nullString maps an optional string to a driver value.
func nullString(p *string) driver.Value {
	if p == nil {
		return nil
	}
	return *p
}

func nullFloat(p *float64) driver.Value {
	if p == nil {
		return nil
	}
	return *p
}
