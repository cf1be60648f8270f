package types

import (
	"encoding/json"
	"strings"
	"time"
)

// ------------------------------
// Core Domain Entities
// ------------------------------

// Conversation is a named thread grouping an ordered sequence of log entries.
type Conversation struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Title      *string   `json:"title"`
	IsArchived bool      `json:"is_archived"`
}

// DisplayTitle returns the title or a placeholder when none is set.
func (c Conversation) DisplayTitle() string {
	if c.Title == nil || strings.TrimSpace(*c.Title) == "" {
		return "Untitled"
	}
	return *c.Title
}

// LogEntry is one turn-pair (user text and/or backend reply) with derived affect/trust data.
type LogEntry struct {
	ID             int64        `json:"id"`
	ConversationID string       `json:"conversation_id"`
	CreatedAt      time.Time    `json:"created_at"`
	UserText       *string      `json:"user_txt"`
	AIResponse     *string      `json:"ai_response"`
	Reasoning      Reasoning    `json:"reasoning"`
	Affect         AffectVector `json:"emotion_state"`
	TrustScore     *float64     `json:"trust_score"`
}

// Pending reports whether the backend has not filled in a reply yet.
func (e LogEntry) Pending() bool { return e.AIResponse == nil }

// Trust returns the entry's trust score or the neutral default.
func (e LogEntry) Trust() float64 {
	if e.TrustScore == nil {
		return NeutralTrust
	}
	return *e.TrustScore
}

// UnmarshalJSON applies the neutral affect default when emotion_state is null or absent.
func (e *LogEntry) UnmarshalJSON(b []byte) error {
	type alias LogEntry
	aux := alias{Affect: NeutralAffect()}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*e = LogEntry(aux)
	return nil
}

// PendingMessage is the client-only optimistic shadow of a just-submitted message.
// It never carries a store id.
type PendingMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// DefaultTitle is the title given to conversations created without one.
func DefaultTitle(now time.Time) string {
	return "Session " + now.Format("1/2/2006")
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 { return &f }
