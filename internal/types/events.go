package types

import (
	"encoding/json"
	"fmt"
)

// Table names a collection in the backing store.
type Table string

const (
	TableConversations Table = "conversations"
	TableLogs          Table = "solace_logs"
)

// Op is the row-level operation carried by a push event.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is a row-level notification delivered over a live subscription.
// Before is set for update/delete when the store captures it; After is set for insert/update.
type Change struct {
	Seq            int64           `json:"seq"`
	Op             Op              `json:"op"`
	Table          Table           `json:"table"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Before         json.RawMessage `json:"before,omitempty"`
	After          json.RawMessage `json:"after,omitempty"`
}

// Row returns the payload describing the row's identity: After for
// insert/update, Before for delete.
func (c Change) Row() (json.RawMessage, error) {
	switch c.Op {
	case OpInsert, OpUpdate:
		if len(c.After) == 0 {
			return nil, fmt.Errorf("%s %s: missing after payload", c.Table, c.Op)
		}
		return c.After, nil
	case OpDelete:
		if len(c.Before) == 0 {
			return nil, fmt.Errorf("%s delete: missing before payload", c.Table)
		}
		return c.Before, nil
	default:
		return nil, fmt.Errorf("unknown op %q", c.Op)
	}
}

// DecodeConversation decodes the row carried by a conversations change.
func (c Change) DecodeConversation() (Conversation, error) {
	var out Conversation
	raw, err := c.Row()
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

// DecodeLogEntry decodes the row carried by a solace_logs change.
func (c Change) DecodeLogEntry() (LogEntry, error) {
	var out LogEntry
	raw, err := c.Row()
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(raw, &out)
	return out, err
}

// ConnectionState reflects the health of a live event subscription.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateSyncing      ConnectionState = "syncing"
	StateDisconnected ConnectionState = "disconnected"
)

// ------------------------------
// Backend boundary DTOs
// ------------------------------

// ChatRequest is the body accepted by the backend's chat endpoint.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

// ExtractResponse is returned by the backend's file extraction endpoint.
type ExtractResponse struct {
	Text     string `json:"text"`
	Filename string `json:"filename,omitempty"`
}
