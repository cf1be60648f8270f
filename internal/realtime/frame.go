// Package realtime carries a store change feed over WebSocket. Handler
// exposes any store.Feed; Feed subscribes to a remote Handler and satisfies
// store.Feed itself, so components cannot tell the two apart.
package realtime

import (
	"fmt"
	"net/url"

	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

// FrameType tags a server-to-client message.
type FrameType string

const (
	// FrameAck is sent once the server-side subscription is established.
	FrameAck FrameType = "ack"
	// FrameChange carries one change.
	FrameChange FrameType = "change"
)

// Frame is the JSON message written for every server event.
type Frame struct {
	Type   FrameType     `json:"type"`
	Change *types.Change `json:"change,omitempty"`
}

func encodeFilter(f store.Filter) url.Values {
	q := url.Values{}
	q.Set("table", string(f.Table))
	if f.ConversationID != "" {
		q.Set("conversation_id", f.ConversationID)
	}
	return q
}

func decodeFilter(q url.Values) (store.Filter, error) {
	f := store.Filter{Table: types.Table(q.Get("table")), ConversationID: q.Get("conversation_id")}
	switch f.Table {
	case types.TableConversations, types.TableLogs:
		return f, nil
	default:
		return f, fmt.Errorf("unknown table %q", f.Table)
	}
}
