package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	client "github.com/cbbshop1/solace-sentience"
)

const (
	defaultLogLimit = 20
	maxLogLimit     = 200
	maxWait         = 120 * time.Second
)

// MessageHandler exposes send_message, cancel_message and read_log.
type MessageHandler struct {
	client *client.Client
}

func NewMessageHandler(c *client.Client) *MessageHandler { return &MessageHandler{client: c} }

type entryLite struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	User      *string   `json:"user,omitempty"`
	Reply     *string   `json:"reply,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
	Trust     float64   `json:"trust"`
}

type logView struct {
	ThreadID string                 `json:"threadId"`
	State    client.ConnectionState `json:"state"`
	Sending  bool                   `json:"sending"`
	Pending  string                 `json:"pending,omitempty"`
	Affect   client.AffectVector    `json:"affect"`
	Trust    float64                `json:"trust"`
	Entries  []entryLite            `json:"entries"`
}

func (mh *MessageHandler) RegisterTools(s *server.MCPServer) error {
	send := mcp.NewTool("send_message",
		mcp.WithDescription("Send a message to the active (or given) thread; the reply arrives asynchronously in the log"),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
		mcp.WithString("thread_id", mcp.Description("Conversation UUID; defaults to the active thread")),
		mcp.WithString("wait_seconds", mcp.Description("Wait up to N seconds (max 120) for the reply before returning")),
	)
	cancel := mcp.NewTool("cancel_message",
		mcp.WithDescription("Abort the in-flight send and discard the pending message"),
	)
	read := mcp.NewTool("read_log",
		mcp.WithDescription("Read the active thread's log with its current affect and trust"),
		mcp.WithString("limit", mcp.Description("Most recent entries to return (1-200), default 20")),
	)
	s.AddTool(send, mh.handleSendMessage)
	s.AddTool(cancel, mh.handleCancelMessage)
	s.AddTool(read, mh.handleReadLog)
	return nil
}

func (mh *MessageHandler) handleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	threadID := mh.client.Active()
	if v, ok := req.GetArguments()["thread_id"].(string); ok && v != "" {
		threadID = v
	}
	var wait time.Duration
	if v, ok := req.GetArguments()["wait_seconds"].(string); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return mcp.NewToolResultError("wait_seconds must be a non-negative integer"), nil
		}
		wait = min(time.Duration(n)*time.Second, maxWait)
	}

	log.Debug().Str("thread_id", threadID).Int("text_len", len(text)).Dur("wait", wait).Msg("send_message invoked")

	if threadID != mh.client.Active() {
		if err := mh.client.Select(ctx, threadID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to select thread: %v", err)), nil
		}
	}

	start := time.Now()
	if wait == 0 {
		if err := mh.client.Send(ctx, threadID, text); err != nil {
			log.Error().Err(err).Str("thread_id", threadID).Dur("elapsed", time.Since(start)).Msg("send_message failed")
			return mcp.NewToolResultError(fmt.Sprintf("failed to send message: %v", err)), nil
		}
		return mcp.NewToolResultText("sent"), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	entry, err := mh.client.SendAndWait(waitCtx, threadID, text)
	switch {
	case errors.Is(err, client.ErrReplyPending):
		return mcp.NewToolResultText("sent; reply still pending"), nil
	case err != nil:
		log.Error().Err(err).Str("thread_id", threadID).Dur("elapsed", time.Since(start)).Msg("send_message failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to send message: %v", err)), nil
	}
	b, _ := json.Marshal(toEntryLite(entry))
	return mcp.NewToolResultText(string(b)), nil
}

func (mh *MessageHandler) handleCancelMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := mh.client.Cancel(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to cancel: %v", err)), nil
	}
	return mcp.NewToolResultText("canceled"), nil
}

func (mh *MessageHandler) handleReadLog(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := defaultLogLimit
	if v, ok := req.GetArguments()["limit"].(string); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLogLimit {
			return mcp.NewToolResultError(fmt.Sprintf("limit must be between 1 and %d", maxLogLimit)), nil
		}
		limit = n
	}

	v := mh.client.View()
	if v.ConversationID == "" {
		return mcp.NewToolResultError(client.ErrNoActiveConversation.Error()), nil
	}
	entries := v.Entries
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := logView{
		ThreadID: v.ConversationID,
		State:    v.State,
		Sending:  v.IsSending,
		Affect:   v.Affect,
		Trust:    v.Trust,
		Entries:  make([]entryLite, len(entries)),
	}
	if v.Pending != nil {
		out.Pending = v.Pending.Text
	}
	for i, e := range entries {
		out.Entries[i] = toEntryLite(e)
	}
	b, _ := json.Marshal(out)
	return mcp.NewToolResultText(string(b)), nil
}

func toEntryLite(e client.LogEntry) entryLite {
	el := entryLite{ID: e.ID, CreatedAt: e.CreatedAt, User: e.UserText, Reply: e.AIResponse, Trust: e.Trust()}
	if r, ok := e.Reasoning.Text(); ok {
		el.Reasoning = r
	}
	return el
}
