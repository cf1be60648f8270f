package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	client "github.com/cbbshop1/solace-sentience"
)

// ThreadHandler exposes conversation directory tools.
type ThreadHandler struct {
	client *client.Client
}

func NewThreadHandler(c *client.Client) *ThreadHandler { return &ThreadHandler{client: c} }

type threadLite struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Active    bool      `json:"active"`
}

func (th *ThreadHandler) RegisterTools(s *server.MCPServer) error {
	list := mcp.NewTool("list_threads",
		mcp.WithDescription("List non-archived conversation threads, newest first; marks the active one"),
	)
	create := mcp.NewTool("create_thread",
		mcp.WithDescription("Create a conversation thread and make it active; returns id and title"),
		mcp.WithString("title", mcp.Description("Optional title; defaults to 'Session <date>'")),
	)
	sel := mcp.NewTool("select_thread",
		mcp.WithDescription("Make a thread the active conversation"),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Conversation UUID")),
	)
	archive := mcp.NewTool("archive_thread",
		mcp.WithDescription("Archive a thread; archiving the active thread selects another"),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Conversation UUID")),
	)
	rename := mcp.NewTool("rename_thread",
		mcp.WithDescription("Rename a thread; a blank title is ignored"),
		mcp.WithString("thread_id", mcp.Required(), mcp.Description("Conversation UUID")),
		mcp.WithString("title", mcp.Required(), mcp.Description("New title")),
	)
	s.AddTool(list, th.handleListThreads)
	s.AddTool(create, th.handleCreateThread)
	s.AddTool(sel, th.handleSelectThread)
	s.AddTool(archive, th.handleArchiveThread)
	s.AddTool(rename, th.handleRenameThread)
	return nil
}

func (th *ThreadHandler) handleListThreads(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	log.Debug().Msg("list_threads invoked")

	active := th.client.Active()
	convs := th.client.Conversations()
	out := make([]threadLite, len(convs))
	for i, cv := range convs {
		out[i] = threadLite{ID: cv.ID, Title: cv.DisplayTitle(), CreatedAt: cv.CreatedAt, Active: cv.ID == active}
	}
	b, _ := json.Marshal(out)
	return mcp.NewToolResultText(string(b)), nil
}

func (th *ThreadHandler) handleCreateThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var title string
	if v, ok := req.GetArguments()["title"].(string); ok {
		title = v
	}
	log.Debug().Str("title", title).Msg("create_thread invoked")

	start := time.Now()
	cv, err := th.client.Create(ctx, title)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("create_thread failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to create thread: %v", err)), nil
	}
	b, _ := json.Marshal(threadLite{ID: cv.ID, Title: cv.DisplayTitle(), CreatedAt: cv.CreatedAt, Active: true})
	return mcp.NewToolResultText(string(b)), nil
}

func (th *ThreadHandler) handleSelectThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, ok := th.findThread(id); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("thread %s not found", id)), nil
	}
	if err := th.client.Select(ctx, id); err != nil {
		log.Error().Err(err).Str("thread_id", id).Msg("select_thread failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to select thread: %v", err)), nil
	}
	return mcp.NewToolResultText("selected"), nil
}

func (th *ThreadHandler) handleArchiveThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	log.Debug().Str("thread_id", id).Msg("archive_thread invoked")

	if err := th.client.Archive(ctx, id); err != nil {
		log.Error().Err(err).Str("thread_id", id).Msg("archive_thread failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to archive thread: %v", err)), nil
	}
	out := map[string]any{"archived": id, "active": th.client.Active()}
	b, _ := json.Marshal(out)
	return mcp.NewToolResultText(string(b)), nil
}

func (th *ThreadHandler) handleRenameThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("thread_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, _ := req.RequireString("title")

	if err := th.client.Rename(ctx, id, title); err != nil {
		log.Error().Err(err).Str("thread_id", id).Msg("rename_thread failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to rename thread: %v", err)), nil
	}
	return mcp.NewToolResultText("renamed"), nil
}

func (th *ThreadHandler) findThread(id string) (client.Conversation, bool) {
	for _, cv := range th.client.Conversations() {
		if cv.ID == id {
			return cv, true
		}
	}
	return client.Conversation{}, false
}
