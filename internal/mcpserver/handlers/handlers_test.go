package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	client "github.com/cbbshop1/solace-sentience"
	"github.com/cbbshop1/solace-sentience/internal/devbackend"
	"github.com/cbbshop1/solace-sentience/internal/notify"
	"github.com/cbbshop1/solace-sentience/internal/store/memstore"
)

func newClient(t *testing.T) *client.Client {
	t.Helper()
	mem := memstore.New()
	backend := devbackend.New(devbackend.Config{Store: mem, ReplyDelay: 10 * time.Millisecond})
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(func() {
		srv.Close()
		backend.Close()
	})
	c, err := client.New(mem, srv.URL, client.WithNotifier(notify.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Start(context.Background()))
	return c
}

func call(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	return res.Content[0].(mcp.TextContent).Text
}

func TestThreadTools(t *testing.T) {
	c := newClient(t)
	th := NewThreadHandler(c)
	ctx := context.Background()

	res, err := th.handleCreateThread(ctx, call(map[string]any{"title": "first"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	var created threadLite
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &created))
	assert.Equal(t, "first", created.Title)
	assert.Equal(t, created.ID, c.Active())

	res, err = th.handleRenameThread(ctx, call(map[string]any{"thread_id": created.ID, "title": "renamed"}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	res, err = th.handleListThreads(ctx, call(nil))
	require.NoError(t, err)
	var listed []threadLite
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "renamed", listed[0].Title)
	assert.True(t, listed[0].Active)

	res, err = th.handleSelectThread(ctx, call(map[string]any{"thread_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = th.handleArchiveThread(ctx, call(map[string]any{"thread_id": created.ID}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	var archived map[string]string
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &archived))
	assert.NotEmpty(t, archived["active"])
	assert.NotEqual(t, created.ID, archived["active"])
}

func TestMessageTools(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	mh := NewMessageHandler(c)

	res, err := mh.handleReadLog(ctx, call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError, "no active thread yet")

	_, err = c.Create(ctx, "talk")
	require.NoError(t, err)

	res, err = mh.handleSendMessage(ctx, call(map[string]any{"text": "I am grateful today", "wait_seconds": "5"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	var reply entryLite
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &reply))
	require.NotNil(t, reply.Reply)
	assert.Equal(t, "I am grateful today", *reply.User)

	res, err = mh.handleReadLog(ctx, call(map[string]any{"limit": "5"}))
	require.NoError(t, err)
	var view logView
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &view))
	assert.Len(t, view.Entries, 1)
	assert.Empty(t, view.Pending)

	res, err = mh.handleReadLog(ctx, call(map[string]any{"limit": "0"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = mh.handleSendMessage(ctx, call(map[string]any{"text": "   "}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = mh.handleCancelMessage(ctx, call(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
}

func TestDocumentTools(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()
	dir := t.TempDir()
	dh := NewDocumentHandler(c, dir)

	_, err := c.Create(ctx, "Export Me")
	require.NoError(t, err)

	res, err := dh.handleExportThread(ctx, call(map[string]any{"include_affect": "false"}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	path := text(t, res)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "export-me-"))

	doc := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(doc, []byte("# heading\nbody"), 0o600))
	res, err = dh.handleExtractText(ctx, call(map[string]any{"path": doc}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))
	var out client.ExtractResponse
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	assert.Equal(t, "# heading\nbody", out.Text)

	res, err = dh.handleExtractText(ctx, call(map[string]any{"path": filepath.Join(dir, "missing.txt")}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
