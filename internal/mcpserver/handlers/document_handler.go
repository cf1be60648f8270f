package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	client "github.com/cbbshop1/solace-sentience"
)

// DocumentHandler exposes export_thread and extract_text.
type DocumentHandler struct {
	client    *client.Client
	exportDir string
}

// NewDocumentHandler writes exports under exportDir.
func NewDocumentHandler(c *client.Client, exportDir string) *DocumentHandler {
	return &DocumentHandler{client: c, exportDir: exportDir}
}

func (dh *DocumentHandler) RegisterTools(s *server.MCPServer) error {
	export := mcp.NewTool("export_thread",
		mcp.WithDescription("Export the active thread as Markdown; returns the file path"),
		mcp.WithString("include_affect", mcp.Description("\"false\" omits emotion state and trust lines")),
	)
	extract := mcp.NewTool("extract_text",
		mcp.WithDescription("Extract plain text from a local document via the backend"),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path of the document to upload")),
	)
	s.AddTool(export, dh.handleExportThread)
	s.AddTool(extract, dh.handleExtractText)
	return nil
}

func (dh *DocumentHandler) handleExportThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	include := true
	if v, ok := req.GetArguments()["include_affect"].(string); ok && v == "false" {
		include = false
	}
	path, err := dh.client.Export(dh.exportDir, include)
	if err != nil {
		log.Error().Err(err).Msg("export_thread failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to export thread: %v", err)), nil
	}
	return mcp.NewToolResultText(path), nil
}

func (dh *DocumentHandler) handleExtractText(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to open document: %v", err)), nil
	}
	defer func() { _ = f.Close() }()

	res, err := dh.client.ExtractText(ctx, filepath.Base(path), f)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("extract_text failed")
		return mcp.NewToolResultError(fmt.Sprintf("failed to extract text: %v", err)), nil
	}
	b, _ := json.Marshal(res)
	return mcp.NewToolResultText(string(b)), nil
}
