// Package api is the HTTP boundary to the chat backend. The backend accepts
// a message, persists the user turn and fills in the reply asynchronously; it
// also turns uploaded documents into plain text.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/cbbshop1/solace-sentience/internal/errors"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

// DefaultBaseURL is where the backend listens in local development.
const DefaultBaseURL = "http://localhost:8000"

// Backend talks to the chat backend.
type Backend struct {
	rc *resty.Client
}

// New returns a Backend for baseURL. httpClient supplies the transport and
// timeout; nil uses resty's default client.
func New(baseURL string, httpClient *http.Client) *Backend {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	var rc *resty.Client
	if httpClient != nil {
		rc = resty.NewWithClient(httpClient)
	} else {
		rc = resty.New()
	}
	rc.SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json")
	return &Backend{rc: rc}
}

// BaseURL returns the backend root.
func (b *Backend) BaseURL() string { return b.rc.BaseURL }

// Chat posts one user message. Success means the backend accepted it.
func (b *Backend) Chat(ctx context.Context, req types.ChatRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := types.ValidateIDPresent(req.ConversationID, "conversation_id"); err != nil {
		return err
	}
	resp, err := b.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("/chat")
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.NewNetworkError("chat", err)
	}
	if !resp.IsSuccess() {
		return errors.NewHTTPError(resp.StatusCode(), resp.String(), "chat")
	}
	return nil
}

// ExtractText uploads a document and returns its text content.
func (b *Backend) ExtractText(ctx context.Context, filename string, r io.Reader) (*types.ExtractResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(filename) == "" {
		return nil, fmt.Errorf("filename is required")
	}
	var out types.ExtractResponse
	resp, err := b.rc.R().
		SetContext(ctx).
		SetFileReader("file", filename, r).
		SetResult(&out).
		Post("/extract")
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewNetworkError("extract", err)
	}
	if !resp.IsSuccess() {
		return nil, errors.NewHTTPError(resp.StatusCode(), resp.String(), "extract")
	}
	if out.Filename == "" {
		out.Filename = filename
	}
	return &out, nil
}

// Health checks that the backend answers.
func (b *Backend) Health(ctx context.Context) error {
	resp, err := b.rc.R().SetContext(ctx).Get("/healthz")
	if err != nil {
		return errors.NewNetworkError("health", err)
	}
	if !resp.IsSuccess() {
		return errors.NewHTTPError(resp.StatusCode(), resp.String(), "health")
	}
	return nil
}
