// Package devbackend is a development stand-in for the chat backend. It
// persists each user turn, fills in the reply, affect vector and trust score
// after a delay, extracts text from uploaded documents and serves the store's
// change feed over WebSocket.
package devbackend

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/cbbshop1/solace-sentience/internal/store"
	"github.com/cbbshop1/solace-sentience/internal/types"
)

// Config wires a Server.
type Config struct {
	Store      store.Store
	Logger     zerolog.Logger
	ReplyDelay time.Duration
	Responder  Responder
	// MaxUpload bounds /extract bodies; 0 means 10 MiB.
	MaxUpload int64
	// InsecureOrigins disables the realtime origin check.
	InsecureOrigins bool
}

// Server implements the backend endpoints.
type Server struct {
	cfg    Config
	health *ServiceHealthChecker

	ctx     context.Context
	cancel  context.CancelFunc
	replies sync.WaitGroup
}

// New builds a Server over cfg.Store.
func New(cfg Config) *Server {
	if cfg.Store == nil {
		panic("devbackend: Store is required")
	}
	if cfg.Responder == nil {
		cfg.Responder = Reflector{}
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = 10 << 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		health: NewServiceHealthChecker(cfg.Logger, NewStoreChecker("store", cfg.Store, cfg.Logger)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler { return NewRouter(s) }

// StartHealth evaluates component health every interval until ctx ends.
func (s *Server) StartHealth(ctx context.Context, interval time.Duration) {
	go s.health.Start(ctx, interval)
}

// Close abandons pending replies and waits for their workers.
func (s *Server) Close() {
	s.cancel()
	s.replies.Wait()
}

// Wait blocks until every accepted message has its reply written.
func (s *Server) Wait() { s.replies.Wait() }

type chatResponse struct {
	Status  string `json:"status"`
	EntryID int64  `json:"entry_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text, ok := types.NormalizeMessage(req.Message)
	if !ok {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if err := types.ValidateIDPresent(req.ConversationID, "conversation_id"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	log := s.cfg.Logger.With().Str("conversation_id", req.ConversationID).Logger()

	if _, err := s.cfg.Store.Conversations().Get(ctx, req.ConversationID); err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		log.Error().Err(err).Msg("conversation lookup failed")
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	history, err := s.cfg.Store.Logs().List(ctx, req.ConversationID)
	if err != nil {
		log.Error().Err(err).Msg("history lookup failed")
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	entry, err := s.cfg.Store.Logs().Insert(ctx, types.LogEntry{
		ConversationID: req.ConversationID,
		UserText:       types.StringPtr(text),
		Affect:         currentAffect(history),
	})
	if err != nil {
		log.Error().Err(err).Msg("persist user turn failed")
		writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	chatRequestsTotal.Inc()
	log.Info().Int64("entry_id", entry.ID).Msg("message accepted")

	s.replies.Add(1)
	go s.reply(entry, history, text)

	writeJSON(w, http.StatusOK, chatResponse{Status: "accepted", EntryID: entry.ID})
}

// reply fills in the backend half of entry after the configured delay.
func (s *Server) reply(entry types.LogEntry, history []types.LogEntry, text string) {
	defer s.replies.Done()
	log := s.cfg.Logger.With().Str("conversation_id", entry.ConversationID).Int64("entry_id", entry.ID).Logger()

	select {
	case <-s.ctx.Done():
		return
	case <-time.After(s.cfg.ReplyDelay):
	}

	out := s.cfg.Responder.Reply(history, text)
	entry.AIResponse = types.StringPtr(out.Text)
	entry.Reasoning = types.NewReasoning(out.Reasoning)
	entry.Affect = out.Affect
	entry.TrustScore = types.Float64Ptr(out.Trust)

	if _, err := s.cfg.Store.Logs().Update(s.ctx, entry); err != nil {
		repliesTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("write reply failed")
		return
	}
	repliesTotal.WithLabelValues("written").Inc()
	log.Debug().Float64("trust", out.Trust).Msg("reply written")
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".csv": true, ".json": true, ".log": true,
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUpload)
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer func() { _ = f.Close() }()

	body, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	sniffed := http.DetectContentType(body)
	if !textExtensions[ext] && !strings.HasPrefix(sniffed, "text/") {
		writeError(w, http.StatusUnsupportedMediaType, "only plain-text documents can be extracted")
		return
	}
	if !utf8.Valid(body) {
		writeError(w, http.StatusUnprocessableEntity, "document is not valid UTF-8")
		return
	}
	extractTotal.Inc()
	writeJSON(w, http.StatusOK, types.ExtractResponse{Text: string(body), Filename: hdr.Filename})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.health.IsHealthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "DOWN"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func currentAffect(history []types.LogEntry) types.AffectVector {
	if len(history) == 0 {
		return types.NeutralAffect()
	}
	return history[len(history)-1].Affect
}
