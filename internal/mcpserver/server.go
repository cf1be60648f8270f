// Package mcpserver exposes a Client's threads, messages and exports as MCP tools.
package mcpserver

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	client "github.com/cbbshop1/solace-sentience"
	"github.com/cbbshop1/solace-sentience/internal/mcpserver/handlers"
)

// Transport choices.
const (
	TransportAuto  = "auto"
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config holds the MCP server settings. Loaded from SOLACE_MCP_* variables.
type Config struct {
	ServerName        string        `envconfig:"SERVER_NAME" default:"solace-mcp-server"`
	ServerVersion     string        `envconfig:"SERVER_VERSION" default:"0.1.0"`
	Transport         string        `envconfig:"TRANSPORT" default:"auto"`
	Addr              string        `envconfig:"ADDR" default:":8765"`
	ExportDir         string        `envconfig:"EXPORT_DIR" default:"./exports"`
	ShutdownTimeout   time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	HTTPReadTimeout   time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"5s"`
	HTTPIdleTimeout   time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"120s"`
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
}

// LoadConfig reads Config from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("SOLACE_MCP", &cfg); err != nil {
		return Config{}, err
	}
	switch cfg.Transport {
	case TransportAuto, TransportStdio, TransportHTTP:
	default:
		return Config{}, errors.New("SOLACE_MCP_TRANSPORT must be auto, stdio or http")
	}
	return cfg, nil
}

type toolRegisterer interface {
	RegisterTools(s *server.MCPServer) error
}

// NewServer builds an MCP server with every tool registered against c.
func NewServer(c *client.Client, cfg Config) (*server.MCPServer, error) {
	s := server.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		server.WithToolCapabilities(true),
	)
	for _, h := range []toolRegisterer{
		handlers.NewThreadHandler(c),
		handlers.NewMessageHandler(c),
		handlers.NewDocumentHandler(c, cfg.ExportDir),
	} {
		if err := h.RegisterTools(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Run serves c's tools until ctx is canceled (HTTP) or stdin closes (stdio).
func Run(ctx context.Context, c *client.Client, cfg Config) error {
	s, err := NewServer(c, cfg)
	if err != nil {
		return err
	}

	if useStdio(cfg.Transport) {
		log.Info().Msg("Starting Solace MCP server (stdio transport)")
		return server.ServeStdio(s)
	}

	log.Info().Str("addr", cfg.Addr).Msg("Starting Solace MCP server (Streamable HTTP)")
	streamSrv := server.NewStreamableHTTPServer(
		s,
		server.WithEndpointPath("/mcp"),
		server.WithHeartbeatInterval(cfg.HeartbeatInterval),
	)
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      streamSrv,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: 0, // SSE streams have no deadline
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during HTTP server shutdown")
	}
	if err := streamSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during MCP server shutdown")
	}
	log.Info().Msg("MCP server shutdown complete")
	return nil
}

// useStdio resolves the auto transport: stdio when stdin is not a terminal.
func useStdio(transport string) bool {
	switch transport {
	case TransportStdio:
		return true
	case TransportHTTP:
		return false
	}
	if fi, err := os.Stdin.Stat(); err == nil {
		return fi.Mode()&os.ModeCharDevice == 0
	}
	return false
}
