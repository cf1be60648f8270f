package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cbbshop1/solace-sentience/internal/config"
	"github.com/cbbshop1/solace-sentience/internal/devbackend"
	"github.com/cbbshop1/solace-sentience/internal/factory"
	"github.com/cbbshop1/solace-sentience/internal/logger"
)

func main() {
	addr := flag.String("addr", "", "Override SOLACE_DEV_BACKEND_ADDR")
	flag.Parse()

	log := logger.New("solace-devbackend")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *addr != "" {
		cfg.DevBackendAddr = *addr
	}
	log = log.Level(cfg.Level())

	log.Info().
		Str("store_driver", cfg.StoreDriver).
		Str("addr", cfg.DevBackendAddr).
		Dur("reply_delay", cfg.ReplyDelay).
		Msg("Dev backend starting…")

	// -------- Storage layer -----------------
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	st, closer, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Store unavailable")
	}
	defer func() { _ = closer.Close() }()

	// -------- Backend & health --------------
	backend := devbackend.New(devbackend.Config{
		Store:      st,
		Logger:     log,
		ReplyDelay: cfg.ReplyDelay,
	})
	backend.StartHealth(ctx, 30*time.Second)

	// -------- Router & Server --------------
	server := &http.Server{
		Addr:         cfg.DevBackendAddr,
		Handler:      backend.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // realtime sockets are long-lived; the handler bounds each write
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.DevBackendAddr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server…")
	stop()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	backend.Close()
	log.Info().Msg("Server exited")
}
