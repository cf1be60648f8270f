package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/cbbshop1/solace-sentience/internal/config"
	"github.com/cbbshop1/solace-sentience/internal/factory"
	"github.com/cbbshop1/solace-sentience/internal/logger"
	"github.com/cbbshop1/solace-sentience/internal/mcpserver"
)

func main() {
	if err := run(); err != nil {
		log.Error().Err(err).Msg("MCP server exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.New()
	if err != nil {
		return err
	}
	mcpCfg, err := mcpserver.LoadConfig()
	if err != nil {
		return err
	}
	// stdout carries the stdio protocol; logs go to stderr.
	logger.InitConsole(os.Stderr, cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, closer, err := factory.NewClient(ctx, cfg, log.Logger)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	if err := c.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("initial conversation load failed; continuing")
	}
	return mcpserver.Run(ctx, c, mcpCfg)
}
