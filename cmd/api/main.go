package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/Alias1177/payrelay/internal/api"
	"github.com/Alias1177/payrelay/internal/app"
	"github.com/Alias1177/payrelay/internal/config"
	"github.com/Alias1177/payrelay/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.ValidateRelay(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	if !cfg.YooKassa.Configured() {
		logger.Warn().Msg("YooKassa credentials are not configured, create-payment will answer 503")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize relay")
	}
	defer relay.Close()

	if err := relay.Sweeper.Start(ctx, cfg.Sweep.Schedule, cfg.Sweep.RunOnStart); err != nil {
		logger.Fatal().Err(err).Msg("Failed to schedule expiry sweep")
	}
	defer relay.Sweeper.Stop()

	server := api.NewServer(cfg.Server, relay.Store, relay.History, relay.Payments, relay.Webhooks, logger)
	if err := server.ListenAndServe(ctx); err != nil {
		logger.Error().Err(err).Msg("API server stopped with error")
		return
	}
	logger.Info().Msg("Relay stopped")
}
