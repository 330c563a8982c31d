package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/Alias1177/payrelay/internal/app"
	"github.com/Alias1177/payrelay/internal/config"
	"github.com/Alias1177/payrelay/internal/logging"
)

func main() {
	checkID := flag.String("check", "", "look up a YooKassa payment by id and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *checkID != "" {
		p, err := app.NewPayments(cfg, logger).GetPayment(ctx, *checkID)
		if err != nil {
			logger.Fatal().Err(err).Str("payment_id", *checkID).Msg("Failed to fetch payment")
		}
		fmt.Printf("Payment %s: status=%s paid=%t amount=%s paid_at=%s\n",
			p.ID, p.Status, p.Paid, p.Amount.String(), p.PaidAt)
		return
	}

	if err := cfg.ValidateRelay(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	relay, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize relay")
	}
	defer relay.Close()

	result, err := relay.Sweeper.RunOnce(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Sweep failed")
	}

	logger.Info().
		Int("checked", result.Checked).
		Int("skipped", result.Skipped).
		Int("reminders", result.Reminders).
		Int("suspensions", result.Suspensions).
		Int("failures", result.Failures).
		Msg("Sweep completed")

	fmt.Printf("\nSweep completed: %d checked, %d reminders, %d suspensions, %d failed\n",
		result.Checked, result.Reminders, result.Suspensions, result.Failures)
}
