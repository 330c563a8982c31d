package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/Alias1177/payrelay/internal/app"
	"github.com/Alias1177/payrelay/internal/bot"
	"github.com/Alias1177/payrelay/internal/config"
	"github.com/Alias1177/payrelay/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	if err := cfg.ValidateBot(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	if cfg.Telegram.WebAppURL == "" || cfg.Telegram.TinkoffPaymentURL == "" {
		logger.Warn().Msg("WEBAPP_URL or TINKOFF_PAYMENT_URL is empty, the /start menu will miss buttons")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	relay, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize bot")
	}
	defer relay.Close()

	handler := bot.NewHandler(relay.Bot, relay.Store, relay.Ledger, relay.History, relay.Notifier, bot.Options{
		WebAppURL:         cfg.Telegram.WebAppURL,
		TinkoffPaymentURL: cfg.Telegram.TinkoffPaymentURL,
		AdminChatID:       cfg.Telegram.AdminChatID,
	}, logger)

	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := relay.Bot.GetUpdatesChan(updateConfig)

	logger.Info().Msg("Bot started, waiting for /start")
	handler.Run(ctx, updates)

	relay.Bot.StopReceivingUpdates()
	logger.Info().Msg("Bot stopped")
}
