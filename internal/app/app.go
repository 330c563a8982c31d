// Package app assembles the relay components from configuration.
package app

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/Alias1177/payrelay/internal/config"
	"github.com/Alias1177/payrelay/internal/history"
	"github.com/Alias1177/payrelay/internal/logging"
	"github.com/Alias1177/payrelay/internal/payment"
	platformhttp "github.com/Alias1177/payrelay/internal/platform/http"
	"github.com/Alias1177/payrelay/internal/storage"
	"github.com/Alias1177/payrelay/internal/subscription"
	"github.com/Alias1177/payrelay/internal/telegram"
	"github.com/Alias1177/payrelay/internal/webhook"
)

// App holds the wired components shared by the binaries
type App struct {
	Config   *config.Config
	Store    *storage.Store
	Bot      *tgbotapi.BotAPI
	Notifier *telegram.Notifier
	History  *history.Log
	Ledger   *subscription.Ledger
	Payments *payment.Client
	Webhooks *webhook.Processor
	Sweeper  *subscription.Sweeper
	Logger   zerolog.Logger
}

// NewHTTPClient builds the rate limited outbound client from configuration
func NewHTTPClient(cfg config.HTTPConfig) *platformhttp.Client {
	return platformhttp.NewClient(platformhttp.ClientOptions{
		Timeout:        cfg.Timeout,
		RequestsPerSec: cfg.RequestsPerSec,
		MaxRetries:     cfg.MaxRetries,
	})
}

// NewPayments builds the YooKassa client
func NewPayments(cfg *config.Config, logger zerolog.Logger) *payment.Client {
	return payment.NewClient(cfg.YooKassa, NewHTTPClient(cfg.HTTP), logger)
}

// New opens storage, authorizes the bot and wires every component
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	httpClient := NewHTTPClient(cfg.HTTP)
	bot, err := telegram.NewBotAPI(cfg.Telegram.BotToken, "", httpClient)
	if err != nil {
		store.Close()
		return nil, err
	}
	logger.Info().Str("username", bot.Self.UserName).Msg("Authorized on Telegram")

	policy := subscription.Policy{
		PeriodDays:      cfg.Sweep.PeriodDays,
		ReminderDays:    cfg.Sweep.ReminderDays,
		SuspensionGrace: cfg.Sweep.SuspensionGrace,
	}

	notifier := telegram.NewNotifier(bot, logger)
	historyLog := history.NewLog(store, cfg.Storage.HistoryLimit, logger)
	ledger := subscription.NewLedger(store, policy, nil, logger)
	payments := payment.NewClient(cfg.YooKassa, httpClient, logger)

	renewURL := cfg.Telegram.WebAppURL
	if renewURL == "" {
		renewURL = cfg.YooKassa.ReturnURL
	}

	return &App{
		Config:   cfg,
		Store:    store,
		Bot:      bot,
		Notifier: notifier,
		History:  historyLog,
		Ledger:   ledger,
		Payments: payments,
		Webhooks: webhook.NewProcessor(store, notifier, historyLog, ledger, webhook.Options{
			AdminChatID: cfg.Telegram.AdminChatID,
		}, logger),
		Sweeper: subscription.NewSweeper(store, notifier, historyLog, subscription.SweeperOptions{
			Policy:   policy,
			RenewURL: renewURL,
		}, logger),
		Logger: logging.Component(logger, "app"),
	}, nil
}

// Close releases storage
func (a *App) Close() error {
	return a.Store.Close()
}
