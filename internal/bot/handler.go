// Package bot handles Telegram updates for the payment bot: the /start menu,
// contact sharing and the /status and /history commands.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/Alias1177/payrelay/internal/history"
	"github.com/Alias1177/payrelay/internal/telegram"
	"github.com/Alias1177/payrelay/internal/webhook"
	"github.com/Alias1177/payrelay/models"
)

const (
	startText      = "Подписка на продукт: 3000 ₽. Выберите удобный способ оплаты:"
	contactText    = "Поделитесь номером телефона, чтобы мы могли связаться с вами по оплате."
	contactButton  = "Поделиться номером"
	contactSaved   = "Спасибо, номер сохранён."
	foreignContact = "Пожалуйста, отправьте свой контакт кнопкой ниже."
	noSubscription = "Активных подписок нет."
	noHistory      = "Платежей пока нет."
	helpText       = "Команды:\n/start - оплата подписки\n/status - статус подписки\n/history - история платежей"

	dateLayout     = "02.01.2006"
	dateTimeLayout = "02.01.2006 15:04"
)

// ContactStore persists shared phone numbers
type ContactStore interface {
	Contact(ctx context.Context, userID string) (models.ContactRecord, bool, error)
	SaveContact(ctx context.Context, userID string, rec models.ContactRecord) error
}

// Ledger lists a user's subscriptions
type Ledger interface {
	ForUser(ctx context.Context, userID string) ([]models.SubscriptionRecord, error)
}

// HistoryQuerier answers payment history queries
type HistoryQuerier interface {
	Query(ctx context.Context, userID string) (history.Result, error)
}

// Notifier sends plain text to a chat
type Notifier interface {
	SendText(ctx context.Context, chatID string, text string) error
}

// Options holds the links shown in the /start menu and the admin chat
type Options struct {
	WebAppURL         string
	TinkoffPaymentURL string
	AdminChatID       string
	Now               func() time.Time
}

// Handler reacts to bot updates
type Handler struct {
	api      telegram.Sender
	contacts ContactStore
	ledger   Ledger
	history  HistoryQuerier
	notifier Notifier
	opts     Options
	logger   zerolog.Logger
}

// NewHandler creates an update handler
func NewHandler(api telegram.Sender, contacts ContactStore, ledger Ledger, historyLog HistoryQuerier, notifier Notifier, opts Options, logger zerolog.Logger) *Handler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		api:      api,
		contacts: contacts,
		ledger:   ledger,
		history:  historyLog,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With().Str("component", "bot").Logger(),
	}
}

// Run handles updates until ctx is done or the channel is closed
func (h *Handler) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := h.HandleUpdate(ctx, update); err != nil {
				h.logger.Error().Err(err).Int("update_id", update.UpdateID).Msg("Failed to handle update")
			}
		}
	}
}

// HandleUpdate dispatches a single update
func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return nil
	}

	if msg.Contact != nil {
		return h.handleContact(ctx, msg)
	}

	switch msg.Command() {
	case "start":
		return h.handleStart(ctx, msg)
	case "status":
		return h.handleStatus(ctx, msg)
	case "history":
		return h.handleHistory(ctx, msg)
	case "":
		// plain text only gets help in a private chat
		if msg.Chat.IsPrivate() {
			return h.reply(msg.Chat.ID, helpText, nil)
		}
		return nil
	default:
		return h.reply(msg.Chat.ID, helpText, nil)
	}
}

func (h *Handler) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if err := h.reply(msg.Chat.ID, startText, h.paymentKeyboard()); err != nil {
		return err
	}

	userID := strconv.FormatInt(msg.From.ID, 10)
	_, hasPhone, err := h.contacts.Contact(ctx, userID)
	if err != nil {
		return err
	}
	if hasPhone {
		return nil
	}
	return h.reply(msg.Chat.ID, contactText, contactKeyboard())
}

func (h *Handler) paymentKeyboard() any {
	var rows [][]tgbotapi.InlineKeyboardButton
	if h.opts.WebAppURL != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Открыть мини-апп", h.opts.WebAppURL),
		))
	}
	if h.opts.TinkoffPaymentURL != "" {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Оплатить сразу (Tinkoff)", h.opts.TinkoffPaymentURL),
		))
	}
	if len(rows) == 0 {
		return nil
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func contactKeyboard() tgbotapi.ReplyKeyboardMarkup {
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButtonContact(contactButton)),
	)
	keyboard.OneTimeKeyboard = true
	keyboard.ResizeKeyboard = true
	return keyboard
}

func (h *Handler) handleContact(ctx context.Context, msg *tgbotapi.Message) error {
	contact := msg.Contact
	if contact.UserID != 0 && contact.UserID != msg.From.ID {
		return h.reply(msg.Chat.ID, foreignContact, contactKeyboard())
	}

	phone := webhook.Sanitize(contact.PhoneNumber)
	if phone == "" {
		return h.reply(msg.Chat.ID, foreignContact, contactKeyboard())
	}

	userID := strconv.FormatInt(msg.From.ID, 10)
	err := h.contacts.SaveContact(ctx, userID, models.ContactRecord{
		Phone:     phone,
		UpdatedAt: models.FormatTime(h.opts.Now()),
	})
	if err != nil {
		return fmt.Errorf("saving contact: %w", err)
	}

	h.logger.Info().Str("user_id", userID).Msg("Contact saved")

	if h.opts.AdminChatID != "" {
		text := strings.Join([]string{
			"Новый контакт:",
			"Пользователь: " + webhook.DisplayName(webhook.Sanitize(msg.From.FirstName), webhook.Sanitize(msg.From.LastName), webhook.Sanitize(msg.From.UserName)),
			"TG user id: " + userID,
			"Телефон: " + phone,
		}, "\n")
		if err := h.notifier.SendText(ctx, h.opts.AdminChatID, text); err != nil {
			h.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to notify admin about contact")
		}
	}

	return h.reply(msg.Chat.ID, contactSaved, tgbotapi.NewRemoveKeyboard(true))
}

func (h *Handler) handleStatus(ctx context.Context, msg *tgbotapi.Message) error {
	userID := strconv.FormatInt(msg.From.ID, 10)
	records, err := h.ledger.ForUser(ctx, userID)
	if err != nil {
		return err
	}
	return h.reply(msg.Chat.ID, FormatStatus(records, h.opts.Now()), nil)
}

func (h *Handler) handleHistory(ctx context.Context, msg *tgbotapi.Message) error {
	userID := strconv.FormatInt(msg.From.ID, 10)
	result, err := h.history.Query(ctx, userID)
	if err != nil {
		return err
	}
	return h.reply(msg.Chat.ID, FormatHistory(result), nil)
}

// FormatStatus renders the user's subscriptions
func FormatStatus(records []models.SubscriptionRecord, now time.Time) string {
	var lines []string
	for _, rec := range records {
		expiresAt, err := models.ParseTime(rec.ExpiresAt)
		if err != nil {
			continue
		}
		state := "активна"
		if !now.Before(expiresAt) {
			state = "истекла"
		}
		lines = append(lines, fmt.Sprintf("• %s: оплачено до %s (%s)", rec.BotLink, expiresAt.Format(dateLayout), state))
	}
	if len(lines) == 0 {
		return noSubscription
	}
	return "Подписки:\n" + strings.Join(lines, "\n")
}

// FormatHistory renders the latest history entries grouped by bot
func FormatHistory(result history.Result) string {
	if len(result.Latest) == 0 {
		return noHistory
	}

	var b strings.Builder
	b.WriteString("Последние платежи:")
	for _, group := range result.Grouped {
		link := group.BotLink
		if link == "" {
			link = "Без ссылки"
		}
		b.WriteString("\n\n")
		b.WriteString(link)
		for _, entry := range group.Items {
			b.WriteString("\n• ")
			if at, err := models.ParseTime(entry.At); err == nil {
				b.WriteString(at.Format(dateTimeLayout) + " ")
			}
			b.WriteString(entry.Category)
			if entry.Status != "" {
				b.WriteString(": " + entry.Status)
			}
			if entry.Amount != "" {
				b.WriteString(", " + entry.Amount)
			}
		}
	}
	return b.String()
}

func (h *Handler) reply(chatID int64, text string, markup any) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := h.api.Send(msg); err != nil {
		return fmt.Errorf("sending reply to %d: %w", chatID, err)
	}
	return nil
}
