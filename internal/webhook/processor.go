// Package webhook handles YooKassa payment notifications: it deduplicates by
// payment id, notifies the admin chat, records history and extends the
// subscription ledger.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Alias1177/payrelay/internal/subscription"
	"github.com/Alias1177/payrelay/models"
)

// ErrMissingPaymentID is returned for events without object.id
var ErrMissingPaymentID = errors.New("missing_payment_id")

// Placeholders used in the admin message
const (
	unknownPhone   = "не указан"
	unknownBotLink = "не указана"
	unknownUserID  = "не указан"
	defaultUser    = "Пользователь"
)

// NotifyError means the admin notification could not be delivered. The
// payment is left unmarked so a redelivery is processed again.
type NotifyError struct {
	PaymentID string
	Err       error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notifying admin about %s: %v", e.PaymentID, e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}

// Store is the persistence needed by the processor
type Store interface {
	Contact(ctx context.Context, userID string) (models.ContactRecord, bool, error)
	IsProcessed(ctx context.Context, paymentID string) (bool, error)
	MarkProcessed(ctx context.Context, paymentID string, marker models.ProcessedPaymentMarker) error
}

// Notifier sends a text message to a chat
type Notifier interface {
	SendText(ctx context.Context, chatID string, text string) error
}

// HistoryRecorder appends to the payment history
type HistoryRecorder interface {
	Append(ctx context.Context, entries ...models.PaymentHistoryEntry) error
}

// Ledger extends subscriptions
type Ledger interface {
	Upsert(ctx context.Context, in subscription.UpsertInput) (models.SubscriptionRecord, bool, error)
}

// Result is the outcome of a processed event
type Result struct {
	Skipped   bool `json:"skipped,omitempty"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// Processor applies payment.succeeded events
type Processor struct {
	store       Store
	notifier    Notifier
	history     HistoryRecorder
	ledger      Ledger
	adminChatID string
	now         func() time.Time
	logger      zerolog.Logger
}

// Options configures a Processor
type Options struct {
	AdminChatID string
	Now         func() time.Time
}

// NewProcessor creates a processor
func NewProcessor(store Store, notifier Notifier, history HistoryRecorder, ledger Ledger, opts Options, logger zerolog.Logger) *Processor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Processor{
		store:       store,
		notifier:    notifier,
		history:     history,
		ledger:      ledger,
		adminChatID: opts.AdminChatID,
		now:         opts.Now,
		logger:      logger.With().Str("component", "webhook").Logger(),
	}
}

// Sanitize strips angle brackets and surrounding whitespace
func Sanitize(value string) string {
	return strings.TrimSpace(strings.NewReplacer("<", "", ">", "").Replace(value))
}

// Process handles one webhook event. Events other than a succeeded payment
// are skipped; already processed payments are reported as duplicates.
func (p *Processor) Process(ctx context.Context, event models.WebhookEvent) (Result, error) {
	paymentID := Sanitize(event.Object.ID)
	status := Sanitize(event.Object.Status)
	eventName := Sanitize(event.Event)

	if paymentID == "" {
		return Result{}, ErrMissingPaymentID
	}

	log := p.logger.With().Str("payment_id", paymentID).Logger()

	if eventName != models.EventPaymentSucceeded || status != models.PaymentStatusSucceeded {
		log.Info().Str("event", eventName).Str("status", status).Msg("Skipping event")
		return Result{Skipped: true}, nil
	}

	processed, err := p.store.IsProcessed(ctx, paymentID)
	if err != nil {
		return Result{}, fmt.Errorf("checking processed marker: %w", err)
	}
	if processed {
		log.Info().Msg("Duplicate payment notification")
		return Result{Duplicate: true}, nil
	}

	meta := event.Object.Metadata
	userID := meta.TgUserID.String()
	botLink := Sanitize(meta.BotLink)
	paidStatus := Sanitize(meta.Status)
	if paidStatus == "" {
		paidStatus = models.DefaultPaidStatus
	}
	now := p.now()
	paidAt := Sanitize(event.Object.PaidAt)
	if paidAt == "" {
		paidAt = models.FormatTime(now)
	}

	phone := unknownPhone
	if userID != "" {
		contact, ok, err := p.store.Contact(ctx, userID)
		if err != nil {
			return Result{}, fmt.Errorf("looking up contact: %w", err)
		}
		if v := Sanitize(contact.Phone); ok && v != "" {
			phone = v
		}
	}

	text := AdminMessage(AdminMessageInput{
		Status:    paidStatus,
		Phone:     phone,
		BotLink:   botLink,
		FirstName: Sanitize(meta.TgFirstName),
		LastName:  Sanitize(meta.TgLastName),
		Username:  Sanitize(meta.TgUsername),
		UserID:    userID,
		PaymentID: paymentID,
		PaidAt:    paidAt,
	})
	if err := p.notifier.SendText(ctx, p.adminChatID, text); err != nil {
		return Result{}, &NotifyError{PaymentID: paymentID, Err: err}
	}

	entry := models.PaymentHistoryEntry{
		At:        models.FormatTime(now),
		TgUserID:  userID,
		BotLink:   botLink,
		Category:  models.CategoryPayment,
		Status:    paidStatus,
		Amount:    Sanitize(event.Object.Amount.String()),
		PaymentID: paymentID,
	}
	if err := p.history.Append(ctx, entry); err != nil {
		return Result{}, fmt.Errorf("recording history: %w", err)
	}

	if _, _, err := p.ledger.Upsert(ctx, subscription.UpsertInput{
		UserID:    userID,
		BotLink:   botLink,
		PaymentID: paymentID,
		PaidAt:    paidAt,
	}); err != nil {
		return Result{}, fmt.Errorf("updating subscription: %w", err)
	}

	marker := models.ProcessedPaymentMarker{
		At:     models.FormatTime(p.now()),
		ChatID: p.adminChatID,
	}
	if err := p.store.MarkProcessed(ctx, paymentID, marker); err != nil {
		return Result{}, fmt.Errorf("writing processed marker: %w", err)
	}

	log.Info().
		Str("user_id", userID).
		Str("bot_link", botLink).
		Msg("Payment processed")
	return Result{}, nil
}

// AdminMessageInput holds the already sanitized fields of the admin message
type AdminMessageInput struct {
	Status    string
	Phone     string
	BotLink   string
	FirstName string
	LastName  string
	Username  string
	UserID    string
	PaymentID string
	PaidAt    string
}

// AdminMessage renders the payment confirmation sent to the admin chat
func AdminMessage(in AdminMessageInput) string {
	botLink := in.BotLink
	if botLink == "" {
		botLink = unknownBotLink
	}
	userID := in.UserID
	if userID == "" {
		userID = unknownUserID
	}

	return strings.Join([]string{
		"Автоподтверждение ЮKassa:",
		"Статус: " + in.Status,
		"Телефон: " + in.Phone,
		"Ссылка на бота: " + botLink,
		"Пользователь: " + DisplayName(in.FirstName, in.LastName, in.Username),
		"TG user id: " + userID,
		"Payment ID: " + in.PaymentID,
		"Время оплаты: " + in.PaidAt,
	}, "\n")
}

// DisplayName joins first and last name and appends @username when known
func DisplayName(firstName, lastName, username string) string {
	var parts []string
	for _, part := range []string{firstName, lastName} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	name := strings.Join(parts, " ")
	if name == "" {
		name = defaultUser
	}
	if username = strings.TrimPrefix(strings.TrimSpace(username), "@"); username != "" {
		name += " (@" + username + ")"
	}
	return name
}
