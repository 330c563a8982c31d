// Package subscription keeps the per (user, bot link) paid-through ledger and
// runs the expiry sweep that sends reminder and suspension notices.
package subscription

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Alias1177/payrelay/models"
)

const day = 24 * time.Hour

// Policy holds the subscription period and notice thresholds
type Policy struct {
	PeriodDays      int
	ReminderDays    int
	SuspensionGrace time.Duration
}

// DefaultPolicy is a 30 day period, a reminder 3 days ahead and a suspension
// notice one day after expiry
func DefaultPolicy() Policy {
	return Policy{
		PeriodDays:      30,
		ReminderDays:    3,
		SuspensionGrace: 24 * time.Hour,
	}
}

// Store is the ledger persistence used by this package
type Store interface {
	Subscriptions(ctx context.Context) (models.Subscriptions, error)
	UpdateSubscriptions(ctx context.Context, fn func(models.Subscriptions) (bool, error)) error
}

// NormalizeBotLink trims whitespace and trailing slashes
func NormalizeBotLink(link string) string {
	return strings.TrimRight(strings.TrimSpace(link), "/")
}

// Key builds the ledger key. Bot links compare case-insensitively.
func Key(userID, botLink string) string {
	return strings.TrimSpace(userID) + "::" + strings.ToLower(NormalizeBotLink(botLink))
}

// ExpiresAt adds the period to paidAt using UTC calendar days
func ExpiresAt(paidAt time.Time, periodDays int) time.Time {
	return paidAt.UTC().AddDate(0, 0, periodDays)
}

// UpsertInput describes a successful payment
type UpsertInput struct {
	UserID    string
	BotLink   string
	PaymentID string
	PaidAt    string
}

// Ledger writes subscription records
type Ledger struct {
	store  Store
	policy Policy
	now    func() time.Time
	logger zerolog.Logger
}

// NewLedger creates a ledger. A nil clock means time.Now.
func NewLedger(store Store, policy Policy, now func() time.Time, logger zerolog.Logger) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		store:  store,
		policy: policy,
		now:    now,
		logger: logger.With().Str("component", "subscription_ledger").Logger(),
	}
}

// Upsert replaces the record of the (user, bot link) pair with a fresh period
// starting at the payment time. Notice flags are cleared. Records without a
// user id or bot link are not written and ok is false.
func (l *Ledger) Upsert(ctx context.Context, in UpsertInput) (rec models.SubscriptionRecord, ok bool, err error) {
	userID := strings.TrimSpace(in.UserID)
	botLink := NormalizeBotLink(in.BotLink)
	if userID == "" || botLink == "" {
		l.logger.Warn().
			Str("user_id", userID).
			Str("bot_link", botLink).
			Str("payment_id", in.PaymentID).
			Msg("Skipping ledger upsert without user id or bot link")
		return models.SubscriptionRecord{}, false, nil
	}

	now := l.now().UTC()
	paidAt, parseErr := models.ParseTime(in.PaidAt)
	if parseErr != nil {
		paidAt = now
	}

	rec = models.SubscriptionRecord{
		TgUserID:      userID,
		BotLink:       botLink,
		LastPaymentID: in.PaymentID,
		PaidAt:        models.FormatTime(paidAt),
		ExpiresAt:     models.FormatTime(ExpiresAt(paidAt, l.policy.PeriodDays)),
		UpdatedAt:     models.FormatTime(now),
	}
	key := Key(userID, botLink)

	err = l.store.UpdateSubscriptions(ctx, func(subs models.Subscriptions) (bool, error) {
		subs[key] = rec
		return true, nil
	})
	if err != nil {
		return models.SubscriptionRecord{}, false, err
	}

	l.logger.Info().
		Str("key", key).
		Str("payment_id", in.PaymentID).
		Str("expires_at", rec.ExpiresAt).
		Msg("Subscription extended")
	return rec, true, nil
}

// ForUser returns the user's records ordered by expiry, latest first
func (l *Ledger) ForUser(ctx context.Context, userID string) ([]models.SubscriptionRecord, error) {
	subs, err := l.store.Subscriptions(ctx)
	if err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	var out []models.SubscriptionRecord
	for _, rec := range subs {
		if rec.TgUserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt > out[j].ExpiresAt
	})
	return out, nil
}
