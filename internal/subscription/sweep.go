package subscription

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Alias1177/payrelay/models"
)

// Notifier delivers a text message to a chat
type Notifier interface {
	SendText(ctx context.Context, chatID string, text string) error
}

// HistoryRecorder appends entries to the payment history log
type HistoryRecorder interface {
	Append(ctx context.Context, entries ...models.PaymentHistoryEntry) error
}

type noticeKind int

const (
	noticeReminder noticeKind = iota
	noticeSuspension
)

// SweepResult summarizes one pass over the ledger
type SweepResult struct {
	Checked     int
	Skipped     int
	Reminders   int
	Suspensions int
	Failures    int
}

// SweeperOptions configures a Sweeper
type SweeperOptions struct {
	Policy   Policy
	RenewURL string
	Now      func() time.Time
}

// Sweeper scans the ledger and sends reminder and suspension notices, each at
// most once per subscription period
type Sweeper struct {
	store    Store
	notifier Notifier
	history  HistoryRecorder
	policy   Policy
	renewURL string
	now      func() time.Time
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	startup sync.WaitGroup
}

// NewSweeper creates a sweeper
func NewSweeper(store Store, notifier Notifier, history HistoryRecorder, opts SweeperOptions, logger zerolog.Logger) *Sweeper {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sweeper{
		store:    store,
		notifier: notifier,
		history:  history,
		policy:   opts.Policy,
		renewURL: opts.RenewURL,
		now:      opts.Now,
		logger:   logger.With().Str("component", "expiry_sweep").Logger(),
	}
}

// DaysRemaining is the number of started days left until expiresAt.
// It is zero during the last day and negative after expiry.
func DaysRemaining(expiresAt, now time.Time) int {
	return int(math.Ceil(float64(expiresAt.Sub(now)) / float64(day)))
}

type stamp struct {
	key       string
	expiresAt string
	kind      noticeKind
	entry     models.PaymentHistoryEntry
}

// RunOnce performs a single sweep. Notices are sent from a snapshot of the
// ledger; the stamps are applied afterwards in one write and only to records
// that still describe the same period.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	subs, err := s.store.Subscriptions(ctx)
	if err != nil {
		return result, fmt.Errorf("loading ledger: %w", err)
	}

	keys := make([]string, 0, len(subs))
	for key := range subs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	now := s.now().UTC()
	var stamps []stamp

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			break
		}
		rec := subs[key]
		result.Checked++

		if strings.TrimSpace(rec.TgUserID) == "" || strings.TrimSpace(rec.BotLink) == "" {
			result.Skipped++
			continue
		}
		expiresAt, err := models.ParseTime(rec.ExpiresAt)
		if err != nil {
			result.Skipped++
			continue
		}

		daysLeft := DaysRemaining(expiresAt, now)

		if rec.ReminderSentAt == "" && daysLeft >= 0 && daysLeft <= s.policy.ReminderDays {
			text := s.reminderText(rec, expiresAt, daysLeft)
			if st, ok := s.notify(ctx, key, rec, noticeReminder, text, now); ok {
				stamps = append(stamps, st)
				result.Reminders++
			} else {
				result.Failures++
			}
		}

		if rec.SuspendedSentAt == "" && !now.Before(expiresAt.Add(s.policy.SuspensionGrace)) {
			text := s.suspensionText(rec, expiresAt)
			if st, ok := s.notify(ctx, key, rec, noticeSuspension, text, now); ok {
				stamps = append(stamps, st)
				result.Suspensions++
			} else {
				result.Failures++
			}
		}
	}

	if len(stamps) == 0 {
		return result, nil
	}

	sentAt := models.FormatTime(now)
	var applied []models.PaymentHistoryEntry
	err = s.store.UpdateSubscriptions(ctx, func(current models.Subscriptions) (bool, error) {
		applied = applied[:0]
		for _, st := range stamps {
			rec, ok := current[st.key]
			if !ok || rec.ExpiresAt != st.expiresAt {
				continue
			}
			switch st.kind {
			case noticeReminder:
				if rec.ReminderSentAt != "" {
					continue
				}
				rec.ReminderSentAt = sentAt
			case noticeSuspension:
				if rec.SuspendedSentAt != "" {
					continue
				}
				rec.SuspendedSentAt = sentAt
			}
			rec.UpdatedAt = sentAt
			current[st.key] = rec
			applied = append(applied, st.entry)
		}
		return len(applied) > 0, nil
	})
	if err != nil {
		return result, fmt.Errorf("saving ledger: %w", err)
	}

	if len(applied) < len(stamps) {
		s.logger.Info().
			Int("sent", len(stamps)).
			Int("stamped", len(applied)).
			Msg("Some records changed during the sweep and were left as is")
	}
	if len(applied) == 0 {
		return result, nil
	}

	if err := s.history.Append(ctx, applied...); err != nil {
		for _, entry := range applied {
			s.logger.Error().
				Err(err).
				Str("user_id", entry.TgUserID).
				Str("bot_link", entry.BotLink).
				Str("category", entry.Category).
				Msg("Notice sent and stamped but not recorded in history")
		}
		return result, fmt.Errorf("recording notices: %w", err)
	}

	return result, nil
}

func (s *Sweeper) notify(ctx context.Context, key string, rec models.SubscriptionRecord, kind noticeKind, text string, now time.Time) (stamp, bool) {
	category := models.CategoryReminder
	if kind == noticeSuspension {
		category = models.CategorySuspension
	}

	if err := s.notifier.SendText(ctx, rec.TgUserID, text); err != nil {
		s.logger.Error().
			Err(err).
			Str("key", key).
			Str("category", category).
			Msg("Failed to send notice")
		return stamp{}, false
	}

	s.logger.Info().
		Str("key", key).
		Str("category", category).
		Str("expires_at", rec.ExpiresAt).
		Msg("Notice sent")

	return stamp{
		key:       key,
		expiresAt: rec.ExpiresAt,
		kind:      kind,
		entry: models.PaymentHistoryEntry{
			At:        models.FormatTime(now),
			TgUserID:  rec.TgUserID,
			BotLink:   rec.BotLink,
			Category:  category,
			Status:    models.NoticeStatusSent,
			PaymentID: rec.LastPaymentID,
		},
	}, true
}

func (s *Sweeper) reminderText(rec models.SubscriptionRecord, expiresAt time.Time, daysLeft int) string {
	lines := []string{
		fmt.Sprintf("Напоминание: подписка на обслуживание бота %s заканчивается %s (осталось дней: %d).",
			rec.BotLink, expiresAt.Format("02.01.2006"), daysLeft),
		"Продлите подписку, чтобы бот продолжил работу без перерыва.",
	}
	if s.renewURL != "" {
		lines = append(lines, "Оплатить: "+s.renewURL)
	}
	return strings.Join(lines, "\n")
}

func (s *Sweeper) suspensionText(rec models.SubscriptionRecord, expiresAt time.Time) string {
	lines := []string{
		fmt.Sprintf("Подписка на обслуживание бота %s закончилась %s.", rec.BotLink, expiresAt.Format("02.01.2006")),
		"Обслуживание бота приостановлено. Чтобы возобновить работу, оплатите подписку.",
	}
	if s.renewURL != "" {
		lines = append(lines, "Оплатить: "+s.renewURL)
	}
	return strings.Join(lines, "\n")
}

// Start schedules recurring sweeps. With runOnStart a sweep is also started
// immediately. Overlapping runs are skipped.
func (s *Sweeper) Start(ctx context.Context, schedule string, runOnStart bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return errors.New("sweeper already started")
	}

	cronLogger := cron.PrintfLogger(&s.logger)
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger)).Then(cron.FuncJob(func() {
		s.run(ctx)
	}))

	c := cron.New(cron.WithLogger(cronLogger))
	if _, err := c.AddJob(schedule, job); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info().Str("schedule", schedule).Bool("run_on_start", runOnStart).Msg("Expiry sweep scheduled")

	if runOnStart {
		s.startup.Add(1)
		go func() {
			defer s.startup.Done()
			job.Run()
		}()
	}
	return nil
}

// Stop cancels the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.startup.Wait()
	s.logger.Info().Msg("Expiry sweep stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	result, err := s.RunOnce(ctx)
	var event *zerolog.Event
	if err != nil {
		event = s.logger.Error().Err(err)
	} else {
		event = s.logger.Info()
	}
	event.
		Int("checked", result.Checked).
		Int("skipped", result.Skipped).
		Int("reminders", result.Reminders).
		Int("suspensions", result.Suspensions).
		Int("failures", result.Failures).
		Dur("took", time.Since(start)).
		Msg("Expiry sweep finished")
}
