// Package history appends to and queries the payment history log.
package history

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Alias1177/payrelay/internal/subscription"
	"github.com/Alias1177/payrelay/models"
)

// DefaultLimit is the number of entries kept in the log
const DefaultLimit = 5000

// LatestCount is the number of entries returned by Query
const LatestCount = 10

// Store is the history document persistence
type Store interface {
	History(ctx context.Context) (models.History, error)
	UpdateHistory(ctx context.Context, fn func(models.History) (models.History, bool, error)) error
}

// Group is a set of entries sharing a normalized bot link
type Group struct {
	BotLink string                       `json:"botLink"`
	Items   []models.PaymentHistoryEntry `json:"items"`
}

// Result is the answer to a history query
type Result struct {
	Latest  []models.PaymentHistoryEntry `json:"latest"`
	Grouped []Group                      `json:"grouped"`
}

// Log is the capped payment history
type Log struct {
	store  Store
	limit  int
	logger zerolog.Logger
}

// NewLog creates a history log keeping at most limit entries
func NewLog(store Store, limit int, logger zerolog.Logger) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{
		store:  store,
		limit:  limit,
		logger: logger.With().Str("component", "history").Logger(),
	}
}

// Append adds entries to the end of the log and drops the oldest ones above
// the limit
func (l *Log) Append(ctx context.Context, entries ...models.PaymentHistoryEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return l.store.UpdateHistory(ctx, func(current models.History) (models.History, bool, error) {
		current = append(current, entries...)
		if over := len(current) - l.limit; over > 0 {
			l.logger.Debug().Int("dropped", over).Msg("History log trimmed")
			current = append(models.History(nil), current[over:]...)
		}
		return current, true, nil
	})
}

// Query returns the user's most recent entries, newest first, and the same
// entries grouped by bot link in order of first appearance
func (l *Log) Query(ctx context.Context, userID string) (Result, error) {
	all, err := l.store.History(ctx)
	if err != nil {
		return Result{}, err
	}
	return Build(all, userID), nil
}

// Build filters the log down to one user and shapes it for presentation
func Build(all models.History, userID string) Result {
	userID = strings.TrimSpace(userID)

	var items []models.PaymentHistoryEntry
	for _, entry := range all {
		if strings.TrimSpace(entry.TgUserID) == userID {
			items = append(items, entry)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return entryTime(items[i]) > entryTime(items[j])
	})
	if len(items) > LatestCount {
		items = items[:LatestCount]
	}

	result := Result{
		Latest:  make([]models.PaymentHistoryEntry, 0, len(items)),
		Grouped: []Group{},
	}
	result.Latest = append(result.Latest, items...)

	// links compare case-insensitively like ledger keys; the label is the
	// first spelling seen
	index := make(map[string]int)
	for _, entry := range items {
		link := subscription.NormalizeBotLink(entry.BotLink)
		key := strings.ToLower(link)
		i, ok := index[key]
		if !ok {
			i = len(result.Grouped)
			index[key] = i
			result.Grouped = append(result.Grouped, Group{BotLink: link})
		}
		result.Grouped[i].Items = append(result.Grouped[i].Items, entry)
	}
	return result
}

// entryTime gives a sortable key. Unparseable timestamps sort last.
func entryTime(entry models.PaymentHistoryEntry) string {
	t, err := models.ParseTime(entry.At)
	if err != nil {
		return ""
	}
	return models.FormatTime(t)
}
