package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Alias1177/payrelay/internal/config"
	"github.com/Alias1177/payrelay/internal/history"
	"github.com/Alias1177/payrelay/internal/storage"
	"github.com/Alias1177/payrelay/internal/subscription"
	"github.com/Alias1177/payrelay/models"
)

type fakeNotifier struct {
	chats []string
	texts []string
	err   error
}

func (f *fakeNotifier) SendText(ctx context.Context, chatID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.chats = append(f.chats, chatID)
	f.texts = append(f.texts, text)
	return nil
}

type fixture struct {
	store     *storage.Store
	notifier  *fakeNotifier
	processor *Processor
}

var testNow = time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.Open(context.Background(), config.StorageConfig{
		Driver:            config.DriverFile,
		ContactsFile:      filepath.Join(dir, "contacts.json"),
		ProcessedFile:     filepath.Join(dir, "processed-payments.json"),
		HistoryFile:       filepath.Join(dir, "payment-history.json"),
		SubscriptionsFile: filepath.Join(dir, "subscriptions.json"),
	})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := func() time.Time { return testNow }
	notifier := &fakeNotifier{}
	logger := zerolog.Nop()
	processor := NewProcessor(
		store,
		notifier,
		history.NewLog(store, history.DefaultLimit, logger),
		subscription.NewLedger(store, subscription.DefaultPolicy(), clock, logger),
		Options{AdminChatID: "-100500", Now: clock},
		logger,
	)
	return &fixture{store: store, notifier: notifier, processor: processor}
}

func decodeEvent(t *testing.T, body string) models.WebhookEvent {
	t.Helper()
	var event models.WebhookEvent
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	return event
}

const succeededEvent = `{
	"type": "notification",
	"event": "payment.succeeded",
	"object": {
		"id": "pay_1",
		"status": "succeeded",
		"paid_at": "2025-01-31T10:00:00.000Z",
		"amount": {"value": "3000.00", "currency": "RUB"},
		"metadata": {"tgUserId": "42", "botLink": "https://t.me/bot/"}
	}
}`

func TestProcessIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event := decodeEvent(t, succeededEvent)

	result, err := f.processor.Process(ctx, event)
	if err != nil {
		t.Fatalf("first Process: %v", err)
	}
	if result.Skipped || result.Duplicate {
		t.Fatalf("unexpected first result: %+v", result)
	}

	result, err = f.processor.Process(ctx, event)
	if err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if !result.Duplicate {
		t.Fatalf("expected duplicate, got %+v", result)
	}

	if len(f.notifier.texts) != 1 || f.notifier.chats[0] != "-100500" {
		t.Fatalf("expected one admin notification, got %v", f.notifier.chats)
	}

	entries, err := f.store.History(ctx)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one history entry, got %d", len(entries))
	}
	want := models.PaymentHistoryEntry{
		At:        "2025-02-01T08:00:00.000Z",
		TgUserID:  "42",
		BotLink:   "https://t.me/bot/",
		Category:  models.CategoryPayment,
		Status:    models.DefaultPaidStatus,
		Amount:    "3000.00 RUB",
		PaymentID: "pay_1",
	}
	if entries[0] != want {
		t.Errorf("history entry = %+v, want %+v", entries[0], want)
	}

	subs, err := f.store.Subscriptions(ctx)
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	rec, ok := subs["42::https://t.me/bot"]
	if !ok || len(subs) != 1 {
		t.Fatalf("unexpected ledger: %+v", subs)
	}
	if rec.ExpiresAt != "2025-03-02T10:00:00.000Z" || rec.LastPaymentID != "pay_1" {
		t.Errorf("unexpected record: %+v", rec)
	}

	processed, err := f.store.IsProcessed(ctx, "pay_1")
	if err != nil || !processed {
		t.Errorf("IsProcessed() = %v, %v", processed, err)
	}
}

func TestProcessAdminMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.store.SaveContact(ctx, "42", models.ContactRecord{Phone: "+79990001122"}); err != nil {
		t.Fatalf("SaveContact: %v", err)
	}

	event := decodeEvent(t, `{
		"event": "payment.succeeded",
		"object": {
			"id": " <pay_2> ",
			"status": "succeeded",
			"paid_at": "2025-01-31T10:00:00.000Z",
			"metadata": {
				"tgUserId": 42,
				"botLink": "https://t.me/shop_bot",
				"tgUsername": "ivan",
				"tgFirstName": "Иван",
				"tgLastName": "<b>Петров</b>",
				"status": "Продление"
			}
		}
	}`)

	if _, err := f.processor.Process(ctx, event); err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := strings.Join([]string{
		"Автоподтверждение ЮKassa:",
		"Статус: Продление",
		"Телефон: +79990001122",
		"Ссылка на бота: https://t.me/shop_bot",
		"Пользователь: Иван bПетров/b (@ivan)",
		"TG user id: 42",
		"Payment ID: pay_2",
		"Время оплаты: 2025-01-31T10:00:00.000Z",
	}, "\n")
	if len(f.notifier.texts) != 1 || f.notifier.texts[0] != want {
		t.Errorf("admin message:\n%s\nwant:\n%s", strings.Join(f.notifier.texts, "\n---\n"), want)
	}
}

func TestProcessPlaceholders(t *testing.T) {
	f := newFixture(t)
	event := decodeEvent(t, `{"event":"payment.succeeded","object":{"id":"pay_3","status":"succeeded"}}`)

	if _, err := f.processor.Process(context.Background(), event); err != nil {
		t.Fatalf("Process: %v", err)
	}

	text := f.notifier.texts[0]
	for _, want := range []string{
		"Статус: Подписка оплачена",
		"Телефон: не указан",
		"Ссылка на бота: не указана",
		"Пользователь: Пользователь\n",
		"TG user id: не указан",
		"Время оплаты: 2025-02-01T08:00:00.000Z",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("admin message does not contain %q:\n%s", want, text)
		}
	}

	subs, _ := f.store.Subscriptions(context.Background())
	if len(subs) != 0 {
		t.Errorf("ledger must not be written without a user: %+v", subs)
	}
}

func TestProcessSkipsOtherEvents(t *testing.T) {
	tests := []struct {
		name  string
		event models.WebhookEvent
	}{
		{"Waiting for capture", models.WebhookEvent{Event: "payment.waiting_for_capture", Object: models.PaymentObject{ID: "p", Status: "waiting_for_capture"}}},
		{"Canceled", models.WebhookEvent{Event: "payment.canceled", Object: models.PaymentObject{ID: "p", Status: "canceled"}}},
		{"Status mismatch", models.WebhookEvent{Event: "payment.succeeded", Object: models.PaymentObject{ID: "p", Status: "pending"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			result, err := f.processor.Process(context.Background(), tt.event)
			if err != nil || !result.Skipped {
				t.Fatalf("Process() = %+v, %v", result, err)
			}
			if len(f.notifier.texts) != 0 {
				t.Error("skipped events must not notify")
			}
		})
	}
}

func TestProcessMissingPaymentID(t *testing.T) {
	f := newFixture(t)
	event := models.WebhookEvent{Event: "payment.succeeded", Object: models.PaymentObject{ID: " <> ", Status: "succeeded"}}

	_, err := f.processor.Process(context.Background(), event)
	if !errors.Is(err, ErrMissingPaymentID) {
		t.Fatalf("expected ErrMissingPaymentID, got %v", err)
	}
}

func TestProcessNotifyFailureLeavesPaymentUnmarked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sendErr := errors.New("Bad Request: chat not found")
	f.notifier.err = sendErr
	event := decodeEvent(t, succeededEvent)

	_, err := f.processor.Process(ctx, event)
	var notifyErr *NotifyError
	if !errors.As(err, &notifyErr) || !errors.Is(err, sendErr) {
		t.Fatalf("expected NotifyError, got %v", err)
	}

	processed, _ := f.store.IsProcessed(ctx, "pay_1")
	entries, _ := f.store.History(ctx)
	subs, _ := f.store.Subscriptions(ctx)
	if processed || len(entries) != 0 || len(subs) != 0 {
		t.Fatalf("side effects after failed notification: marked=%v history=%d ledger=%d", processed, len(entries), len(subs))
	}

	f.notifier.err = nil
	result, err := f.processor.Process(ctx, event)
	if err != nil || result.Duplicate {
		t.Fatalf("redelivery: %+v, %v", result, err)
	}
	if len(f.notifier.texts) != 1 {
		t.Errorf("expected the redelivery to notify, got %d messages", len(f.notifier.texts))
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		first, last, username string
		want                  string
	}{
		{"", "", "", "Пользователь"},
		{"Анна", "", "", "Анна"},
		{"", "Смирнова", "@anna", "Смирнова (@anna)"},
		{"Анна", "Смирнова", "anna", "Анна Смирнова (@anna)"},
		{"", "", "anna", "Пользователь (@anna)"},
	}

	for _, tt := range tests {
		if got := DisplayName(tt.first, tt.last, tt.username); got != tt.want {
			t.Errorf("DisplayName(%q, %q, %q) = %q, want %q", tt.first, tt.last, tt.username, got, tt.want)
		}
	}
}
