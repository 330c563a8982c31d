package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Document names as stored by the storage backends
const (
	DocumentContacts      = "contacts"
	DocumentProcessed     = "processed"
	DocumentHistory       = "history"
	DocumentSubscriptions = "subscriptions"
)

// History categories
const (
	CategoryPayment    = "Оплата"
	CategoryReminder   = "Напоминание"
	CategorySuspension = "Приостановка"
)

// Payment provider event and status values
const (
	EventPaymentSucceeded  = "payment.succeeded"
	PaymentStatusSucceeded = "succeeded"

	DefaultPaidStatus = "Подписка оплачена"
)

// Notice delivery statuses recorded in history
const (
	NoticeStatusSent = "Отправлено"
)

// ContactRecord is a phone number shared by a Telegram user
type ContactRecord struct {
	Phone     string `json:"phone"`
	UpdatedAt string `json:"updatedAt"`
}

// ProcessedPaymentMarker marks a payment id as handled
type ProcessedPaymentMarker struct {
	At     string `json:"at"`
	ChatID string `json:"chatId"`
}

// PaymentHistoryEntry is a single line of the append-only history log
type PaymentHistoryEntry struct {
	At        string `json:"at"`
	TgUserID  string `json:"tgUserId"`
	BotLink   string `json:"botLink"`
	Category  string `json:"category"`
	Status    string `json:"status"`
	Amount    string `json:"amount"`
	PaymentID string `json:"paymentId"`
}

// SubscriptionRecord tracks the paid-through date of one (user, bot link) pair.
// Empty ReminderSentAt / SuspendedSentAt mean the notice has not been sent
// during the current period.
type SubscriptionRecord struct {
	TgUserID        string `json:"tgUserId"`
	BotLink         string `json:"botLink"`
	LastPaymentID   string `json:"lastPaymentId"`
	PaidAt          string `json:"paidAt"`
	ExpiresAt       string `json:"expiresAt"`
	ReminderSentAt  string `json:"reminder3dSentAt"`
	SuspendedSentAt string `json:"suspendedSentAt"`
	UpdatedAt       string `json:"updatedAt"`
}

// Documents
type (
	Contacts      map[string]ContactRecord
	Processed     map[string]ProcessedPaymentMarker
	History       []PaymentHistoryEntry
	Subscriptions map[string]SubscriptionRecord
)

// WebhookEvent is the notification body YooKassa posts to the webhook endpoint
type WebhookEvent struct {
	Type   string        `json:"type,omitempty"`
	Event  string        `json:"event"`
	Object PaymentObject `json:"object"`
}

// PaymentObject is the payment part of a webhook event
type PaymentObject struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	PaidAt   string          `json:"paid_at,omitempty"`
	Amount   Amount          `json:"amount"`
	Metadata PaymentMetadata `json:"metadata"`
}

// Amount is a money value as sent by YooKassa
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// String renders the amount as "3000.00 RUB"
func (a Amount) String() string {
	return strings.TrimSpace(a.Value + " " + a.Currency)
}

// PaymentMetadata is the metadata attached to a payment at creation time
type PaymentMetadata struct {
	TgUserID    FlexString `json:"tgUserId"`
	TgUsername  string     `json:"tgUsername,omitempty"`
	TgFirstName string     `json:"tgFirstName,omitempty"`
	TgLastName  string     `json:"tgLastName,omitempty"`
	BotLink     string     `json:"botLink"`
	Status      string     `json:"status,omitempty"`
}

// FlexString accepts a JSON string or number. Telegram ids arrive as either.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the trimmed value
func (f FlexString) String() string {
	return strings.TrimSpace(string(f))
}

// Int64 parses the value as a Telegram id
func (f FlexString) Int64() (int64, error) {
	return strconv.ParseInt(f.String(), 10, 64)
}
