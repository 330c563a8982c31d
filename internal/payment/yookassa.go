package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Alias1177/payrelay/internal/config"
	"github.com/Alias1177/payrelay/models"
)

// ErrNotConfigured is returned when shop credentials are missing or still
// hold placeholder values
var ErrNotConfigured = errors.New("yookassa_not_configured")

// Doer performs outbound HTTP requests
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProviderError is a non-success answer from YooKassa. Details holds the
// provider's response body.
type ProviderError struct {
	StatusCode int
	Details    json.RawMessage
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("yookassa responded with status %d", e.StatusCode)
}

// CreatePaymentRequest carries the identity of the user who initiates a payment
type CreatePaymentRequest struct {
	BotLink     string
	TgUserID    string
	TgUsername  string
	TgFirstName string
	TgLastName  string
	ReturnURL   string
}

// Payment is the subset of the YooKassa payment object the relay uses
type Payment struct {
	ID           string                 `json:"id"`
	Status       string                 `json:"status"`
	Paid         bool                   `json:"paid"`
	Amount       models.Amount          `json:"amount"`
	Description  string                 `json:"description,omitempty"`
	CreatedAt    string                 `json:"created_at,omitempty"`
	PaidAt       string                 `json:"paid_at,omitempty"`
	Confirmation *Confirmation          `json:"confirmation,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Confirmation is the redirect confirmation of a payment
type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type paymentRequest struct {
	Amount       models.Amount          `json:"amount"`
	Capture      bool                   `json:"capture"`
	Confirmation Confirmation           `json:"confirmation"`
	Description  string                 `json:"description"`
	Metadata     models.PaymentMetadata `json:"metadata"`
}

// Client talks to the YooKassa v3 API
type Client struct {
	cfg     config.YooKassaConfig
	http    Doer
	logger  zerolog.Logger
	newUUID func() string
}

// NewClient creates a YooKassa client
func NewClient(cfg config.YooKassaConfig, doer Doer, logger zerolog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		http:    doer,
		logger:  logger.With().Str("component", "yookassa_client").Logger(),
		newUUID: uuid.NewString,
	}
}

// Configured reports whether real credentials are set
func (c *Client) Configured() bool {
	return c.cfg.Configured()
}

// CreatePayment creates a one-stage payment for the fixed subscription price
func (c *Client) CreatePayment(ctx context.Context, in CreatePaymentRequest) (*Payment, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	amount, err := decimal.NewFromString(c.cfg.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid payment amount %q: %w", c.cfg.Amount, err)
	}

	returnURL := in.ReturnURL
	if returnURL == "" {
		returnURL = c.cfg.ReturnURL
	}

	body := paymentRequest{
		Amount:  models.Amount{Value: amount.StringFixed(2), Currency: c.cfg.Currency},
		Capture: true,
		Confirmation: Confirmation{
			Type:      "redirect",
			ReturnURL: returnURL,
		},
		Description: c.cfg.Description,
		Metadata: models.PaymentMetadata{
			TgUserID:    models.FlexString(in.TgUserID),
			TgUsername:  in.TgUsername,
			TgFirstName: in.TgFirstName,
			TgLastName:  in.TgLastName,
			BotLink:     in.BotLink,
			Status:      models.DefaultPaidStatus,
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("payments"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", c.newUUID())
	req.SetBasicAuth(c.cfg.ShopID, c.cfg.SecretKey)

	payment, err := c.do(req)
	if err != nil {
		return nil, err
	}

	c.logger.Info().
		Str("payment_id", payment.ID).
		Str("user_id", in.TgUserID).
		Str("bot_link", in.BotLink).
		Msg("Payment created")
	return payment, nil
}

// GetPayment fetches a payment by id
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("payments/"+paymentID), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ShopID, c.cfg.SecretKey)

	return c.do(req)
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.APIURL, "/") + "/" + path
}

func (c *Client) do(req *http.Request) (*Payment, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yookassa request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading yookassa response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		details := json.RawMessage(data)
		if !json.Valid(data) {
			quoted, _ := json.Marshal(string(data))
			details = quoted
		}
		c.logger.Error().Int("status", resp.StatusCode).RawJSON("details", details).Msg("YooKassa error")
		return nil, &ProviderError{StatusCode: resp.StatusCode, Details: details}
	}

	var payment Payment
	if err := json.Unmarshal(data, &payment); err != nil {
		return nil, fmt.Errorf("parsing yookassa response: %w", err)
	}
	return &payment, nil
}

// ConfirmationURL returns the redirect URL of a payment, if any
func (p *Payment) ConfirmationURL() string {
	if p == nil || p.Confirmation == nil {
		return ""
	}
	return p.Confirmation.ConfirmationURL
}
