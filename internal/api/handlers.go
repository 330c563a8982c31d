package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Alias1177/payrelay/internal/payment"
	"github.com/Alias1177/payrelay/internal/telegram"
	"github.com/Alias1177/payrelay/internal/webhook"
	"github.com/Alias1177/payrelay/models"
)

type errorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

type createPaymentRequest struct {
	BotLink     string            `json:"botLink"`
	TgUserID    models.FlexString `json:"tgUserId"`
	TgUsername  string            `json:"tgUsername"`
	TgFirstName string            `json:"tgFirstName"`
	TgLastName  string            `json:"tgLastName"`
	ReturnURL   string            `json:"returnUrl"`
}

type createPaymentResponse struct {
	OK              bool    `json:"ok"`
	PaymentID       string  `json:"paymentId"`
	ConfirmationURL *string `json:"confirmationUrl"`
}

type webhookResponse struct {
	OK        bool `json:"ok"`
	Skipped   bool `json:"skipped,omitempty"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// telegramErrorDetails mirrors the Bot API error body
type telegramErrorDetails struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": s.cfg.ServiceName})
}

func (s *Server) handleContactStatus(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("tgUserId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "tgUserId is required", nil)
		return
	}

	contact, ok, err := s.contacts.Contact(r.Context(), userID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	hasPhone := ok && webhook.Sanitize(contact.Phone) != ""
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "hasPhone": hasPhone})
}

func (s *Server) handlePaymentHistory(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("tgUserId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "tgUserId is required", nil)
		return
	}

	result, err := s.history.Query(r.Context(), userID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"latest":  result.Latest,
		"grouped": result.Grouped,
	})
}

func (s *Server) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	if !s.payments.Configured() {
		writeError(w, http.StatusServiceUnavailable, payment.ErrNotConfigured.Error(), nil)
		return
	}

	var req createPaymentRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	in := payment.CreatePaymentRequest{
		BotLink:     webhook.Sanitize(req.BotLink),
		TgUserID:    req.TgUserID.String(),
		TgUsername:  webhook.Sanitize(req.TgUsername),
		TgFirstName: webhook.Sanitize(req.TgFirstName),
		TgLastName:  webhook.Sanitize(req.TgLastName),
		ReturnURL:   webhook.Sanitize(req.ReturnURL),
	}
	if in.BotLink == "" || in.TgUserID == "" {
		writeError(w, http.StatusBadRequest, "botLink and tgUserId are required", nil)
		return
	}

	p, err := s.payments.CreatePayment(r.Context(), in)
	if err != nil {
		var providerErr *payment.ProviderError
		switch {
		case errors.Is(err, payment.ErrNotConfigured):
			writeError(w, http.StatusServiceUnavailable, payment.ErrNotConfigured.Error(), nil)
		case errors.As(err, &providerErr):
			writeError(w, http.StatusBadGateway, "yookassa_error", providerErr.Details)
		default:
			s.internalError(w, err)
		}
		return
	}

	resp := createPaymentResponse{OK: true, PaymentID: p.ID}
	if url := p.ConfirmationURL(); url != "" {
		resp.ConfirmationURL = &url
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var event models.WebhookEvent
	if !s.decodeBody(w, r, &event) {
		return
	}

	result, err := s.webhooks.Process(r.Context(), event)
	if err != nil {
		var notifyErr *webhook.NotifyError
		switch {
		case errors.Is(err, webhook.ErrMissingPaymentID):
			writeError(w, http.StatusBadRequest, webhook.ErrMissingPaymentID.Error(), nil)
		case errors.As(err, &notifyErr):
			s.logger.Error().Err(err).Msg("Admin notification failed")
			writeError(w, http.StatusBadGateway, "telegram_send_failed", telegramDetails(notifyErr))
		default:
			s.internalError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{OK: true, Skipped: result.Skipped, Duplicate: result.Duplicate})
}

func telegramDetails(err *webhook.NotifyError) telegramErrorDetails {
	details := telegramErrorDetails{Description: err.Err.Error()}
	var sendErr *telegram.SendError
	if errors.As(err, &sendErr) {
		details.ErrorCode = sendErr.Code
		details.Description = sendErr.Details
	}
	return details
}

// decodeBody reads a size-limited JSON body and answers the request itself
// when it cannot be decoded
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	limit := s.cfg.BodyLimit
	if limit <= 0 {
		limit = 300 * 1024
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		// an empty body is an empty object
		if errors.Is(err, io.EOF) {
			return true
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", nil)
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_json", nil)
		return false
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, err.Error(), nil)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	writeJSON(w, status, errorResponse{OK: false, Error: message, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
