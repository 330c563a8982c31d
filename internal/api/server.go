// Package api exposes the relay HTTP endpoints used by the mini app and by
// YooKassa notifications.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Alias1177/payrelay/internal/config"
	"github.com/Alias1177/payrelay/internal/history"
	"github.com/Alias1177/payrelay/internal/payment"
	"github.com/Alias1177/payrelay/internal/webhook"
	"github.com/Alias1177/payrelay/models"
)

// ContactStore looks up shared phone numbers
type ContactStore interface {
	Contact(ctx context.Context, userID string) (models.ContactRecord, bool, error)
}

// HistoryQuerier answers payment history queries
type HistoryQuerier interface {
	Query(ctx context.Context, userID string) (history.Result, error)
}

// PaymentCreator creates provider payments
type PaymentCreator interface {
	Configured() bool
	CreatePayment(ctx context.Context, in payment.CreatePaymentRequest) (*payment.Payment, error)
}

// WebhookProcessor applies provider notifications
type WebhookProcessor interface {
	Process(ctx context.Context, event models.WebhookEvent) (webhook.Result, error)
}

// Server is the relay HTTP API
type Server struct {
	cfg      config.ServerConfig
	contacts ContactStore
	history  HistoryQuerier
	payments PaymentCreator
	webhooks WebhookProcessor
	logger   zerolog.Logger
}

// NewServer wires the handlers
func NewServer(cfg config.ServerConfig, contacts ContactStore, historyLog HistoryQuerier, payments PaymentCreator, webhooks WebhookProcessor, logger zerolog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		contacts: contacts,
		history:  historyLog,
		payments: payments,
		webhooks: webhooks,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Handler returns the routed handler. CORS wraps the router so preflight
// requests are answered for every path.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/contact-status", s.handleContactStatus).Methods(http.MethodGet)
	apiRouter.HandleFunc("/payment-history", s.handlePaymentHistory).Methods(http.MethodGet)
	apiRouter.HandleFunc("/yookassa/create-payment", s.handleCreatePayment).Methods(http.MethodPost)
	apiRouter.HandleFunc("/yookassa/webhook", s.handleWebhook).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
	})

	return s.cors(r)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("API server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info().Msg("Shutting down API server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.cfg.AllowedOrigin)
		h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type,Idempotence-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := zerolog.DebugLevel
		if rec.status >= http.StatusInternalServerError {
			level = zerolog.WarnLevel
		}
		event := s.logger.WithLevel(level)
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("Request handled")
	})
}
