package storage

import (
	"context"
	"fmt"

	"github.com/Alias1177/payrelay/internal/config"
	"github.com/Alias1177/payrelay/models"
)

// Store gives typed access to the four relay documents
type Store struct {
	backend Backend
}

// New wraps a backend
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// Open builds the backend selected by the storage configuration
func Open(ctx context.Context, cfg config.StorageConfig) (*Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		backend, err := OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return New(backend), nil
	case config.DriverFile, "":
		return New(NewFileBackend(map[string]string{
			models.DocumentContacts:      cfg.ContactsFile,
			models.DocumentProcessed:     cfg.ProcessedFile,
			models.DocumentHistory:       cfg.HistoryFile,
			models.DocumentSubscriptions: cfg.SubscriptionsFile,
		})), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

func emptyContacts() models.Contacts           { return models.Contacts{} }
func emptyProcessed() models.Processed         { return models.Processed{} }
func emptyHistory() models.History             { return models.History{} }
func emptySubscriptions() models.Subscriptions { return models.Subscriptions{} }

// Contact returns the stored contact of a user
func (s *Store) Contact(ctx context.Context, userID string) (models.ContactRecord, bool, error) {
	contacts, err := loadDocument(ctx, s.backend, models.DocumentContacts, emptyContacts)
	if err != nil {
		return models.ContactRecord{}, false, err
	}
	rec, ok := contacts[userID]
	return rec, ok, nil
}

// SaveContact creates or replaces a user's contact
func (s *Store) SaveContact(ctx context.Context, userID string, rec models.ContactRecord) error {
	return updateDocument(ctx, s.backend, models.DocumentContacts, emptyContacts,
		func(contacts models.Contacts) (models.Contacts, bool, error) {
			contacts[userID] = rec
			return contacts, true, nil
		})
}

// IsProcessed reports whether a payment id already has a marker
func (s *Store) IsProcessed(ctx context.Context, paymentID string) (bool, error) {
	processed, err := loadDocument(ctx, s.backend, models.DocumentProcessed, emptyProcessed)
	if err != nil {
		return false, err
	}
	_, ok := processed[paymentID]
	return ok, nil
}

// MarkProcessed writes the marker for a payment id. An existing marker is
// kept as is.
func (s *Store) MarkProcessed(ctx context.Context, paymentID string, marker models.ProcessedPaymentMarker) error {
	return updateDocument(ctx, s.backend, models.DocumentProcessed, emptyProcessed,
		func(processed models.Processed) (models.Processed, bool, error) {
			if _, ok := processed[paymentID]; ok {
				return processed, false, nil
			}
			processed[paymentID] = marker
			return processed, true, nil
		})
}

// History returns the whole history log, oldest first
func (s *Store) History(ctx context.Context) (models.History, error) {
	return loadDocument(ctx, s.backend, models.DocumentHistory, emptyHistory)
}

// UpdateHistory applies fn to the history log
func (s *Store) UpdateHistory(ctx context.Context, fn func(models.History) (models.History, bool, error)) error {
	return updateDocument(ctx, s.backend, models.DocumentHistory, emptyHistory, fn)
}

// Subscriptions returns the ledger
func (s *Store) Subscriptions(ctx context.Context) (models.Subscriptions, error) {
	return loadDocument(ctx, s.backend, models.DocumentSubscriptions, emptySubscriptions)
}

// UpdateSubscriptions applies fn to the ledger. The ledger is written only
// when fn reports a change.
func (s *Store) UpdateSubscriptions(ctx context.Context, fn func(models.Subscriptions) (bool, error)) error {
	return updateDocument(ctx, s.backend, models.DocumentSubscriptions, emptySubscriptions,
		func(subs models.Subscriptions) (models.Subscriptions, bool, error) {
			changed, err := fn(subs)
			return subs, changed, err
		})
}
