package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrCorruptDocument is returned when a stored document exists but cannot be
// decoded into its schema
var ErrCorruptDocument = errors.New("corrupt document")

// ErrUnknownDocument is returned for document names a backend was not
// configured with
var ErrUnknownDocument = errors.New("unknown document")

// Backend persists whole JSON documents by name.
//
// Load returns nil data for a document that does not exist yet. Update runs
// fn with the current bytes while holding the document lock; a nil result
// from fn leaves the document untouched.
type Backend interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Update(ctx context.Context, name string, fn func(current []byte) ([]byte, error)) error
	Close() error
}

func decode[T any](name string, data []byte, empty func() T) (T, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return empty(), nil
	}
	doc := empty()
	if err := json.Unmarshal(data, &doc); err != nil {
		var zero T
		return zero, fmt.Errorf("%w %s: %v", ErrCorruptDocument, name, err)
	}
	return doc, nil
}

func encode(doc any) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

func loadDocument[T any](ctx context.Context, b Backend, name string, empty func() T) (T, error) {
	data, err := b.Load(ctx, name)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("loading %s: %w", name, err)
	}
	return decode(name, data, empty)
}

// updateDocument decodes the document, applies fn and writes the result back
// when fn reports a change
func updateDocument[T any](ctx context.Context, b Backend, name string, empty func() T, fn func(T) (T, bool, error)) error {
	err := b.Update(ctx, name, func(current []byte) ([]byte, error) {
		doc, err := decode(name, current, empty)
		if err != nil {
			return nil, err
		}
		next, changed, err := fn(doc)
		if err != nil || !changed {
			return nil, err
		}
		return encode(next)
	})
	if err != nil {
		return fmt.Errorf("updating %s: %w", name, err)
	}
	return nil
}
