package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresBackend stores each document as one JSONB row
type PostgresBackend struct {
	db *sql.DB
}

// OpenPostgres connects, checks the connection and applies migrations
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, err
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return &PostgresBackend{db: db}, nil
}

// Load returns the stored document body or nil when absent
func (p *PostgresBackend) Load(ctx context.Context, name string) ([]byte, error) {
	var body []byte
	err := p.db.QueryRowContext(ctx, `
		SELECT body
		FROM relay_documents
		WHERE name = $1
	`, name).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return body, nil
}

// Update locks the document row for the duration of fn
func (p *PostgresBackend) Update(ctx context.Context, name string, fn func(current []byte) ([]byte, error)) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO relay_documents (name, body)
		VALUES ($1, NULL)
		ON CONFLICT (name) DO NOTHING
	`, name); err != nil {
		return err
	}

	var current []byte
	if err := tx.QueryRowContext(ctx, `
		SELECT body
		FROM relay_documents
		WHERE name = $1
		FOR UPDATE
	`, name).Scan(&current); err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE relay_documents
		SET body = $2::jsonb, updated_at = NOW()
		WHERE name = $1
	`, name, string(next)); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the connection pool
func (p *PostgresBackend) Close() error {
	return p.db.Close()
}
