// Package store is the durable queue: the MT and MO tables, the per-attempt
// ledger and the skip-locked claim operations over them.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/thrillee/smppgateway/internal/database"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store runs queue operations against a pool (or a pgxmock pool in tests).
type Store struct {
	db database.DBTX
}

// New creates a Store.
func New(db database.DBTX) *Store {
	return &Store{db: db}
}

const ensureBackendSQL = `INSERT INTO backends (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name`

// EnsureBackend returns the backend row for name, creating it if needed.
func (s *Store) EnsureBackend(ctx context.Context, name string) (Backend, error) {
	var b Backend
	if err := s.db.QueryRow(ctx, ensureBackendSQL, name).Scan(&b.ID, &b.Name); err != nil {
		return Backend{}, fmt.Errorf("ensure backend %q: %w", name, err)
	}
	return b, nil
}

// rollback is best-effort; the original error is what the caller sees.
func rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		slog.WarnContext(ctx, "Transaction rollback failed", slog.Any("error", err))
	}
}
