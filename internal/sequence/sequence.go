// Package sequence allocates SMPP sequence numbers from a PostgreSQL sequence,
// one per backend, so numbering survives restarts.
package sequence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/thrillee/smppgateway/internal/database"
)

const namePrefix = "smpp_gateway_sequence_"

// MaxValue is the largest sequence number handed out before wrapping to 1.
const MaxValue = 0x7FFFFFFF

// Allocator hands out sequence numbers for one backend.
type Allocator struct {
	db    database.DBTX
	ident string
}

// New makes sure the backend's sequence exists and returns an allocator for it.
func New(ctx context.Context, db database.DBTX, backend string) (*Allocator, error) {
	ident := pgx.Identifier{namePrefix + backend}.Sanitize()
	ddl := fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s MINVALUE 1 MAXVALUE %d CYCLE", ident, MaxValue)
	if _, err := db.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create sequence for %s: %w", backend, err)
	}
	return &Allocator{db: db, ident: ident}, nil
}

// Next returns the next sequence number.
func (a *Allocator) Next(ctx context.Context) (uint32, error) {
	var v int64
	if err := a.db.QueryRow(ctx, "SELECT nextval($1::regclass)", a.ident).Scan(&v); err != nil {
		return 0, fmt.Errorf("next sequence number: %w", err)
	}
	return uint32(v), nil
}

// Current returns the last value handed out.
func (a *Allocator) Current(ctx context.Context) (uint32, error) {
	var v int64
	if err := a.db.QueryRow(ctx, "SELECT last_value FROM "+a.ident).Scan(&v); err != nil {
		return 0, fmt.Errorf("current sequence number: %w", err)
	}
	return uint32(v), nil
}
