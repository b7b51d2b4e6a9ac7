package store

import (
	"context"
	"fmt"
)

const claimInboundSQL = `SELECT m.id, m.backend_id, b.name, m.short_message, m.params, m.status, m.created_at
FROM mo_messages m
JOIN backends b ON b.id = m.backend_id
WHERE m.status = $1
ORDER BY m.created_at, m.id
LIMIT $2
FOR UPDATE OF m SKIP LOCKED`

const updateInboundStatusSQL = `UPDATE mo_messages SET status = $1, updated_at = now()
WHERE id = ANY($2) AND status = ANY($3)`

const markInboundErrorSQL = `UPDATE mo_messages SET status = $1, error = $2, updated_at = now()
WHERE id = $3 AND status = ANY($4)`

const insertInboundSQL = `INSERT INTO mo_messages (backend_id, short_message, params, status)
VALUES ($1, $2, $3, $4)
RETURNING id`

// ClaimInbound locks up to limit NEW MO rows across all backends and moves them
// to PROCESSING in one transaction.
func (s *Store) ClaimInbound(ctx context.Context, limit int) ([]InboundMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim inbound: begin: %w", err)
	}

	rows, err := tx.Query(ctx, claimInboundSQL, string(InboundNew), limit)
	if err != nil {
		rollback(ctx, tx)
		return nil, fmt.Errorf("claim inbound: select: %w", err)
	}

	var msgs []InboundMessage
	for rows.Next() {
		var (
			m      InboundMessage
			params []byte
			status string
		)
		if err := rows.Scan(&m.ID, &m.BackendID, &m.BackendName, &m.Raw, &params, &status, &m.CreatedAt); err != nil {
			rows.Close()
			rollback(ctx, tx)
			return nil, fmt.Errorf("claim inbound: scan: %w", err)
		}
		m.Status = InboundStatus(status)
		// A params column that fails to decode is the worker's problem; it
		// marks the row ERROR instead of blocking the whole claim.
		if p, err := DecodeParams(params); err == nil {
			m.Params = p
		} else {
			m.Error = err.Error()
		}
		msgs = append(msgs, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		rollback(ctx, tx)
		return nil, fmt.Errorf("claim inbound: %w", err)
	}

	if len(msgs) > 0 {
		ids := make([]int64, len(msgs))
		for i := range msgs {
			ids[i] = msgs[i].ID
			msgs[i].Status = InboundProcessing
		}
		if _, err := transitionInbound(ctx, tx, ids, InboundProcessing); err != nil {
			rollback(ctx, tx)
			return nil, fmt.Errorf("claim inbound: mark processing: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claim inbound: commit: %w", err)
	}
	return msgs, nil
}

// InsertInbound stores a received deliver_sm as NEW. A nil payload is stored
// as empty bytes.
func (s *Store) InsertInbound(ctx context.Context, in NewInbound) (int64, error) {
	params, err := in.Params.Encode()
	if err != nil {
		return 0, err
	}
	raw := in.Raw
	if raw == nil {
		raw = []byte{}
	}

	var id int64
	if err := s.db.QueryRow(ctx, insertInboundSQL, in.BackendID, raw, params, string(InboundNew)).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert inbound: %w", err)
	}
	return id, nil
}

// MarkInboundDone moves forwarded rows to DONE.
func (s *Store) MarkInboundDone(ctx context.Context, ids []int64) (int64, error) {
	n, err := transitionInbound(ctx, s.db, ids, InboundDone)
	if err != nil {
		return 0, fmt.Errorf("mark inbound done: %w", err)
	}
	return n, nil
}

// MarkInboundError moves one row to ERROR with a reason. It is never retried.
func (s *Store) MarkInboundError(ctx context.Context, id int64, reason string) error {
	_, err := s.db.Exec(ctx, markInboundErrorSQL, string(InboundError), reason, id, inboundSources(InboundError))
	if err != nil {
		return fmt.Errorf("mark inbound %d error: %w", id, err)
	}
	return nil
}

// ReleaseInbound puts unforwarded PROCESSING rows back to NEW.
func (s *Store) ReleaseInbound(ctx context.Context, ids []int64) (int64, error) {
	n, err := transitionInbound(ctx, s.db, ids, InboundNew)
	if err != nil {
		return 0, fmt.Errorf("release inbound: %w", err)
	}
	return n, nil
}

func transitionInbound(ctx context.Context, q execer, ids []int64, to InboundStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := q.Exec(ctx, updateInboundStatusSQL, string(to), ids, inboundSources(to))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
