package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

const outboundColumns = `id, backend_id, short_message, params, priority_flag, is_transactional, status, created_at, updated_at`

const updateOutboundStatusSQL = `UPDATE mt_messages SET status = $1, updated_at = now()
WHERE id = ANY($2) AND status = ANY($3)`

// ClaimOutbound locks up to limit NEW messages of a backend, skipping rows other
// claimers hold, and moves them to SENDING in the same transaction. Higher
// priority_flag first (unset last), then arrival order.
func (s *Store) ClaimOutbound(ctx context.Context, backendID int64, limit int, filter OutboundFilter) ([]OutboundMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	query, args := claimOutboundQuery(backendID, limit, filter)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("claim outbound: begin: %w", err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		rollback(ctx, tx)
		return nil, fmt.Errorf("claim outbound: select: %w", err)
	}
	msgs, err := scanOutbound(rows)
	if err != nil {
		rollback(ctx, tx)
		return nil, fmt.Errorf("claim outbound: scan: %w", err)
	}

	if len(msgs) > 0 {
		ids := make([]int64, len(msgs))
		for i := range msgs {
			ids[i] = msgs[i].ID
			msgs[i].Status = OutboundSending
		}
		if _, err := transitionOutbound(ctx, tx, ids, OutboundSending); err != nil {
			rollback(ctx, tx)
			return nil, fmt.Errorf("claim outbound: mark sending: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("claim outbound: commit: %w", err)
	}
	return msgs, nil
}

func claimOutboundQuery(backendID int64, limit int, filter OutboundFilter) (string, []any) {
	var b strings.Builder
	args := []any{backendID, string(OutboundNew)}

	b.WriteString("SELECT ")
	b.WriteString(outboundColumns)
	b.WriteString("\nFROM mt_messages\nWHERE backend_id = $1 AND status = $2")
	if filter.ID != nil {
		args = append(args, *filter.ID)
		fmt.Fprintf(&b, " AND id = $%d", len(args))
	}
	if filter.TransactionalOnly {
		b.WriteString(" AND is_transactional")
	}
	args = append(args, limit)
	fmt.Fprintf(&b, "\nORDER BY priority_flag DESC NULLS LAST, created_at, id\nLIMIT $%d\nFOR UPDATE SKIP LOCKED", len(args))
	return b.String(), args
}

// InsertOutbound writes msgs with one multi-row INSERT and returns their ids in order.
func (s *Store) InsertOutbound(ctx context.Context, msgs []NewOutbound) ([]int64, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("INSERT INTO mt_messages (backend_id, short_message, params, priority_flag, is_transactional, status) VALUES ")
	args := make([]any, 0, len(msgs)*6)
	for i, m := range msgs {
		params, err := m.Params.Encode()
		if err != nil {
			return nil, err
		}
		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		args = append(args, m.BackendID, m.Text, params, m.PriorityFlag, m.IsTransactional, string(OutboundNew))
	}
	b.WriteString(" RETURNING id")

	rows, err := s.db.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("insert outbound: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, len(msgs))
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("insert outbound: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insert outbound: %w", err)
	}
	return ids, nil
}

// MarkOutboundSent moves SENDING messages to SENT.
func (s *Store) MarkOutboundSent(ctx context.Context, ids []int64) (int64, error) {
	n, err := transitionOutbound(ctx, s.db, ids, OutboundSent)
	if err != nil {
		return 0, fmt.Errorf("mark outbound sent: %w", err)
	}
	return n, nil
}

// MarkOutboundError moves SENDING messages to ERROR.
func (s *Store) MarkOutboundError(ctx context.Context, ids []int64) (int64, error) {
	n, err := transitionOutbound(ctx, s.db, ids, OutboundError)
	if err != nil {
		return 0, fmt.Errorf("mark outbound error: %w", err)
	}
	return n, nil
}

// GetOutbound loads one MT message.
func (s *Store) GetOutbound(ctx context.Context, id int64) (OutboundMessage, error) {
	rows, err := s.db.Query(ctx, "SELECT "+outboundColumns+" FROM mt_messages WHERE id = $1", id)
	if err != nil {
		return OutboundMessage{}, fmt.Errorf("get outbound %d: %w", id, err)
	}
	msgs, err := scanOutbound(rows)
	if err != nil {
		return OutboundMessage{}, fmt.Errorf("get outbound %d: %w", id, err)
	}
	if len(msgs) == 0 {
		return OutboundMessage{}, ErrNotFound
	}
	return msgs[0], nil
}

func transitionOutbound(ctx context.Context, q execer, ids []int64, to OutboundStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := q.Exec(ctx, updateOutboundStatusSQL, string(to), ids, outboundSources(to))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanOutbound(rows pgx.Rows) ([]OutboundMessage, error) {
	defer rows.Close()

	var msgs []OutboundMessage
	for rows.Next() {
		var (
			m      OutboundMessage
			params []byte
			status string
		)
		if err := rows.Scan(&m.ID, &m.BackendID, &m.Text, &params, &m.PriorityFlag, &m.IsTransactional, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		p, err := DecodeParams(params)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", m.ID, err)
		}
		m.Params = p
		m.Status = OutboundStatus(status)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}
