package store

import (
	"context"
	"fmt"
)

// The allocator cycles, so a sequence number can come round again for the same
// backend. The newer attempt takes the slot.
const insertAttemptSQL = `INSERT INTO mt_message_attempts (mt_message_id, backend_id, sequence_number)
VALUES ($1, $2, $3)
ON CONFLICT (backend_id, sequence_number) DO UPDATE
SET mt_message_id = EXCLUDED.mt_message_id, command_status = NULL, remote_message_id = NULL,
    delivery_report = NULL, created_at = now(), updated_at = now()`

const recordAckSQL = `UPDATE mt_message_attempts
SET command_status = $1, remote_message_id = $2, updated_at = now()
WHERE backend_id = $3 AND sequence_number = $4`

const recordReceiptSQL = `UPDATE mt_message_attempts
SET delivery_report = $1, updated_at = now()
WHERE backend_id = $2 AND remote_message_id = $3
RETURNING mt_message_id`

const listAttemptsSQL = `SELECT id, mt_message_id, backend_id, sequence_number, command_status, remote_message_id, delivery_report, created_at, updated_at
FROM mt_message_attempts WHERE mt_message_id = $1 ORDER BY id`

// InsertAttempt records that a part went out under a sequence number. The
// acknowledgement fields stay NULL until RecordAck.
func (s *Store) InsertAttempt(ctx context.Context, a NewAttempt) error {
	if _, err := s.db.Exec(ctx, insertAttemptSQL, a.MTMessageID, a.BackendID, int64(a.SequenceNumber)); err != nil {
		return fmt.Errorf("insert attempt mt=%d seq=%d: %w", a.MTMessageID, a.SequenceNumber, err)
	}
	return nil
}

// RecordAck stores a submit_sm_resp on the attempt sent under seq. It reports
// false, creating nothing, when no attempt carries that sequence number.
func (s *Store) RecordAck(ctx context.Context, backendID int64, seq uint32, commandStatus int32, remoteID string) (bool, error) {
	var remote *string
	if remoteID != "" {
		remote = &remoteID
	}
	tag, err := s.db.Exec(ctx, recordAckSQL, commandStatus, remote, backendID, int64(seq))
	if err != nil {
		return false, fmt.Errorf("record ack seq=%d: %w", seq, err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordReceipt attaches a delivery report to the attempts the carrier knows as
// remoteID and moves their messages to DELIVERED. Without a match nothing changes.
func (s *Store) RecordReceipt(ctx context.Context, backendID int64, remoteID string, report []byte) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("record receipt: begin: %w", err)
	}

	rows, err := tx.Query(ctx, recordReceiptSQL, report, backendID, remoteID)
	if err != nil {
		rollback(ctx, tx)
		return false, fmt.Errorf("record receipt %s: %w", remoteID, err)
	}
	var owners []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			rollback(ctx, tx)
			return false, fmt.Errorf("record receipt %s: scan: %w", remoteID, err)
		}
		owners = append(owners, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		rollback(ctx, tx)
		return false, fmt.Errorf("record receipt %s: %w", remoteID, err)
	}

	if len(owners) == 0 {
		rollback(ctx, tx)
		return false, nil
	}

	if _, err := transitionOutbound(ctx, tx, owners, OutboundDelivered); err != nil {
		rollback(ctx, tx)
		return false, fmt.Errorf("record receipt %s: mark delivered: %w", remoteID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("record receipt %s: commit: %w", remoteID, err)
	}
	return true, nil
}

// ListAttempts returns the ledger of one MT message in send order.
func (s *Store) ListAttempts(ctx context.Context, mtID int64) ([]Attempt, error) {
	rows, err := s.db.Query(ctx, listAttemptsSQL, mtID)
	if err != nil {
		return nil, fmt.Errorf("list attempts %d: %w", mtID, err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a   Attempt
			seq int64
		)
		if err := rows.Scan(&a.ID, &a.MTMessageID, &a.BackendID, &seq, &a.CommandStatus, &a.RemoteMessageID, &a.DeliveryReport, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list attempts %d: scan: %w", mtID, err)
		}
		a.SequenceNumber = uint32(seq)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list attempts %d: %w", mtID, err)
	}
	return out, nil
}
