package httpapi

import (
	"time"

	"github.com/thrillee/smppgateway/internal/store"
)

// SubmitRequest is the body of POST /backends/:backend/messages.
type SubmitRequest struct {
	Text          string         `json:"text"`
	To            []string       `json:"to" binding:"required"`
	From          string         `json:"from"`
	PriorityFlag  *int           `json:"priority_flag"`
	Transactional bool           `json:"transactional"`
	Params        map[string]any `json:"params"`
}

type SubmitResponse struct {
	Queued int     `json:"queued"`
	IDs    []int64 `json:"ids"`
}

type AttemptResponse struct {
	SequenceNumber  uint32    `json:"sequence_number"`
	CommandStatus   *int32    `json:"command_status"`
	RemoteMessageID *string   `json:"remote_message_id"`
	Delivered       bool      `json:"delivered"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MessageResponse is the ledger view of one MT message.
type MessageResponse struct {
	ID            int64             `json:"id"`
	BackendID     int64             `json:"backend_id"`
	Text          string            `json:"text"`
	Params        store.Params      `json:"params"`
	PriorityFlag  *int              `json:"priority_flag"`
	Transactional bool              `json:"transactional"`
	Status        string            `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Attempts      []AttemptResponse `json:"attempts"`
}

func mapMessageToResponse(m store.OutboundMessage, attempts []store.Attempt) MessageResponse {
	resp := MessageResponse{
		ID:            m.ID,
		BackendID:     m.BackendID,
		Text:          m.Text,
		Params:        m.Params,
		PriorityFlag:  m.PriorityFlag,
		Transactional: m.IsTransactional,
		Status:        string(m.Status),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		Attempts:      make([]AttemptResponse, len(attempts)),
	}
	for i, a := range attempts {
		resp.Attempts[i] = AttemptResponse{
			SequenceNumber:  a.SequenceNumber,
			CommandStatus:   a.CommandStatus,
			RemoteMessageID: a.RemoteMessageID,
			Delivered:       len(a.DeliveryReport) > 0,
			CreatedAt:       a.CreatedAt,
			UpdatedAt:       a.UpdatedAt,
		}
	}
	return resp
}
