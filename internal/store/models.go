package store

import "time"

// Backend is one logical carrier connection.
type Backend struct {
	ID   int64
	Name string
}

// OutboundMessage is an MT row.
type OutboundMessage struct {
	ID              int64
	BackendID       int64
	Text            string
	Params          Params
	PriorityFlag    *int
	IsTransactional bool
	Status          OutboundStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewOutbound is the insert shape for an MT row.
type NewOutbound struct {
	BackendID       int64
	Text            string
	Params          Params
	PriorityFlag    *int
	IsTransactional bool
}

// OutboundFilter narrows ClaimOutbound beyond backend and status.
type OutboundFilter struct {
	ID                *int64
	TransactionalOnly bool
}

// Attempt is one PDU sent for an OutboundMessage.
type Attempt struct {
	ID              int64
	MTMessageID     int64
	BackendID       int64
	SequenceNumber  uint32
	CommandStatus   *int32
	RemoteMessageID *string
	DeliveryReport  []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewAttempt is the placeholder written right after a part hits the socket.
type NewAttempt struct {
	MTMessageID    int64
	BackendID      int64
	SequenceNumber uint32
}

// InboundMessage is an MO row.
type InboundMessage struct {
	ID          int64
	BackendID   int64
	BackendName string
	Raw         []byte
	Params      Params
	Status      InboundStatus
	Error       string
	CreatedAt   time.Time
}

// NewInbound is the insert shape for an MO row.
type NewInbound struct {
	BackendID int64
	Raw       []byte
	Params    Params
}
