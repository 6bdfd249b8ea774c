package domain

import (
	"encoding/json"
	"time"
)

// OutboxStatus tracks delivery progress of a pending side effect.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusDelivered OutboxStatus = "delivered"
	OutboxStatusDead      OutboxStatus = "dead"
)

// OutboxMessage is a side effect enqueued in the same transaction as the
// ticket mutation that caused it.
type OutboxMessage struct {
	ID            string
	TicketID      string
	Kind          string
	Payload       json.RawMessage
	Status        OutboxStatus
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     *string
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}
