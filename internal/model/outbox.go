package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outbox event lifecycle states.
const (
	OutboxPending   = "PENDING"
	OutboxProcessed = "PROCESSED"
	OutboxFailed    = "FAILED"
)

const DefaultMaxRetries = 3

var (
	ErrEmptyEventType   = errors.New("outbox event type is required")
	ErrEmptyAggregateID = errors.New("outbox aggregate id is required")
	ErrPayloadNotJSON   = errors.New("outbox payload must be valid JSON")
)

// OutboxEvent is one row of the transactional outbox. It is inserted in the
// same transaction as the business record it announces and mutated afterwards
// only by the dispatcher.
type OutboxEvent struct {
	ID            string     `json:"id"`
	AggregateID   string     `json:"aggregate_id"`
	AggregateType string     `json:"aggregate_type"`
	EventType     string     `json:"event_type"`
	EventData     []byte     `json:"event_data"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	// NextAttemptAt schedules the earliest re-publish time. The dispatcher
	// pushes it out exponentially on each failed publish attempt.
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// NewOutboxEvent builds a pending outbox event ready for insertion.
func NewOutboxEvent(aggregateID, aggregateType, eventType string, payload []byte) (*OutboxEvent, error) {
	if eventType == "" {
		return nil, ErrEmptyEventType
	}
	if aggregateID == "" {
		return nil, ErrEmptyAggregateID
	}
	if !json.Valid(payload) {
		return nil, ErrPayloadNotJSON
	}

	now := time.Now().UTC()
	return &OutboxEvent{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     payload,
		CreatedAt:     now,
		Status:        OutboxPending,
		RetryCount:    0,
		MaxRetries:    DefaultMaxRetries,
		NextAttemptAt: now,
	}, nil
}

// ValidateOutboxTransition enforces the PENDING -> PROCESSED|FAILED lifecycle.
// FAILED -> PENDING is allowed for manual replay only.
func ValidateOutboxTransition(from, to string) error {
	ok := false
	switch from {
	case OutboxPending:
		ok = to == OutboxProcessed || to == OutboxFailed
	case OutboxFailed:
		ok = to == OutboxPending
	}
	if !ok {
		return fmt.Errorf("illegal outbox transition %s -> %s", from, to)
	}
	return nil
}
