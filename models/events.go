package models

import (
	"encoding/json"
	"time"
)

// Outbox row statuses
const (
	OutboxPending = "PENDING"
	OutboxSent    = "SENT"
)

// Event represents a stored domain event. The log is append-only: only the
// processing bookkeeping columns are ever updated in place.
type Event struct {
	ID           uint       `gorm:"primaryKey" json:"-"`
	EventID      string     `gorm:"uniqueIndex" json:"id"`
	Source       string     `json:"source"`
	SpecVersion  string     `json:"specversion"`
	EventType    string     `gorm:"index" json:"type"`
	Subject      *string    `gorm:"uniqueIndex:idx_events_subject_sequence" json:"subject,omitempty"`
	Sequence     int        `gorm:"uniqueIndex:idx_events_subject_sequence" json:"sequence"`
	Time         time.Time  `json:"time"`
	ContentType  string     `json:"datacontenttype"`
	SchemaRef    string     `json:"dataschema,omitempty"`
	Data         []byte     `gorm:"type:jsonb" json:"data"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	ProcessedAt  *time.Time `gorm:"index" json:"processed_at,omitempty"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
	RetryCount   int        `json:"retry_count"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}

// OutboxEvent is the companion row written in the same transaction as each
// domain event, guaranteeing at-least-once external delivery.
type OutboxEvent struct {
	ID          uint       `gorm:"primaryKey" json:"-"`
	OutboxID    string     `gorm:"uniqueIndex" json:"id"`
	Topic       string     `json:"topic"`
	Payload     []byte     `gorm:"type:jsonb" json:"payload"`
	Status      string     `gorm:"index" json:"status"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// DeadLetterEvent holds events that exhausted their retry budget. Terminal.
type DeadLetterEvent struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	EventID      string    `gorm:"uniqueIndex" json:"event_id"`
	EventType    string    `json:"type"`
	Subject      *string   `json:"subject,omitempty"`
	Reason       string    `json:"reason"`
	ErrorMessage string    `json:"error_message"`
	RetryCount   int       `json:"retry_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// AggregateSnapshot is a compacted aggregate state at a known version, used
// to bound replay cost. A stale snapshot is always safe: events past its
// version are replayed on top.
type AggregateSnapshot struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	AggregateID      string    `gorm:"index:idx_snapshots_aggregate" json:"aggregate_id"`
	AggregateType    string    `gorm:"index:idx_snapshots_aggregate" json:"aggregate_type"`
	AggregateVersion int       `json:"aggregate_version"`
	LastEventID      string    `json:"last_event_id"`
	State            []byte    `gorm:"type:jsonb" json:"state"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewAggregateSnapshot encodes state and builds a snapshot row.
func NewAggregateSnapshot(aggregateID, aggregateType string, version int, lastEventID string, state map[string]interface{}) (*AggregateSnapshot, error) {
	encoded, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return &AggregateSnapshot{
		AggregateID:      aggregateID,
		AggregateType:    aggregateType,
		AggregateVersion: version,
		LastEventID:      lastEventID,
		State:            encoded,
	}, nil
}

// DecodeState unmarshals the snapshot's state document.
func (s *AggregateSnapshot) DecodeState() (map[string]interface{}, error) {
	var state map[string]interface{}
	if len(s.State) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(s.State, &state); err != nil {
		return nil, err
	}
	return state, nil
}

// AggregateState is the generic JSON projection row, keyed by
// (aggregate_type, aggregate_id).
type AggregateState struct {
	AggregateType string    `gorm:"primaryKey" json:"aggregate_type"`
	AggregateID   string    `gorm:"primaryKey" json:"aggregate_id"`
	State         []byte    `gorm:"type:jsonb" json:"state"`
	Version       int       `json:"version"`
	LastEventID   string    `json:"last_event_id"`
	UpdatedAt     time.Time `json:"updated_at"`
}
