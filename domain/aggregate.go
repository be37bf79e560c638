package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Aggregate is the interface for all event-sourced aggregates. State is
// derived purely by folding events through the mutate function; aggregates
// are never persisted directly.
type Aggregate interface {
	GetID() string
	GetType() string
	GetVersion() int
	SetVersion(version int)
	Apply(event *Event) error
	GetUncommittedEvents() []*Event
	ClearUncommittedEvents()
	TakeSnapshot() (map[string]interface{}, error)
	RestoreSnapshot(state map[string]interface{}) error
}

// Factory builds a fresh, version-0 aggregate instance for the given ID.
type Factory func(id string) Aggregate

// AggregateBase provides common aggregate functionality. Concrete aggregates
// embed it and pass their mutate function to NewAggregateBase.
type AggregateBase struct {
	id            string
	aggregateType string
	version       int
	uncommitted   []*Event
	mutate        func(event *Event) error
}

// NewAggregateBase creates a new aggregate base.
func NewAggregateBase(id, aggregateType string, mutate func(*Event) error) *AggregateBase {
	if id == "" {
		id = uuid.New().String()
	}
	return &AggregateBase{
		id:            id,
		aggregateType: aggregateType,
		mutate:        mutate,
	}
}

// GetID returns the aggregate ID.
func (a *AggregateBase) GetID() string {
	return a.id
}

// GetType returns the aggregate type.
func (a *AggregateBase) GetType() string {
	return a.aggregateType
}

// GetVersion returns the count of events applied so far.
func (a *AggregateBase) GetVersion() int {
	return a.version
}

// SetVersion sets the version, used when restoring from a snapshot.
func (a *AggregateBase) SetVersion(version int) {
	a.version = version
}

// Apply folds an event into the aggregate state and increments the version.
func (a *AggregateBase) Apply(event *Event) error {
	if a.mutate == nil {
		return fmt.Errorf("mutate function is not set for aggregate %s", a.aggregateType)
	}
	if err := a.mutate(event); err != nil {
		return fmt.Errorf("failed to apply event %s: %w", event.Type, err)
	}
	a.version++
	return nil
}

// GetUncommittedEvents returns the events produced during the current command.
func (a *AggregateBase) GetUncommittedEvents() []*Event {
	return a.uncommitted
}

// ClearUncommittedEvents clears the uncommitted event list.
func (a *AggregateBase) ClearUncommittedEvents() {
	a.uncommitted = nil
}

// TakeSnapshot is overridden by aggregates that support snapshotting.
func (a *AggregateBase) TakeSnapshot() (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

// RestoreSnapshot is overridden by aggregates that support snapshotting.
func (a *AggregateBase) RestoreSnapshot(state map[string]interface{}) error {
	return nil
}

// EmitEvent constructs a new event with the aggregate ID as subject, applies
// it immediately (so its effect is visible to subsequent logic within the
// same command) and records it as uncommitted.
func (a *AggregateBase) EmitEvent(eventType string, data map[string]interface{}) error {
	return a.EmitEventWithSubject(eventType, data, a.id)
}

// EmitEventWithSubject emits a new event with a customized subject.
func (a *AggregateBase) EmitEventWithSubject(eventType string, data map[string]interface{}, subject string) error {
	event := &Event{
		ID:          uuid.New().String(),
		Source:      "/domain/" + strings.ToLower(a.aggregateType),
		SpecVersion: SpecVersion,
		Type:        eventType,
		Subject:     subject,
		Sequence:    a.version + 1,
		Time:        time.Now(),
		ContentType: DefaultContentType,
		Data:        data,
	}

	if err := a.Apply(event); err != nil {
		return err
	}
	a.uncommitted = append(a.uncommitted, event)
	return nil
}
