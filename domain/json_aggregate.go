package domain

import (
	"strings"
)

// JSONAggregate is the generic aggregate: its state is the shallow merge of
// all event data in stream order. An event type ending in ".deleted" marks
// the aggregate deleted; its projection row is removed rather than updated.
type JSONAggregate struct {
	*AggregateBase
	state   map[string]interface{}
	deleted bool
}

// NewJSONFactory returns a factory producing generic JSON aggregates of the
// given type.
func NewJSONFactory(aggregateType string) Factory {
	return func(id string) Aggregate {
		a := &JSONAggregate{state: make(map[string]interface{})}
		a.AggregateBase = NewAggregateBase(id, aggregateType, a.mutate)
		return a
	}
}

func (a *JSONAggregate) mutate(event *Event) error {
	if strings.HasSuffix(event.Type, ".deleted") {
		a.deleted = true
		a.state = make(map[string]interface{})
		return nil
	}

	a.deleted = false
	for key, value := range event.Data {
		a.state[key] = value
	}
	return nil
}

// State returns the current merged state.
func (a *JSONAggregate) State() map[string]interface{} {
	return a.state
}

// TakeSnapshot returns the merged state, or nil when the aggregate is
// deleted.
func (a *JSONAggregate) TakeSnapshot() (map[string]interface{}, error) {
	if a.deleted {
		return nil, nil
	}
	snapshot := make(map[string]interface{}, len(a.state)+1)
	for key, value := range a.state {
		snapshot[key] = value
	}
	snapshot["id"] = a.GetID()
	return snapshot, nil
}

// RestoreSnapshot replaces the state with a snapshot's.
func (a *JSONAggregate) RestoreSnapshot(state map[string]interface{}) error {
	a.state = make(map[string]interface{}, len(state))
	for key, value := range state {
		a.state[key] = value
	}
	a.deleted = false
	return nil
}
