package commandbus

import (
	"context"

	"github.com/pkg/errors"

	"example.com/platform/services/eventcore/domain"
)

// eventEmitter is satisfied by aggregates embedding domain.AggregateBase.
type eventEmitter interface {
	EmitEvent(eventType string, data map[string]interface{}) error
}

// EmitEventCommand appends one event to an aggregate through the command
// pipeline, gaining optimistic concurrency and snapshotting over a raw
// event-store write.
type EmitEventCommand struct {
	TargetType string
	TargetID   string
	EventType  string
	Data       map[string]interface{}
}

func (c EmitEventCommand) AggregateID() string   { return c.TargetID }
func (c EmitEventCommand) AggregateType() string { return c.TargetType }

// RegisterGenericCommands wires the emit-event command and the generic JSON
// aggregate factories for the given types.
func (b *Bus) RegisterGenericCommands(aggregateTypes []string) {
	for _, aggregateType := range aggregateTypes {
		b.RegisterAggregate(aggregateType, domain.NewJSONFactory(aggregateType))
	}

	b.RegisterHandler(EmitEventCommand{}, func(ctx context.Context, aggregate domain.Aggregate, cmd Command) error {
		emit, ok := cmd.(EmitEventCommand)
		if !ok {
			return errors.Errorf("unexpected command type %T", cmd)
		}
		emitter, ok := aggregate.(eventEmitter)
		if !ok {
			return errors.Errorf("aggregate type %s cannot emit events", aggregate.GetType())
		}
		return emitter.EmitEvent(emit.EventType, emit.Data)
	})
}
