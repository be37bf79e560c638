package commandbus

import (
	"context"
	"reflect"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/platform/services/eventcore/domain"
	"example.com/platform/services/eventcore/eventstore"
	"example.com/platform/services/eventcore/models"
)

var (
	// ErrNoHandlerRegistered is returned when no handler accepts the command.
	ErrNoHandlerRegistered = errors.New("no handler registered for command")

	// ErrNoFactoryRegistered is returned when the command targets an
	// aggregate type without a registered factory.
	ErrNoFactoryRegistered = errors.New("no factory registered for aggregate type")
)

// Command targets exactly one aggregate instance.
type Command interface {
	AggregateID() string
	AggregateType() string
}

// Handler executes a command against a rehydrated aggregate. Business rule
// violations are reported by returning an error; accepted commands emit
// events on the aggregate.
type Handler func(ctx context.Context, aggregate domain.Aggregate, cmd Command) error

// Bus routes commands to handlers, rehydrating the target aggregate from
// snapshots and events, and persisting the resulting events atomically.
type Bus struct {
	store             eventstore.EventStore
	snapshots         eventstore.SnapshotStore
	snapshotFrequency int
	handlers          map[reflect.Type]Handler
	factories         map[string]domain.Factory
}

// NewBus creates a command bus. snapshotFrequency is the number of versions
// between snapshots; zero disables snapshotting.
func NewBus(store eventstore.EventStore, snapshots eventstore.SnapshotStore, snapshotFrequency int) *Bus {
	return &Bus{
		store:             store,
		snapshots:         snapshots,
		snapshotFrequency: snapshotFrequency,
		handlers:          make(map[reflect.Type]Handler),
		factories:         make(map[string]domain.Factory),
	}
}

// RegisterHandler binds a handler to a command type. cmd is a zero value of
// the command used only for its type.
func (b *Bus) RegisterHandler(cmd Command, handler Handler) {
	b.handlers[reflect.TypeOf(cmd)] = handler
}

// RegisterAggregate binds a factory to an aggregate type.
func (b *Bus) RegisterAggregate(aggregateType string, factory domain.Factory) {
	b.factories[aggregateType] = factory
}

// Dispatch rehydrates the target aggregate, runs the command's handler and
// persists the emitted events. The aggregate is returned in its post-command
// state. A concurrent write to the same aggregate surfaces as
// eventstore.ErrConcurrencyConflict.
func (b *Bus) Dispatch(ctx context.Context, cmd Command) (domain.Aggregate, error) {
	handler, ok := b.handlers[reflect.TypeOf(cmd)]
	if !ok {
		return nil, errors.Wrapf(ErrNoHandlerRegistered, "command %T", cmd)
	}

	aggregate, err := b.Load(ctx, cmd.AggregateType(), cmd.AggregateID())
	if err != nil {
		return nil, err
	}

	if err := handler(ctx, aggregate, cmd); err != nil {
		return nil, err
	}

	uncommitted := aggregate.GetUncommittedEvents()
	if len(uncommitted) == 0 {
		return aggregate, nil
	}

	lastEventID := uncommitted[len(uncommitted)-1].ID
	newVersion := aggregate.GetVersion()
	baseVersion := newVersion - len(uncommitted)

	err = b.store.Transaction(ctx, func(tx eventstore.EventStore) error {
		return tx.StoreUncommitted(ctx, aggregate)
	})
	if err != nil {
		return nil, err
	}

	b.maybeSnapshot(ctx, aggregate, baseVersion, newVersion, lastEventID)

	return aggregate, nil
}

// Load rehydrates an aggregate from its latest snapshot plus subsequent
// events. Unknown IDs yield a fresh version-0 aggregate.
func (b *Bus) Load(ctx context.Context, aggregateType, aggregateID string) (domain.Aggregate, error) {
	factory, ok := b.factories[aggregateType]
	if !ok {
		return nil, errors.Wrapf(ErrNoFactoryRegistered, "aggregate type %s", aggregateType)
	}

	aggregate := factory(aggregateID)

	if b.snapshots != nil {
		snapshot, err := b.snapshots.GetLatest(ctx, aggregateID, aggregateType)
		if err != nil {
			return nil, err
		}
		if snapshot != nil {
			state, err := snapshot.DecodeState()
			if err != nil {
				return nil, err
			}
			if err := aggregate.RestoreSnapshot(state); err != nil {
				return nil, errors.Wrap(err, "failed to restore aggregate from snapshot")
			}
			aggregate.SetVersion(snapshot.AggregateVersion)
		}
	}

	events, err := b.store.FindBySubjectAfter(ctx, aggregateID, aggregate.GetVersion())
	if err != nil {
		return nil, err
	}
	for i := range events {
		if err := aggregate.Apply(&events[i]); err != nil {
			return nil, err
		}
	}

	return aggregate, nil
}

// maybeSnapshot persists a snapshot when the command pushed the aggregate
// across a snapshot-frequency boundary. Snapshot failures only degrade replay
// speed, so they are logged and swallowed.
func (b *Bus) maybeSnapshot(ctx context.Context, aggregate domain.Aggregate, baseVersion, newVersion int, lastEventID string) {
	if b.snapshots == nil || b.snapshotFrequency <= 0 {
		return
	}
	if newVersion/b.snapshotFrequency == baseVersion/b.snapshotFrequency {
		return
	}

	state, err := aggregate.TakeSnapshot()
	if err != nil {
		log.Warn().Err(err).
			Str("aggregate_id", aggregate.GetID()).
			Str("aggregate_type", aggregate.GetType()).
			Msg("Failed to take aggregate snapshot")
		return
	}

	snapshot, err := models.NewAggregateSnapshot(aggregate.GetID(), aggregate.GetType(), newVersion, lastEventID, state)
	if err != nil {
		log.Warn().Err(err).
			Str("aggregate_id", aggregate.GetID()).
			Msg("Failed to encode aggregate snapshot")
		return
	}

	if err := b.snapshots.Save(ctx, snapshot); err != nil {
		log.Warn().Err(err).
			Str("aggregate_id", aggregate.GetID()).
			Int("version", newVersion).
			Msg("Failed to save aggregate snapshot")
		return
	}

	log.Info().
		Str("aggregate_id", aggregate.GetID()).
		Str("aggregate_type", aggregate.GetType()).
		Int("version", newVersion).
		Msg("Aggregate snapshot saved")
}
