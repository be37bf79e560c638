package commandbus

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/platform/services/eventcore/domain"
	"example.com/platform/services/eventcore/eventstore"
)

func newTestBus(snapshotFrequency int) (*Bus, *eventstore.MemoryEventStore, *eventstore.MemorySnapshotStore) {
	store := eventstore.NewMemoryEventStore()
	snapshots := eventstore.NewMemorySnapshotStore()
	bus := NewBus(store, snapshots, snapshotFrequency)
	bus.RegisterGenericCommands([]string{"Order"})
	return bus, store, snapshots
}

func TestBus_DispatchStoresEmittedEvents(t *testing.T) {
	bus, store, _ := newTestBus(100)
	ctx := context.Background()

	aggregate, err := bus.Dispatch(ctx, EmitEventCommand{
		TargetType: "Order",
		TargetID:   "order-1",
		EventType:  "app.events.order.created",
		Data:       map[string]interface{}{"name": "n1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, aggregate.GetVersion())
	assert.Empty(t, aggregate.GetUncommittedEvents())

	events, err := store.FindBySubject(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "app.events.order.created", events[0].Type)
	assert.Equal(t, 1, events[0].Sequence)
}

func TestBus_DispatchRehydratesAcrossCalls(t *testing.T) {
	bus, _, _ := newTestBus(100)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := bus.Dispatch(ctx, EmitEventCommand{
			TargetType: "Order",
			TargetID:   "order-1",
			EventType:  "app.events.order.updated",
			Data:       map[string]interface{}{"step": float64(i)},
		})
		require.NoError(t, err)
	}

	aggregate, err := bus.Load(ctx, "Order", "order-1")
	require.NoError(t, err)
	assert.Equal(t, 3, aggregate.GetVersion())

	state, err := aggregate.TakeSnapshot()
	require.NoError(t, err)
	assert.Equal(t, float64(2), state["step"])
}

func TestBus_DispatchUnregisteredCommand(t *testing.T) {
	store := eventstore.NewMemoryEventStore()
	bus := NewBus(store, eventstore.NewMemorySnapshotStore(), 100)

	_, err := bus.Dispatch(context.Background(), EmitEventCommand{TargetType: "Order", TargetID: "x"})
	assert.ErrorIs(t, err, ErrNoHandlerRegistered)
}

func TestBus_DispatchUnknownAggregateType(t *testing.T) {
	bus, _, _ := newTestBus(100)

	_, err := bus.Dispatch(context.Background(), EmitEventCommand{
		TargetType: "Unknown",
		TargetID:   "x",
		EventType:  "app.events.unknown.created",
		Data:       map[string]interface{}{},
	})
	assert.ErrorIs(t, err, ErrNoFactoryRegistered)
}

func TestBus_HandlerErrorStoresNothing(t *testing.T) {
	bus, store, _ := newTestBus(100)
	bus.RegisterAggregate("Item", domain.NewJSONFactory("Item"))

	type rejectCommand struct{ EmitEventCommand }
	bus.RegisterHandler(rejectCommand{}, func(ctx context.Context, aggregate domain.Aggregate, cmd Command) error {
		return fmt.Errorf("business rule violated")
	})

	_, err := bus.Dispatch(context.Background(), rejectCommand{EmitEventCommand{TargetType: "Item", TargetID: "item-1"}})
	require.Error(t, err)

	events, err := store.FindBySubject(context.Background(), "item-1")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestBus_SnapshotTakenAtFrequencyBoundary(t *testing.T) {
	bus, _, snapshots := newTestBus(5)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := bus.Dispatch(ctx, EmitEventCommand{
			TargetType: "Order",
			TargetID:   "order-1",
			EventType:  "app.events.order.updated",
			Data:       map[string]interface{}{"step": float64(i)},
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, snapshots.Count())

	_, err := bus.Dispatch(ctx, EmitEventCommand{
		TargetType: "Order",
		TargetID:   "order-1",
		EventType:  "app.events.order.updated",
		Data:       map[string]interface{}{"step": float64(4)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, snapshots.Count())

	snapshot, err := snapshots.GetLatest(ctx, "order-1", "Order")
	require.NoError(t, err)
	require.NotNil(t, snapshot)
	assert.Equal(t, 5, snapshot.AggregateVersion)
	assert.NotEmpty(t, snapshot.LastEventID)
}

func TestBus_LoadUsesSnapshotAsBase(t *testing.T) {
	bus, store, _ := newTestBus(3)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := bus.Dispatch(ctx, EmitEventCommand{
			TargetType: "Order",
			TargetID:   "order-1",
			EventType:  "app.events.order.updated",
			Data:       map[string]interface{}{"step": float64(i)},
		})
		require.NoError(t, err)
	}

	aggregate, err := bus.Load(ctx, "Order", "order-1")
	require.NoError(t, err)
	assert.Equal(t, 4, aggregate.GetVersion())

	state, err := aggregate.TakeSnapshot()
	require.NoError(t, err)
	assert.Equal(t, float64(3), state["step"])

	// The stream past the snapshot version is all that gets replayed.
	events, err := store.FindBySubjectAfter(ctx, "order-1", 3)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestBus_ConcurrentWriteConflicts(t *testing.T) {
	bus, _, _ := newTestBus(100)
	ctx := context.Background()

	_, err := bus.Dispatch(ctx, EmitEventCommand{
		TargetType: "Order",
		TargetID:   "order-1",
		EventType:  "app.events.order.created",
		Data:       map[string]interface{}{},
	})
	require.NoError(t, err)

	// A stale aggregate emitting sequence 1 again loses the race.
	stale := domain.NewJSONFactory("Order")("order-1")
	require.NoError(t, stale.(*domain.JSONAggregate).EmitEvent("app.events.order.updated", map[string]interface{}{}))

	err = bus.store.StoreUncommitted(ctx, stale)
	assert.ErrorIs(t, err, eventstore.ErrConcurrencyConflict)
}
