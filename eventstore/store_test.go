package eventstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/platform/services/eventcore/domain"
)

func TestTranslateError(t *testing.T) {
	conflict := fmt.Errorf(`pq: duplicate key value violates unique constraint "idx_events_subject_sequence"`)
	assert.ErrorIs(t, translateError(conflict), ErrConcurrencyConflict)

	duplicate := fmt.Errorf(`pq: duplicate key value violates unique constraint "idx_events_event_id"`)
	assert.ErrorIs(t, translateError(duplicate), ErrDuplicateKey)

	other := fmt.Errorf("connection refused")
	err := translateError(other)
	assert.NotErrorIs(t, err, ErrDuplicateKey)
	assert.NotErrorIs(t, err, ErrConcurrencyConflict)

	assert.NoError(t, translateError(nil))
}

func TestMemoryStore_IdempotentStore(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	event := domain.Event{ID: "E1", Type: "app.events.order.created", Subject: "A"}

	first, existed, err := store.Store(ctx, event)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Equal(t, 1, first.Sequence)

	second, existed, err := store.Store(ctx, event)
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Sequence, second.Sequence)
}

func TestMemoryStore_SequenceAssignmentPerSubject(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		stored, _, err := store.Store(ctx, domain.Event{
			ID: fmt.Sprintf("A%d", i), Type: "t.x", Subject: "A",
		})
		require.NoError(t, err)
		assert.Equal(t, i, stored.Sequence)
	}

	stored, _, err := store.Store(ctx, domain.Event{ID: "B1", Type: "t.x", Subject: "B"})
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Sequence)
}

func TestMemoryStore_ExplicitSequenceConflict(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	_, _, err := store.Store(ctx, domain.Event{ID: "E1", Type: "t.x", Subject: "A", Sequence: 1})
	require.NoError(t, err)

	_, _, err = store.Store(ctx, domain.Event{ID: "E2", Type: "t.x", Subject: "A", Sequence: 1})
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestMemoryStore_EventsWithoutSubjectNeverConflict(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := store.Store(ctx, domain.Event{ID: fmt.Sprintf("E%d", i), Type: "t.x"})
		require.NoError(t, err)
	}

	events, err := store.FindByType(ctx, "t.x")
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestMemoryStore_ResetProcessing(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := store.Store(ctx, domain.Event{ID: fmt.Sprintf("E%d", i), Type: "t.x", Subject: "A"})
		require.NoError(t, err)
		require.NoError(t, store.MarkProcessed(ctx, fmt.Sprintf("E%d", i)))
	}

	count, err := store.ResetProcessing(ctx, "E1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	unprocessed, err := store.FindUnprocessed(ctx, 10, 5)
	require.NoError(t, err)
	assert.Len(t, unprocessed, 2)

	_, err = store.ResetProcessing(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	count, err = store.ResetProcessing(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestMemoryStore_StoreUncommittedClearsAggregate(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	aggregate := domain.NewJSONFactory("Order")("order-1").(*domain.JSONAggregate)
	require.NoError(t, aggregate.EmitEvent("app.events.order.created", map[string]interface{}{"name": "n1"}))
	require.NoError(t, aggregate.EmitEvent("app.events.order.updated", map[string]interface{}{"name": "n2"}))

	require.NoError(t, store.StoreUncommitted(ctx, aggregate))
	assert.Empty(t, aggregate.GetUncommittedEvents())

	events, err := store.FindBySubject(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].Sequence)
	assert.Equal(t, 2, events[1].Sequence)
}
