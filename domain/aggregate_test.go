package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateBase_ApplyIncrementsVersion(t *testing.T) {
	var applied []string
	base := NewAggregateBase("agg-1", "Order", func(event *Event) error {
		applied = append(applied, event.Type)
		return nil
	})

	require.NoError(t, base.Apply(&Event{Type: "app.events.order.created"}))
	require.NoError(t, base.Apply(&Event{Type: "app.events.order.updated"}))

	assert.Equal(t, 2, base.GetVersion())
	assert.Equal(t, []string{"app.events.order.created", "app.events.order.updated"}, applied)
}

func TestAggregateBase_EmitEvent(t *testing.T) {
	base := NewAggregateBase("agg-1", "Order", func(event *Event) error { return nil })

	require.NoError(t, base.EmitEvent("app.events.order.created", map[string]interface{}{"name": "n1"}))
	require.NoError(t, base.EmitEvent("app.events.order.updated", map[string]interface{}{"name": "n2"}))

	uncommitted := base.GetUncommittedEvents()
	require.Len(t, uncommitted, 2)

	first := uncommitted[0]
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "agg-1", first.Subject)
	assert.Equal(t, 1, first.Sequence)
	assert.Equal(t, "/domain/order", first.Source)
	assert.Equal(t, SpecVersion, first.SpecVersion)

	assert.Equal(t, 2, uncommitted[1].Sequence)
	assert.Equal(t, 2, base.GetVersion())

	base.ClearUncommittedEvents()
	assert.Empty(t, base.GetUncommittedEvents())
	assert.Equal(t, 2, base.GetVersion())
}

func TestAggregateBase_GeneratesIDWhenEmpty(t *testing.T) {
	base := NewAggregateBase("", "Order", func(event *Event) error { return nil })
	assert.NotEmpty(t, base.GetID())
}

func TestJSONAggregate_MergesEventData(t *testing.T) {
	aggregate := NewJSONFactory("Order")("agg-1")

	require.NoError(t, aggregate.Apply(&Event{
		Type: "app.events.order.created",
		Data: map[string]interface{}{"name": "n1", "total": 10.0},
	}))
	require.NoError(t, aggregate.Apply(&Event{
		Type: "app.events.order.updated",
		Data: map[string]interface{}{"name": "n2"},
	}))

	state, err := aggregate.TakeSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "n2", state["name"])
	assert.Equal(t, 10.0, state["total"])
	assert.Equal(t, "agg-1", state["id"])
	assert.Equal(t, 2, aggregate.GetVersion())
}

func TestJSONAggregate_DeletedEventYieldsNilSnapshot(t *testing.T) {
	aggregate := NewJSONFactory("Order")("agg-1")

	require.NoError(t, aggregate.Apply(&Event{
		Type: "app.events.order.created",
		Data: map[string]interface{}{"name": "n1"},
	}))
	require.NoError(t, aggregate.Apply(&Event{Type: "app.events.order.deleted"}))

	state, err := aggregate.TakeSnapshot()
	require.NoError(t, err)
	assert.Nil(t, state)
	assert.Equal(t, 2, aggregate.GetVersion())
}

func TestJSONAggregate_RestoreSnapshot(t *testing.T) {
	aggregate := NewJSONFactory("Order")("agg-1")

	require.NoError(t, aggregate.RestoreSnapshot(map[string]interface{}{"name": "restored"}))
	aggregate.SetVersion(100)

	require.NoError(t, aggregate.Apply(&Event{
		Type: "app.events.order.updated",
		Data: map[string]interface{}{"total": 5.0},
	}))

	state, err := aggregate.TakeSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "restored", state["name"])
	assert.Equal(t, 5.0, state["total"])
	assert.Equal(t, 101, aggregate.GetVersion())
}

func TestEventWithDefaults(t *testing.T) {
	event := Event{Type: "app.events.order.created"}.WithDefaults()

	assert.Equal(t, SpecVersion, event.SpecVersion)
	assert.Equal(t, DefaultContentType, event.ContentType)
	assert.WithinDuration(t, time.Now(), event.Time, time.Second)

	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	kept := Event{Type: "t.x", SpecVersion: "2.0", ContentType: "text/plain", Time: fixed}.WithDefaults()
	assert.Equal(t, "2.0", kept.SpecVersion)
	assert.Equal(t, "text/plain", kept.ContentType)
	assert.Equal(t, fixed, kept.Time)
}
