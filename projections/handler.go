package projections

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/platform/services/eventcore/cache"
	"example.com/platform/services/eventcore/domain"
	"example.com/platform/services/eventcore/eventstore"
	"example.com/platform/services/eventcore/models"
)

// EventHandler projects one event into read models. Handle runs inside the
// batch processor's transaction; a failure marks the event for retry, while
// the rest of the batch commits as usual.
type EventHandler interface {
	CanHandle(event *domain.Event) bool
	Handle(ctx context.Context, store eventstore.EventStore, event *domain.Event) error
}

// JSONAggregateHandler is the generic projection: it rebuilds the target
// aggregate from its event stream and upserts the serialized state into the
// aggregate_states table. A nil snapshot marks the aggregate deleted and
// removes the row.
type JSONAggregateHandler struct {
	aggregateType string
	prefix        string
	factory       domain.Factory
	indexer       *Indexer
	cache         cache.Cache
}

// NewJSONAggregateHandler creates the generic handler for one aggregate type.
// prefix selects the event types this handler owns, typically
// "<namespace>.<aggregatetype>.".
func NewJSONAggregateHandler(aggregateType, prefix string, factory domain.Factory) *JSONAggregateHandler {
	return &JSONAggregateHandler{
		aggregateType: aggregateType,
		prefix:        prefix,
		factory:       factory,
	}
}

// WithIndexer mirrors projected states into Elasticsearch.
func (h *JSONAggregateHandler) WithIndexer(indexer *Indexer) *JSONAggregateHandler {
	h.indexer = indexer
	return h
}

// WithCache invalidates cached query results after each projection.
func (h *JSONAggregateHandler) WithCache(c cache.Cache) *JSONAggregateHandler {
	h.cache = c
	return h
}

func (h *JSONAggregateHandler) CanHandle(event *domain.Event) bool {
	return strings.HasPrefix(event.Type, h.prefix)
}

func (h *JSONAggregateHandler) Handle(ctx context.Context, store eventstore.EventStore, event *domain.Event) error {
	if event.Subject == "" {
		log.Warn().
			Str("event_id", event.ID).
			Str("event_type", event.Type).
			Msg("Skipping aggregate projection for event without subject")
		return nil
	}

	aggregate := h.factory(event.Subject)
	events, err := store.FindBySubject(ctx, event.Subject)
	if err != nil {
		return err
	}
	for i := range events {
		if err := aggregate.Apply(&events[i]); err != nil {
			return errors.Wrapf(err, "failed to rebuild aggregate %s", event.Subject)
		}
	}

	state, err := aggregate.TakeSnapshot()
	if err != nil {
		return errors.Wrapf(err, "failed to serialize aggregate %s", event.Subject)
	}

	if state == nil {
		if err := store.DeleteAggregateState(ctx, h.aggregateType, event.Subject); err != nil {
			return err
		}
		if h.indexer != nil {
			if err := h.indexer.DeleteState(ctx, h.aggregateType, event.Subject); err != nil {
				return err
			}
		}
		h.invalidate(ctx, event.Subject)
		return nil
	}

	encoded, err := json.Marshal(state)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal state for aggregate %s", event.Subject)
	}

	row := &models.AggregateState{
		AggregateType: h.aggregateType,
		AggregateID:   event.Subject,
		State:         encoded,
		Version:       aggregate.GetVersion(),
		LastEventID:   event.ID,
		UpdatedAt:     time.Now(),
	}
	if err := store.SaveAggregateState(ctx, row); err != nil {
		return err
	}

	if h.indexer != nil {
		if err := h.indexer.IndexState(ctx, h.aggregateType, event.Subject, encoded); err != nil {
			return err
		}
	}

	h.invalidate(ctx, event.Subject)
	return nil
}

// invalidate drops the cached query entries for the aggregate. Cache errors
// never fail a projection.
func (h *JSONAggregateHandler) invalidate(ctx context.Context, aggregateID string) {
	if h.cache == nil {
		return
	}
	keys := []string{
		StateCacheKey(h.aggregateType, aggregateID),
		ListCacheKey(h.aggregateType),
	}
	if err := h.cache.Delete(ctx, keys...); err != nil {
		log.Warn().Err(err).
			Str("aggregate_id", aggregateID).
			Msg("Failed to invalidate aggregate cache")
	}
}

// StateCacheKey is the cache key for one aggregate's projected state.
func StateCacheKey(aggregateType, aggregateID string) string {
	return "aggregate:" + aggregateType + ":" + aggregateID
}

// ListCacheKey is the cache key for an aggregate type's state listing.
func ListCacheKey(aggregateType string) string {
	return "aggregates:" + aggregateType
}
