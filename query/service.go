package query

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/platform/services/eventcore/cache"
	"example.com/platform/services/eventcore/eventstore"
	"example.com/platform/services/eventcore/models"
	"example.com/platform/services/eventcore/projections"
)

// DefaultListLimit caps aggregate listings when no limit is given.
const DefaultListLimit = 100

// Service answers read-side queries from the projected aggregate states,
// with an optional cache in front. Cache failures degrade to database reads.
type Service struct {
	store eventstore.EventStore
	cache cache.Cache
	ttl   time.Duration
}

// NewService creates a query service. c may be nil to disable caching.
func NewService(store eventstore.EventStore, c cache.Cache, ttl time.Duration) *Service {
	return &Service{store: store, cache: c, ttl: ttl}
}

// GetState returns one aggregate's projected state, or
// eventstore.ErrNotFound.
func (s *Service) GetState(ctx context.Context, aggregateType, aggregateID string) (*models.AggregateState, error) {
	key := projections.StateCacheKey(aggregateType, aggregateID)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, key); err == nil {
			var state models.AggregateState
			if err := json.Unmarshal(cached, &state); err == nil {
				return &state, nil
			}
		}
	}

	state, err := s.store.GetAggregateState(ctx, aggregateType, aggregateID)
	if err != nil {
		return nil, err
	}

	s.cacheSet(ctx, key, state)
	return state, nil
}

// ListByType returns projected states of one aggregate type. Only the
// default first page is cached; its key is invalidated on every projection
// of the type.
func (s *Service) ListByType(ctx context.Context, aggregateType string, limit, offset int) ([]models.AggregateState, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	cacheable := s.cache != nil && offset == 0 && limit == DefaultListLimit
	key := projections.ListCacheKey(aggregateType)

	if cacheable {
		if cached, err := s.cache.Get(ctx, key); err == nil {
			var states []models.AggregateState
			if err := json.Unmarshal(cached, &states); err == nil {
				return states, nil
			}
		}
	}

	states, err := s.store.ListAggregateStates(ctx, aggregateType, limit, offset)
	if err != nil {
		return nil, err
	}

	if cacheable {
		s.cacheSet(ctx, key, states)
	}
	return states, nil
}

func (s *Service) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, encoded, s.ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache query result")
	}
}
