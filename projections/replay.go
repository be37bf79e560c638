package projections

import (
	"context"

	"github.com/rs/zerolog/log"

	"example.com/platform/services/eventcore/eventstore"
)

// ReplayService rebuilds projections by clearing processing bookkeeping and
// letting the batch processor re-run the event log.
type ReplayService struct {
	store     eventstore.EventStore
	registry  *Registry
	processor *Processor
}

func NewReplayService(store eventstore.EventStore, registry *Registry, processor *Processor) *ReplayService {
	return &ReplayService{store: store, registry: registry, processor: processor}
}

// Rebuild marks events unprocessed again, starting from fromEventID or from
// the beginning of the log when empty, and kicks off processing. A full
// rebuild also drops the projected aggregate states so deleted aggregates do
// not linger. Returns the number of events queued for replay.
func (s *ReplayService) Rebuild(ctx context.Context, fromEventID string) (int64, error) {
	var count int64
	err := s.store.Transaction(ctx, func(tx eventstore.EventStore) error {
		if fromEventID == "" {
			if err := tx.DeleteAggregateStates(ctx, s.registry.AggregateTypes()); err != nil {
				return err
			}
		}
		reset, err := tx.ResetProcessing(ctx, fromEventID)
		if err != nil {
			return err
		}
		count = reset
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().
		Int64("events", count).
		Str("from_event_id", fromEventID).
		Msg("Projection replay queued")

	s.processor.TriggerBackground()
	return count, nil
}
