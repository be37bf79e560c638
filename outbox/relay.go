package outbox

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"example.com/platform/services/eventcore/metrics"
)

// Relay drains PENDING outbox rows to the configured publisher. Delivery is
// at-least-once: rows are only marked SENT after a successful publish, and a
// failed publish leaves the row PENDING for the next run.
type Relay struct {
	repo      Repository
	publisher Publisher
	metrics   *metrics.Metrics
	batchSize int
	running   atomic.Bool
}

func NewRelay(repo Repository, publisher Publisher, m *metrics.Metrics, batchSize int) *Relay {
	return &Relay{
		repo:      repo,
		publisher: publisher,
		metrics:   m,
		batchSize: batchSize,
	}
}

// RunOnce publishes one batch and returns the number of rows delivered.
// Overlapping runs in the same process are collapsed into a no-op.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	if !r.running.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer r.running.Store(false)

	sent := 0
	err := r.repo.Transaction(ctx, func(tx Repository) error {
		rows, err := tx.FindPending(ctx, r.batchSize)
		if err != nil {
			return err
		}

		for _, row := range rows {
			if err := r.publisher.Publish(ctx, row.Topic, row.Payload); err != nil {
				// Stays PENDING; the next run retries it.
				log.Warn().Err(err).
					Str("outbox_id", row.OutboxID).
					Str("topic", row.Topic).
					Msg("Failed to publish outbox event")
				continue
			}
			if err := tx.MarkSent(ctx, row.OutboxID); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return sent, err
	}

	if sent > 0 {
		r.metrics.IncOutboxPublished(int64(sent))
		log.Debug().Int("sent", sent).Msg("Outbox batch delivered")
	}
	return sent, nil
}
