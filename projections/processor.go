package projections

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"example.com/platform/services/eventcore/domain"
	"example.com/platform/services/eventcore/eventstore"
	"example.com/platform/services/eventcore/metrics"
)

const (
	// yieldDelay gives other work a chance between consecutive full batches.
	yieldDelay = 10 * time.Millisecond

	// manualPollInterval is how often a synchronous trigger re-checks the
	// processing flag while another run is active.
	manualPollInterval = 100 * time.Millisecond
)

// Processor drains unprocessed events in batches. At most one run is active
// at any time: triggers arriving mid-run set a rerun flag instead of starting
// a second run, so a notification burst collapses into one extra pass.
type Processor struct {
	store      eventstore.EventStore
	registry   *Registry
	metrics    *metrics.Metrics
	batchSize  int
	maxRetries int
	interval   time.Duration

	isProcessing   atomic.Bool
	rerunRequested atomic.Bool
	stopCh         chan struct{}
}

// NewProcessor creates a batch processor. interval is the fallback schedule
// that catches events whose notification was lost; zero disables it.
func NewProcessor(store eventstore.EventStore, registry *Registry, m *metrics.Metrics, batchSize, maxRetries int, interval time.Duration) *Processor {
	return &Processor{
		store:      store,
		registry:   registry,
		metrics:    m,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		interval:   interval,
		stopCh:     make(chan struct{}),
	}
}

// TriggerBackground requests a processing run and returns immediately. If a
// run is already active the request is folded into it.
func (p *Processor) TriggerBackground() {
	if !p.isProcessing.CompareAndSwap(false, true) {
		p.rerunRequested.Store(true)
		return
	}
	go func() {
		if _, err := p.drain(context.Background()); err != nil {
			log.Error().Err(err).Msg("Background projection run failed")
		}
	}()
}

// TriggerManual runs processing synchronously and returns the number of
// events projected. If a run is active it waits for the flag, polling until
// ctx expires.
func (p *Processor) TriggerManual(ctx context.Context) (int, error) {
	for !p.isProcessing.CompareAndSwap(false, true) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(manualPollInterval):
		}
	}
	return p.drain(ctx)
}

// Start launches the interval fallback. It only fires TriggerBackground, so
// overlapping schedules are harmless.
func (p *Processor) Start(ctx context.Context) {
	if p.interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.TriggerBackground()
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the interval fallback. In-flight runs finish on their own.
func (p *Processor) Stop() {
	close(p.stopCh)
}

// drain processes batches until the queue has fewer events than a full batch
// and no rerun was requested. Caller must hold the processing flag; drain
// releases it.
func (p *Processor) drain(ctx context.Context) (int, error) {
	total := 0
	var runErr error

	for {
		fetched, processed, err := p.processStep(ctx)
		total += processed
		if err != nil {
			runErr = err
			break
		}
		if fetched < p.batchSize {
			if p.rerunRequested.Swap(false) {
				continue
			}
			break
		}
		time.Sleep(yieldDelay)
	}

	p.isProcessing.Store(false)
	// A trigger may have landed between the last check and the release.
	if p.rerunRequested.Load() {
		p.TriggerBackground()
	}

	if lag, err := p.store.ProjectionLag(ctx); err == nil {
		p.metrics.SetProjectionLag(lag)
	}

	return total, runErr
}

// processStep claims and projects one batch inside a single transaction.
// Handler failures are recorded per event and never abort the batch.
func (p *Processor) processStep(ctx context.Context) (fetched, processed int, err error) {
	err = p.store.Transaction(ctx, func(tx eventstore.EventStore) error {
		events, err := tx.FindUnprocessed(ctx, p.batchSize, p.maxRetries)
		if err != nil {
			return err
		}
		fetched = len(events)

		for i := range events {
			event := &events[i]
			if handleErr := p.handleEvent(ctx, tx, event); handleErr != nil {
				if failErr := p.recordFailure(ctx, tx, event, handleErr); failErr != nil {
					return failErr
				}
				continue
			}
			if err := tx.MarkProcessed(ctx, event.ID); err != nil {
				return err
			}
			processed++
		}
		return nil
	})
	if err != nil {
		return fetched, 0, err
	}

	if fetched > 0 {
		p.metrics.IncBatches()
		p.metrics.IncProcessed(int64(processed))
		log.Debug().
			Int("fetched", fetched).
			Int("processed", processed).
			Msg("Projection batch complete")
	}
	return fetched, processed, nil
}

func (p *Processor) handleEvent(ctx context.Context, tx eventstore.EventStore, event *domain.Event) error {
	handler := p.registry.HandlerFor(event)
	if handler == nil {
		return nil
	}
	return handler.Handle(ctx, tx, event)
}

// recordFailure bumps the event's retry count or, once the budget is
// exhausted, moves it to the dead-letter table.
func (p *Processor) recordFailure(ctx context.Context, tx eventstore.EventStore, event *domain.Event, cause error) error {
	retryCount := event.RetryCount + 1
	p.metrics.IncFailed(1)

	if retryCount >= p.maxRetries {
		log.Error().Err(cause).
			Str("event_id", event.ID).
			Str("event_type", event.Type).
			Int("retry_count", retryCount).
			Msg("Event exhausted retries, moving to dead letter")
		event.RetryCount = retryCount
		if err := tx.MoveToDeadLetter(ctx, *event, "max retries exceeded", cause.Error()); err != nil {
			return err
		}
		p.metrics.IncDeadLettered(1)
		return nil
	}

	log.Warn().Err(cause).
		Str("event_id", event.ID).
		Str("event_type", event.Type).
		Int("retry_count", retryCount).
		Msg("Projection handler failed, will retry")
	return tx.RecordFailure(ctx, event.ID, cause.Error(), retryCount)
}
