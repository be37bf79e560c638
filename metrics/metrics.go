package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics holds process-local counters for the projection pipeline. Cheap
// atomics only, read by the metrics endpoint.
type Metrics struct {
	eventsProcessed   int64
	eventsFailed      int64
	eventsDeadLetter  int64
	batchesRun        int64
	outboxPublished   int64
	projectionLagMs   int64
	lastProcessedUnix int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncProcessed(n int64) {
	atomic.AddInt64(&m.eventsProcessed, n)
	atomic.StoreInt64(&m.lastProcessedUnix, time.Now().Unix())
}

func (m *Metrics) IncFailed(n int64) {
	atomic.AddInt64(&m.eventsFailed, n)
}

func (m *Metrics) IncDeadLettered(n int64) {
	atomic.AddInt64(&m.eventsDeadLetter, n)
}

func (m *Metrics) IncBatches() {
	atomic.AddInt64(&m.batchesRun, 1)
}

func (m *Metrics) IncOutboxPublished(n int64) {
	atomic.AddInt64(&m.outboxPublished, n)
}

func (m *Metrics) SetProjectionLag(lag time.Duration) {
	atomic.StoreInt64(&m.projectionLagMs, lag.Milliseconds())
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	EventsProcessed  int64 `json:"events_processed"`
	EventsFailed     int64 `json:"events_failed"`
	EventsDeadLetter int64 `json:"events_dead_lettered"`
	BatchesRun       int64 `json:"batches_run"`
	OutboxPublished  int64 `json:"outbox_published"`
	ProjectionLagMs  int64 `json:"projection_lag_ms"`
	LastProcessedAt  int64 `json:"last_processed_at,omitempty"`
}

func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		EventsProcessed:  atomic.LoadInt64(&m.eventsProcessed),
		EventsFailed:     atomic.LoadInt64(&m.eventsFailed),
		EventsDeadLetter: atomic.LoadInt64(&m.eventsDeadLetter),
		BatchesRun:       atomic.LoadInt64(&m.batchesRun),
		OutboxPublished:  atomic.LoadInt64(&m.outboxPublished),
		ProjectionLagMs:  atomic.LoadInt64(&m.projectionLagMs),
		LastProcessedAt:  atomic.LoadInt64(&m.lastProcessedUnix),
	}
}
