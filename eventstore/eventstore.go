package eventstore

import (
	"context"
	"time"

	"example.com/platform/services/eventcore/domain"
	"example.com/platform/services/eventcore/models"
)

// EventStore is the interface for durable event storage.
type EventStore interface {
	// Store persists a single event together with its outbox row. Idempotent:
	// if an event with the same ID already exists the stored row is returned
	// with alreadyExisted=true and nothing is written.
	Store(ctx context.Context, event domain.Event) (*domain.Event, bool, error)

	// StoreUncommitted persists an aggregate's uncommitted events, each paired
	// with an outbox row, and clears them from the aggregate on success.
	StoreUncommitted(ctx context.Context, aggregate domain.Aggregate) error

	// FindByID returns the event with the given ID, or ErrNotFound.
	FindByID(ctx context.Context, eventID string) (*domain.Event, error)

	// FindBySubject returns all events for a subject ordered by time.
	FindBySubject(ctx context.Context, subject string) ([]domain.Event, error)

	// FindBySubjectAfter returns a subject's events with sequence greater
	// than afterSequence, in sequence order. Used for snapshot-bounded replay.
	FindBySubjectAfter(ctx context.Context, subject string, afterSequence int) ([]domain.Event, error)

	// FindByType returns all events of the given type.
	FindByType(ctx context.Context, eventType string) ([]domain.Event, error)

	// FindUnprocessed returns up to limit events with no processedAt and
	// retryCount below maxRetries, oldest first, locking the rows and
	// skipping rows already locked by a concurrent processor.
	FindUnprocessed(ctx context.Context, limit, maxRetries int) ([]domain.Event, error)

	// MarkProcessed stamps processedAt on the event.
	MarkProcessed(ctx context.Context, eventID string) error

	// RecordFailure updates the failure bookkeeping for an event that a
	// projection handler could not process.
	RecordFailure(ctx context.Context, eventID, errorMessage string, retryCount int) error

	// MoveToDeadLetter inserts a dead-letter entry for the event and removes
	// it from the active event queue.
	MoveToDeadLetter(ctx context.Context, event domain.Event, reason, errorMessage string) error

	// FindDeadLetters returns up to limit dead-letter entries, newest first.
	FindDeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEvent, error)

	// ResetProcessing clears the processing bookkeeping for all events whose
	// creation time is at or after that of fromEventID (all events when
	// fromEventID is empty) and returns the number of events reset.
	ResetProcessing(ctx context.Context, fromEventID string) (int64, error)

	// SaveAggregateState upserts a generic projection row.
	SaveAggregateState(ctx context.Context, state *models.AggregateState) error

	// GetAggregateState returns one generic projection row, or ErrNotFound.
	GetAggregateState(ctx context.Context, aggregateType, aggregateID string) (*models.AggregateState, error)

	// ListAggregateStates returns projection rows of one aggregate type.
	ListAggregateStates(ctx context.Context, aggregateType string, limit, offset int) ([]models.AggregateState, error)

	// DeleteAggregateState removes a single generic projection row.
	DeleteAggregateState(ctx context.Context, aggregateType, aggregateID string) error

	// DeleteAggregateStates removes every generic projection row for the
	// given aggregate types.
	DeleteAggregateStates(ctx context.Context, aggregateTypes []string) error

	// ProjectionLag returns the age of the oldest unprocessed event, or zero
	// when the queue is drained.
	ProjectionLag(ctx context.Context) (time.Duration, error)

	// Transaction runs fn against a store bound to a single database
	// transaction.
	Transaction(ctx context.Context, fn func(EventStore) error) error
}

// SnapshotStore persists compacted aggregate states.
type SnapshotStore interface {
	// GetLatest returns the newest snapshot for the aggregate, or nil when
	// none exists.
	GetLatest(ctx context.Context, aggregateID, aggregateType string) (*models.AggregateSnapshot, error)

	// Save persists a snapshot.
	Save(ctx context.Context, snapshot *models.AggregateSnapshot) error
}
