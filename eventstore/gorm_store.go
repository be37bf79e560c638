package eventstore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/platform/services/eventcore/domain"
	"example.com/platform/services/eventcore/models"
)

// GormEventStore implements EventStore using GORM on PostgreSQL.
type GormEventStore struct {
	db      *gorm.DB
	channel string
}

// NewGormEventStore creates a new GORM event store. channel is the Postgres
// notification channel signalled after each stored event.
func NewGormEventStore(db *gorm.DB, channel string) *GormEventStore {
	return &GormEventStore{db: db, channel: channel}
}

// Transaction runs fn against a store bound to a single transaction.
func (s *GormEventStore) Transaction(ctx context.Context, fn func(EventStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormEventStore{db: tx, channel: s.channel})
	})
}

// Store persists a single event idempotently.
func (s *GormEventStore) Store(ctx context.Context, event domain.Event) (*domain.Event, bool, error) {
	var stored *domain.Event
	var alreadyExisted bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Event
		err := tx.Where("event_id = ?", event.ID).First(&existing).Error
		if err == nil {
			log.Info().Str("event_id", event.ID).Msg("Event already exists, returning existing (idempotent)")
			existingEvent, convErr := toDomain(existing)
			if convErr != nil {
				return convErr
			}
			stored = existingEvent
			alreadyExisted = true
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.Wrap(err, "failed to check for existing event")
		}

		row, err := s.insertEvent(tx, event)
		if err != nil {
			return err
		}
		storedEvent, convErr := toDomain(*row)
		if convErr != nil {
			return convErr
		}
		stored = storedEvent
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return stored, alreadyExisted, nil
}

// StoreUncommitted persists an aggregate's uncommitted events, each with a
// companion outbox row, in one transaction.
func (s *GormEventStore) StoreUncommitted(ctx context.Context, aggregate domain.Aggregate) error {
	events := aggregate.GetUncommittedEvents()
	if len(events) == 0 {
		return nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, event := range events {
			if _, err := s.insertEvent(tx, *event); err != nil {
				return err
			}

			log.Info().
				Str("subject", event.Subject).
				Str("event_type", event.Type).
				Int("sequence", event.Sequence).
				Msg("Event saved")
		}
		return nil
	})
	if err != nil {
		return err
	}

	aggregate.ClearUncommittedEvents()
	return nil
}

// insertEvent writes the event row, its outbox companion and the wake-up
// notification inside the given transaction.
func (s *GormEventStore) insertEvent(tx *gorm.DB, event domain.Event) (*models.Event, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event data")
	}

	var subject *string
	if event.Subject != "" {
		subject = &event.Subject
	}

	sequence := event.Sequence
	if sequence == 0 && subject != nil {
		// Events ingested without a sequence join the subject's stream at
		// the next position. Concurrent writers race on the unique
		// (subject, sequence) index, never on this read.
		var current int
		if err := tx.Model(&models.Event{}).
			Where("subject = ?", *subject).
			Select("COALESCE(MAX(sequence), 0)").
			Scan(&current).Error; err != nil {
			return nil, errors.Wrap(err, "failed to determine next sequence")
		}
		sequence = current + 1
	}

	row := models.Event{
		EventID:     event.ID,
		Source:      event.Source,
		SpecVersion: event.SpecVersion,
		EventType:   event.Type,
		Subject:     subject,
		Sequence:    sequence,
		Time:        event.Time,
		ContentType: event.ContentType,
		SchemaRef:   event.SchemaRef,
		Data:        data,
	}

	if err := tx.Create(&row).Error; err != nil {
		return nil, translateError(err)
	}

	outbox := models.OutboxEvent{
		OutboxID: uuid.New().String(),
		Topic:    event.Type,
		Payload:  data,
		Status:   models.OutboxPending,
	}
	if err := tx.Create(&outbox).Error; err != nil {
		return nil, errors.Wrap(err, "failed to save outbox event")
	}

	// Delivered on commit, waking the batch processor promptly.
	if s.channel != "" {
		if err := tx.Exec("SELECT pg_notify(?, ?)", s.channel, event.ID).Error; err != nil {
			return nil, errors.Wrap(err, "failed to notify events channel")
		}
	}

	return &row, nil
}

// FindByID returns the event with the given ID.
func (s *GormEventStore) FindByID(ctx context.Context, eventID string) (*domain.Event, error) {
	var row models.Event
	if err := s.db.WithContext(ctx).Where("event_id = ?", eventID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to find event")
	}
	return toDomain(row)
}

// FindBySubject returns all events for a subject ordered by time ascending.
func (s *GormEventStore) FindBySubject(ctx context.Context, subject string) ([]domain.Event, error) {
	var rows []models.Event
	if err := s.db.WithContext(ctx).
		Where("subject = ?", subject).
		Order("time ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find events by subject")
	}
	return toDomainSlice(rows)
}

// FindBySubjectAfter returns a subject's events past the given sequence.
func (s *GormEventStore) FindBySubjectAfter(ctx context.Context, subject string, afterSequence int) ([]domain.Event, error) {
	var rows []models.Event
	if err := s.db.WithContext(ctx).
		Where("subject = ? AND sequence > ?", subject, afterSequence).
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find events by subject")
	}
	return toDomainSlice(rows)
}

// FindByType returns all events of the given type.
func (s *GormEventStore) FindByType(ctx context.Context, eventType string) ([]domain.Event, error) {
	var rows []models.Event
	if err := s.db.WithContext(ctx).
		Where("event_type = ?", eventType).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find events by type")
	}
	return toDomainSlice(rows)
}

// FindUnprocessed returns unprocessed, under-retry-limit events oldest first,
// locking the claimed rows so concurrent processors skip them.
func (s *GormEventStore) FindUnprocessed(ctx context.Context, limit, maxRetries int) ([]domain.Event, error) {
	var rows []models.Event
	if err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("processed_at IS NULL AND retry_count < ?", maxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find unprocessed events")
	}
	return toDomainSlice(rows)
}

// MarkProcessed stamps processedAt on the event.
func (s *GormEventStore) MarkProcessed(ctx context.Context, eventID string) error {
	now := time.Now()
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"processed_at":  &now,
			"failed_at":     nil,
			"error_message": nil,
		}).Error; err != nil {
		return errors.Wrap(err, "failed to mark event as processed")
	}
	return nil
}

// RecordFailure updates the failure bookkeeping for the event.
func (s *GormEventStore) RecordFailure(ctx context.Context, eventID, errorMessage string, retryCount int) error {
	now := time.Now()
	if err := s.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("event_id = ?", eventID).
		Updates(map[string]interface{}{
			"failed_at":     &now,
			"retry_count":   retryCount,
			"error_message": &errorMessage,
		}).Error; err != nil {
		return errors.Wrap(err, "failed to record event failure")
	}
	return nil
}

// MoveToDeadLetter inserts a dead-letter entry and removes the event from the
// active queue.
func (s *GormEventStore) MoveToDeadLetter(ctx context.Context, event domain.Event, reason, errorMessage string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var subject *string
		if event.Subject != "" {
			subject = &event.Subject
		}

		entry := models.DeadLetterEvent{
			EventID:      event.ID,
			EventType:    event.Type,
			Subject:      subject,
			Reason:       reason,
			ErrorMessage: errorMessage,
			RetryCount:   event.RetryCount,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return errors.Wrap(err, "failed to create dead-letter entry")
		}

		if err := tx.Where("event_id = ?", event.ID).Delete(&models.Event{}).Error; err != nil {
			return errors.Wrap(err, "failed to remove dead-lettered event")
		}
		return nil
	})
}

// FindDeadLetters returns dead-letter entries, newest first.
func (s *GormEventStore) FindDeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEvent, error) {
	var entries []models.DeadLetterEvent
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find dead-letter entries")
	}
	return entries, nil
}

// ResetProcessing clears processing bookkeeping from the given event onward.
func (s *GormEventStore) ResetProcessing(ctx context.Context, fromEventID string) (int64, error) {
	reset := map[string]interface{}{
		"processed_at":  nil,
		"failed_at":     nil,
		"retry_count":   0,
		"error_message": nil,
	}

	query := s.db.WithContext(ctx).Model(&models.Event{})
	if fromEventID != "" {
		var ref models.Event
		if err := s.db.WithContext(ctx).Where("event_id = ?", fromEventID).First(&ref).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, ErrNotFound
			}
			return 0, errors.Wrap(err, "failed to find replay start event")
		}
		query = query.Where("created_at >= ?", ref.CreatedAt)
	} else {
		query = query.Where("1 = 1")
	}

	result := query.Updates(reset)
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to reset event processing state")
	}
	return result.RowsAffected, nil
}

// SaveAggregateState upserts the generic projection row for an aggregate.
func (s *GormEventStore) SaveAggregateState(ctx context.Context, state *models.AggregateState) error {
	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "aggregate_type"}, {Name: "aggregate_id"}},
			UpdateAll: true,
		}).
		Create(state).Error; err != nil {
		return errors.Wrap(err, "failed to save aggregate state")
	}
	return nil
}

// GetAggregateState returns one generic projection row.
func (s *GormEventStore) GetAggregateState(ctx context.Context, aggregateType, aggregateID string) (*models.AggregateState, error) {
	var state models.AggregateState
	err := s.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateID).
		First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to load aggregate state")
	}
	return &state, nil
}

// ListAggregateStates returns projection rows of one aggregate type.
func (s *GormEventStore) ListAggregateStates(ctx context.Context, aggregateType string, limit, offset int) ([]models.AggregateState, error) {
	var states []models.AggregateState
	if err := s.db.WithContext(ctx).
		Where("aggregate_type = ?", aggregateType).
		Order("aggregate_id ASC").
		Limit(limit).
		Offset(offset).
		Find(&states).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list aggregate states")
	}
	return states, nil
}

// DeleteAggregateState removes a single generic projection row.
func (s *GormEventStore) DeleteAggregateState(ctx context.Context, aggregateType, aggregateID string) error {
	if err := s.db.WithContext(ctx).
		Where("aggregate_type = ? AND aggregate_id = ?", aggregateType, aggregateID).
		Delete(&models.AggregateState{}).Error; err != nil {
		return errors.Wrap(err, "failed to delete aggregate state")
	}
	return nil
}

// DeleteAggregateStates removes the generic projection rows for the types.
func (s *GormEventStore) DeleteAggregateStates(ctx context.Context, aggregateTypes []string) error {
	if len(aggregateTypes) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Where("aggregate_type IN ?", aggregateTypes).
		Delete(&models.AggregateState{}).Error; err != nil {
		return errors.Wrap(err, "failed to delete aggregate states")
	}
	return nil
}

// ProjectionLag returns the age of the oldest unprocessed event.
func (s *GormEventStore) ProjectionLag(ctx context.Context) (time.Duration, error) {
	var row models.Event
	err := s.db.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("created_at ASC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to determine projection lag")
	}
	return time.Since(row.CreatedAt), nil
}

// translateError maps database uniqueness violations onto the store's
// sentinel errors. A violation of the (subject, sequence) index means a
// concurrent writer won the aggregate's next version.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(msg, "duplicate key") {
		if strings.Contains(msg, "subject_sequence") || strings.Contains(msg, "concurren") {
			return ErrConcurrencyConflict
		}
		return ErrDuplicateKey
	}
	return errors.Wrap(err, "failed to save event")
}

func toDomain(row models.Event) (*domain.Event, error) {
	var data map[string]interface{}
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &data); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal event data")
		}
	}

	subject := ""
	if row.Subject != nil {
		subject = *row.Subject
	}

	return &domain.Event{
		ID:          row.EventID,
		Source:      row.Source,
		SpecVersion: row.SpecVersion,
		Type:        row.EventType,
		Subject:     subject,
		Sequence:    row.Sequence,
		Time:        row.Time,
		ContentType: row.ContentType,
		SchemaRef:   row.SchemaRef,
		Data:        data,
		CreatedAt:   row.CreatedAt,
		RetryCount:  row.RetryCount,
		ProcessedAt: row.ProcessedAt,
	}, nil
}

func toDomainSlice(rows []models.Event) ([]domain.Event, error) {
	events := make([]domain.Event, 0, len(rows))
	for _, row := range rows {
		event, err := toDomain(row)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, nil
}
