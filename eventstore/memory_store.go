package eventstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/platform/services/eventcore/domain"
	"example.com/platform/services/eventcore/models"
)

// MemoryEventStore is an in-memory EventStore with the same concurrency and
// idempotency contracts as the Postgres implementation. Used by tests and
// local development; Transaction runs fn against the store itself without
// rollback.
type MemoryEventStore struct {
	mu          sync.Mutex
	events      []*domain.Event
	deadLetters []models.DeadLetterEvent
	states      map[string]map[string]*models.AggregateState
	nextSeq     int64
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		states: make(map[string]map[string]*models.AggregateState),
	}
}

func (s *MemoryEventStore) Transaction(ctx context.Context, fn func(EventStore) error) error {
	return fn(s)
}

func (s *MemoryEventStore) Store(ctx context.Context, event domain.Event) (*domain.Event, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.events {
		if existing.ID == event.ID {
			copied := *existing
			return &copied, true, nil
		}
	}

	stored, err := s.insert(event)
	if err != nil {
		return nil, false, err
	}
	return stored, false, nil
}

func (s *MemoryEventStore) StoreUncommitted(ctx context.Context, aggregate domain.Aggregate) error {
	s.mu.Lock()
	for _, event := range aggregate.GetUncommittedEvents() {
		if _, err := s.insert(*event); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	aggregate.ClearUncommittedEvents()
	return nil
}

// insert enforces the unique (subject, sequence) and event-ID constraints.
// Caller holds the mutex.
func (s *MemoryEventStore) insert(event domain.Event) (*domain.Event, error) {
	for _, existing := range s.events {
		if existing.ID == event.ID {
			return nil, ErrDuplicateKey
		}
	}

	if event.Subject != "" {
		if event.Sequence == 0 {
			max := 0
			for _, existing := range s.events {
				if existing.Subject == event.Subject && existing.Sequence > max {
					max = existing.Sequence
				}
			}
			event.Sequence = max + 1
		} else {
			for _, existing := range s.events {
				if existing.Subject == event.Subject && existing.Sequence == event.Sequence {
					return nil, ErrConcurrencyConflict
				}
			}
		}
	}

	event = event.WithDefaults()
	s.nextSeq++
	event.CreatedAt = time.Now().Add(time.Duration(s.nextSeq) * time.Microsecond)

	stored := event
	s.events = append(s.events, &stored)
	copied := stored
	return &copied, nil
}

func (s *MemoryEventStore) FindByID(ctx context.Context, eventID string) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range s.events {
		if event.ID == eventID {
			copied := *event
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryEventStore) FindBySubject(ctx context.Context, subject string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Event
	for _, event := range s.events {
		if event.Subject == subject {
			matched = append(matched, *event)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	return matched, nil
}

func (s *MemoryEventStore) FindBySubjectAfter(ctx context.Context, subject string, afterSequence int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Event
	for _, event := range s.events {
		if event.Subject == subject && event.Sequence > afterSequence {
			matched = append(matched, *event)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Sequence < matched[j].Sequence
	})
	return matched, nil
}

func (s *MemoryEventStore) FindByType(ctx context.Context, eventType string) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Event
	for _, event := range s.events {
		if event.Type == eventType {
			matched = append(matched, *event)
		}
	}
	return matched, nil
}

func (s *MemoryEventStore) FindUnprocessed(ctx context.Context, limit, maxRetries int) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Event
	for _, event := range s.events {
		if event.ProcessedAt == nil && event.RetryCount < maxRetries {
			matched = append(matched, *event)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *MemoryEventStore) MarkProcessed(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range s.events {
		if event.ID == eventID {
			now := time.Now()
			event.ProcessedAt = &now
			return nil
		}
	}
	return nil
}

func (s *MemoryEventStore) RecordFailure(ctx context.Context, eventID, errorMessage string, retryCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, event := range s.events {
		if event.ID == eventID {
			event.RetryCount = retryCount
			return nil
		}
	}
	return nil
}

func (s *MemoryEventStore) MoveToDeadLetter(ctx context.Context, event domain.Event, reason, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var subject *string
	if event.Subject != "" {
		value := event.Subject
		subject = &value
	}
	s.deadLetters = append(s.deadLetters, models.DeadLetterEvent{
		EventID:      event.ID,
		EventType:    event.Type,
		Subject:      subject,
		Reason:       reason,
		ErrorMessage: errorMessage,
		RetryCount:   event.RetryCount,
		CreatedAt:    time.Now(),
	})

	for i, existing := range s.events {
		if existing.ID == event.ID {
			s.events = append(s.events[:i], s.events[i+1:]...)
			break
		}
	}
	return nil
}

func (s *MemoryEventStore) FindDeadLetters(ctx context.Context, limit int) ([]models.DeadLetterEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]models.DeadLetterEvent, len(s.deadLetters))
	copy(entries, s.deadLetters)
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryEventStore) ResetProcessing(ctx context.Context, fromEventID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var from *time.Time
	if fromEventID != "" {
		found := false
		for _, event := range s.events {
			if event.ID == fromEventID {
				created := event.CreatedAt
				from = &created
				found = true
				break
			}
		}
		if !found {
			return 0, ErrNotFound
		}
	}

	var count int64
	for _, event := range s.events {
		if from != nil && event.CreatedAt.Before(*from) {
			continue
		}
		event.ProcessedAt = nil
		event.RetryCount = 0
		count++
	}
	return count, nil
}

func (s *MemoryEventStore) SaveAggregateState(ctx context.Context, state *models.AggregateState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.states[state.AggregateType]
	if !ok {
		byID = make(map[string]*models.AggregateState)
		s.states[state.AggregateType] = byID
	}
	copied := *state
	byID[state.AggregateID] = &copied
	return nil
}

func (s *MemoryEventStore) GetAggregateState(ctx context.Context, aggregateType, aggregateID string) (*models.AggregateState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.states[aggregateType][aggregateID]; ok {
		copied := *state
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryEventStore) ListAggregateStates(ctx context.Context, aggregateType string, limit, offset int) ([]models.AggregateState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id := range s.states[aggregateType] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var states []models.AggregateState
	for i, id := range ids {
		if i < offset {
			continue
		}
		if len(states) >= limit {
			break
		}
		states = append(states, *s.states[aggregateType][id])
	}
	return states, nil
}

func (s *MemoryEventStore) DeleteAggregateState(ctx context.Context, aggregateType, aggregateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states[aggregateType], aggregateID)
	return nil
}

func (s *MemoryEventStore) DeleteAggregateStates(ctx context.Context, aggregateTypes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, aggregateType := range aggregateTypes {
		delete(s.states, aggregateType)
	}
	return nil
}

func (s *MemoryEventStore) ProjectionLag(ctx context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *time.Time
	for _, event := range s.events {
		if event.ProcessedAt == nil {
			if oldest == nil || event.CreatedAt.Before(*oldest) {
				created := event.CreatedAt
				oldest = &created
			}
		}
	}
	if oldest == nil {
		return 0, nil
	}
	return time.Since(*oldest), nil
}

// MemorySnapshotStore is the in-memory SnapshotStore counterpart.
type MemorySnapshotStore struct {
	mu        sync.Mutex
	snapshots []*models.AggregateSnapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (s *MemorySnapshotStore) GetLatest(ctx context.Context, aggregateID, aggregateType string) (*models.AggregateSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.AggregateSnapshot
	for _, snapshot := range s.snapshots {
		if snapshot.AggregateID != aggregateID || snapshot.AggregateType != aggregateType {
			continue
		}
		if latest == nil || snapshot.AggregateVersion > latest.AggregateVersion {
			latest = snapshot
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (s *MemorySnapshotStore) Save(ctx context.Context, snapshot *models.AggregateSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *snapshot
	s.snapshots = append(s.snapshots, &copied)
	return nil
}

// Count returns the number of stored snapshots, used by tests.
func (s *MemorySnapshotStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}
