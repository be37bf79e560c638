package outbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/platform/services/eventcore/metrics"
	"example.com/platform/services/eventcore/models"
)

type memoryRepository struct {
	rows []models.OutboxEvent
}

func (r *memoryRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return fn(r)
}

func (r *memoryRepository) FindPending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var pending []models.OutboxEvent
	for _, row := range r.rows {
		if row.Status == models.OutboxPending {
			pending = append(pending, row)
		}
		if len(pending) >= limit {
			break
		}
	}
	return pending, nil
}

func (r *memoryRepository) MarkSent(ctx context.Context, outboxID string) error {
	for i := range r.rows {
		if r.rows[i].OutboxID == outboxID {
			now := time.Now()
			r.rows[i].Status = models.OutboxSent
			r.rows[i].ProcessedAt = &now
		}
	}
	return nil
}

type recordingPublisher struct {
	published  []string
	failTopics map[string]bool
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if p.failTopics[topic] {
		return fmt.Errorf("broker unavailable")
	}
	p.published = append(p.published, topic)
	return nil
}

func (p *recordingPublisher) Close(ctx context.Context) error { return nil }

func pendingRow(id, topic string) models.OutboxEvent {
	return models.OutboxEvent{
		OutboxID:  id,
		Topic:     topic,
		Payload:   []byte(`{"k":"v"}`),
		Status:    models.OutboxPending,
		CreatedAt: time.Now(),
	}
}

func TestRelay_PublishesAndMarksSent(t *testing.T) {
	repo := &memoryRepository{rows: []models.OutboxEvent{
		pendingRow("o1", "app.events.order.created"),
		pendingRow("o2", "app.events.order.updated"),
	}}
	publisher := &recordingPublisher{}
	relay := NewRelay(repo, publisher, metrics.New(), 50)

	sent, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, []string{"app.events.order.created", "app.events.order.updated"}, publisher.published)

	for _, row := range repo.rows {
		assert.Equal(t, models.OutboxSent, row.Status)
		assert.NotNil(t, row.ProcessedAt)
	}
}

func TestRelay_FailedPublishStaysPending(t *testing.T) {
	repo := &memoryRepository{rows: []models.OutboxEvent{
		pendingRow("o1", "app.events.order.created"),
		pendingRow("o2", "app.events.order.updated"),
	}}
	publisher := &recordingPublisher{failTopics: map[string]bool{"app.events.order.created": true}}
	relay := NewRelay(repo, publisher, metrics.New(), 50)

	sent, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	assert.Equal(t, models.OutboxPending, repo.rows[0].Status)
	assert.Equal(t, models.OutboxSent, repo.rows[1].Status)

	// The next run retries the failed row.
	publisher.failTopics = nil
	sent, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, models.OutboxSent, repo.rows[0].Status)
}

func TestRelay_RespectsBatchSize(t *testing.T) {
	repo := &memoryRepository{}
	for i := 0; i < 5; i++ {
		repo.rows = append(repo.rows, pendingRow(fmt.Sprintf("o%d", i), "app.events.order.created"))
	}
	relay := NewRelay(repo, &recordingPublisher{}, metrics.New(), 2)

	sent, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
}
