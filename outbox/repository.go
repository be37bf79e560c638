package outbox

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/platform/services/eventcore/models"
)

// Repository is the storage side of the outbox relay.
type Repository interface {
	// FindPending returns up to limit PENDING rows, oldest first, locking
	// them so a concurrent relay skips the claimed rows.
	FindPending(ctx context.Context, limit int) ([]models.OutboxEvent, error)

	// MarkSent flips a row to SENT and stamps processedAt.
	MarkSent(ctx context.Context, outboxID string) error

	// Transaction runs fn against a repository bound to one transaction.
	Transaction(ctx context.Context, fn func(Repository) error) error
}

// GormRepository implements Repository with GORM on PostgreSQL.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormRepository{db: tx})
	})
}

func (r *GormRepository) FindPending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.OutboxPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "failed to find pending outbox events")
	}
	return rows, nil
}

func (r *GormRepository) MarkSent(ctx context.Context, outboxID string) error {
	now := time.Now()
	if err := r.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("outbox_id = ?", outboxID).
		Updates(map[string]interface{}{
			"status":       models.OutboxSent,
			"processed_at": &now,
		}).Error; err != nil {
		return errors.Wrap(err, "failed to mark outbox event as sent")
	}
	return nil
}
