package eventstore

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/platform/services/eventcore/models"
)

// GormSnapshotStore persists aggregate snapshots via GORM.
type GormSnapshotStore struct {
	db *gorm.DB
}

func NewGormSnapshotStore(db *gorm.DB) *GormSnapshotStore {
	return &GormSnapshotStore{db: db}
}

// GetLatest returns the most recent snapshot for the aggregate, or nil when
// none exists.
func (s *GormSnapshotStore) GetLatest(ctx context.Context, aggregateID, aggregateType string) (*models.AggregateSnapshot, error) {
	var row models.AggregateSnapshot
	err := s.db.WithContext(ctx).
		Where("aggregate_id = ? AND aggregate_type = ?", aggregateID, aggregateType).
		Order("aggregate_version DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to load snapshot")
	}
	return &row, nil
}

// Save persists a new snapshot row.
func (s *GormSnapshotStore) Save(ctx context.Context, snapshot *models.AggregateSnapshot) error {
	if err := s.db.WithContext(ctx).Create(snapshot).Error; err != nil {
		return errors.Wrap(err, "failed to save snapshot")
	}
	return nil
}
