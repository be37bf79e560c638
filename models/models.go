package models

import (
	"gorm.io/gorm"
)

// SetupModels runs the schema migrations for all persisted tables.
func SetupModels(db *gorm.DB) error {
	return db.AutoMigrate(
		&Event{},
		&OutboxEvent{},
		&DeadLetterEvent{},
		&AggregateSnapshot{},
		&AggregateState{},
	)
}
