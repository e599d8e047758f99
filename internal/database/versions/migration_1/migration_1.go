package migration_1

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TrainingMetricOrdering struct {
	UserId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	ScopeKey  string    `gorm:"size:60;primaryKey"`
	MetricIds datatypes.JSON
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().CreateTable(&TrainingMetricOrdering{}); err != nil {
		return fmt.Errorf("error creating training_metric_orderings table: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&TrainingMetricOrdering{}); err != nil {
		return fmt.Errorf("error dropping training_metric_orderings table: %w", err)
	}
	return nil
}
