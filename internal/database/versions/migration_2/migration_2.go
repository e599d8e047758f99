package migration_2

import (
	"fmt"

	"gorm.io/gorm"
)

// Activities used to be stored in UTC only, which shifted late evening
// sessions into the next day's bucket.
type Activity struct {
	UtcOffsetSeconds int `gorm:"default:0"`
}

func Migration(db *gorm.DB) error {
	if err := db.Migrator().AddColumn(&Activity{}, "UtcOffsetSeconds"); err != nil {
		return fmt.Errorf("error adding utc_offset_seconds column: %w", err)
	}

	if err := db.Model(&Activity{}).
		Where("utc_offset_seconds IS NULL").
		Update("utc_offset_seconds", 0).Error; err != nil {
		return fmt.Errorf("error setting default value for utc_offset_seconds: %w", err)
	}

	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropColumn(&Activity{}, "UtcOffsetSeconds"); err != nil {
		return fmt.Errorf("error dropping utc_offset_seconds column: %w", err)
	}
	return nil
}
