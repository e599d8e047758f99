package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type User struct {
	Id           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreationTime time.Time
}

type Session struct {
	TokenHash string    `gorm:"primaryKey"`
	UserId    uuid.UUID `gorm:"type:uuid;index;not null"`
	User      *User     `gorm:"foreignKey:UserId;constraint:OnDelete:CASCADE"`
	ExpireAt  time.Time `gorm:"not null"`
}

type Activity struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId uuid.UUID `gorm:"type:uuid;index;not null;uniqueIndex:idx_activity_content,priority:1"`
	User   *User     `gorm:"foreignKey:UserId;constraint:OnDelete:CASCADE"`

	Name string

	StartTime        time.Time `gorm:"index;not null"`
	UtcOffsetSeconds int       `gorm:"default:0"`

	Sport      string `gorm:"size:40;not null"`
	Statistics datatypes.JSONType[map[string]float64]

	WorkoutType sql.NullString `gorm:"size:20"`
	Rpe         sql.NullInt16
	BonkStatus  sql.NullString `gorm:"size:10"`

	FileKey     string `gorm:"not null"`
	ContentHash string `gorm:"size:64;not null;uniqueIndex:idx_activity_content,priority:2"`

	CreationTime time.Time

	DerivedValues []ActivityDerivedValue `gorm:"foreignKey:ActivityId;constraint:OnDelete:CASCADE"`
}

// ActivityDerivedValue caches one timeseries aggregate for an activity. A row
// with Computed=false is a placeholder waiting for backfill.
type ActivityDerivedValue struct {
	ActivityId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Metric     string    `gorm:"size:20;primaryKey"`
	Aggregate  string    `gorm:"size:20;primaryKey"`
	Computed   bool      `gorm:"not null;default:false"`
	Value      sql.NullFloat64
}

type TrainingPeriod struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId uuid.UUID `gorm:"type:uuid;index;not null"`
	User   *User     `gorm:"foreignKey:UserId;constraint:OnDelete:CASCADE"`

	Name  string `gorm:"not null"`
	Start time.Time
	End   sql.NullTime

	// Null means every sport.
	Sports datatypes.JSON
	Note   sql.NullString

	Metrics []TrainingMetric `gorm:"foreignKey:PeriodId;constraint:OnDelete:CASCADE"`
}

const (
	SourceStatistic  = "statistic"
	SourceTimeseries = "timeseries"
)

type TrainingMetric struct {
	Id     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId uuid.UUID `gorm:"type:uuid;index;not null"`
	User   *User     `gorm:"foreignKey:UserId;constraint:OnDelete:CASCADE"`

	Name sql.NullString

	SourceType      string         `gorm:"size:20;not null"`
	SourceStatistic sql.NullString `gorm:"size:20"`
	SourceMetric    sql.NullString `gorm:"size:20"`
	SourceAggregate sql.NullString `gorm:"size:20"`

	Granularity string `gorm:"size:20;not null"`
	Aggregate   string `gorm:"size:20;not null"`
	Filters     datatypes.JSON
	GroupBy     sql.NullString `gorm:"size:20"`

	// Null for globally scoped metrics.
	PeriodId uuid.NullUUID `gorm:"type:uuid;index"`

	CreationTime time.Time
}

type TrainingMetricOrdering struct {
	UserId    uuid.UUID `gorm:"type:uuid;primaryKey"`
	ScopeKey  string    `gorm:"size:60;primaryKey"`
	MetricIds datatypes.JSONType[[]uuid.UUID]
}
