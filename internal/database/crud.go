package database

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const batchSize = 500

// UpsertDerivedValue writes a computed value. Only placeholders are replaced;
// a row that is already computed keeps its value.
func UpsertDerivedValue(ctx context.Context, db *gorm.DB, value ActivityDerivedValue) error {
	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "activity_id"}, {Name: "metric"}, {Name: "aggregate"}},
		DoUpdates: clause.AssignmentColumns([]string{"computed", "value"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Eq{Column: clause.Column{Table: "activity_derived_values", Name: "computed"}, Value: false},
		}},
	}).Create(&value).Error
	if err != nil {
		return fmt.Errorf("error upserting derived value: %w", err)
	}
	return nil
}

// InsertDerivedPlaceholders creates uncomputed rows for the key, leaving any
// existing row untouched.
func InsertDerivedPlaceholders(ctx context.Context, db *gorm.DB, metric, aggregate string, activityIds []uuid.UUID) error {
	if len(activityIds) == 0 {
		return nil
	}

	rows := make([]ActivityDerivedValue, 0, len(activityIds))
	for _, id := range activityIds {
		rows = append(rows, ActivityDerivedValue{ActivityId: id, Metric: metric, Aggregate: aggregate})
	}

	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, batchSize).Error; err != nil {
		return fmt.Errorf("error inserting derived value placeholders: %w", err)
	}
	return nil
}

// ListDerivedValues returns the cache rows of the key for the given activities.
func ListDerivedValues(ctx context.Context, db *gorm.DB, metric, aggregate string, activityIds []uuid.UUID) ([]ActivityDerivedValue, error) {
	var all []ActivityDerivedValue
	for chunk := range slices.Chunk(activityIds, batchSize) {
		var rows []ActivityDerivedValue
		if err := db.WithContext(ctx).
			Where("metric = ? AND aggregate = ? AND activity_id IN ?", metric, aggregate, chunk).
			Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("error listing derived values: %w", err)
		}
		all = append(all, rows...)
	}
	return all, nil
}

// ListUncomputedActivityIds returns the user's activities without a computed
// value for the key.
func ListUncomputedActivityIds(ctx context.Context, db *gorm.DB, userId uuid.UUID, metric, aggregate string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	computed := db.Model(&ActivityDerivedValue{}).
		Select("activity_id").
		Where("metric = ? AND aggregate = ? AND computed = ?", metric, aggregate, true)

	if err := db.WithContext(ctx).
		Model(&Activity{}).
		Where("user_id = ? AND id NOT IN (?)", userId, computed).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("error listing uncomputed activities: %w", err)
	}
	return ids, nil
}

// DistinctTimeseriesKeys lists the (metric, aggregate) pairs used by the
// user's timeseries metrics.
func DistinctTimeseriesKeys(ctx context.Context, db *gorm.DB, userId uuid.UUID) ([][2]string, error) {
	var rows []struct {
		SourceMetric    string
		SourceAggregate string
	}
	if err := db.WithContext(ctx).
		Model(&TrainingMetric{}).
		Distinct("source_metric", "source_aggregate").
		Where("user_id = ? AND source_type = ?", userId, SourceTimeseries).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing timeseries keys: %w", err)
	}

	keys := make([][2]string, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, [2]string{r.SourceMetric, r.SourceAggregate})
	}
	return keys, nil
}

// DeleteActivity removes an activity and its cached values.
func DeleteActivity(ctx context.Context, db *gorm.DB, userId, activityId uuid.UUID) (*Activity, error) {
	var activity Activity
	err := db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		if err := txn.First(&activity, "id = ? AND user_id = ?", activityId, userId).Error; err != nil {
			return err
		}
		if err := txn.Where("activity_id = ?", activityId).Delete(&ActivityDerivedValue{}).Error; err != nil {
			return fmt.Errorf("error deleting derived values: %w", err)
		}
		if err := txn.Delete(&activity).Error; err != nil {
			return fmt.Errorf("error deleting activity: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &activity, nil
}

type PendingBackfill struct {
	UserId    uuid.UUID
	Metric    string
	Aggregate string
}

// ListPendingBackfills returns the keys that still have placeholders, grouped
// by user.
func ListPendingBackfills(ctx context.Context, db *gorm.DB) ([]PendingBackfill, error) {
	var pending []PendingBackfill
	if err := db.WithContext(ctx).
		Model(&ActivityDerivedValue{}).
		Select("DISTINCT activities.user_id, activity_derived_values.metric, activity_derived_values.aggregate").
		Joins("JOIN activities ON activities.id = activity_derived_values.activity_id").
		Where("activity_derived_values.computed = ?", false).
		Scan(&pending).Error; err != nil {
		return nil, fmt.Errorf("error listing pending backfills: %w", err)
	}
	return pending, nil
}
