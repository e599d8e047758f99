package core

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"training-backend/internal/core/types"
	"training-backend/internal/database"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type PeriodStore struct {
	db *gorm.DB
}

func NewPeriodStore(db *gorm.DB) *PeriodStore {
	return &PeriodStore{db: db}
}

func (s *PeriodStore) Create(ctx context.Context, userId uuid.UUID, period types.TrainingPeriod) (uuid.UUID, error) {
	name, err := types.ValidateName(period.Name)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidPeriod, err)
	}
	if period.Start.IsZero() {
		return uuid.Nil, fmt.Errorf("%w: start date is required", ErrInvalidPeriod)
	}
	if period.End != nil && period.End.Before(period.Start) {
		return uuid.Nil, fmt.Errorf("%w: end date is before start date", ErrInvalidPeriod)
	}
	if period.Sports != nil && len(period.Sports) == 0 {
		return uuid.Nil, fmt.Errorf("%w: sports: %w", ErrInvalidPeriod, types.ErrEmptyFilter)
	}

	row := database.TrainingPeriod{
		Id:     uuid.New(),
		UserId: userId,
		Name:   name,
		Start:  period.Start,
	}
	if period.End != nil {
		row.End = sql.NullTime{Time: *period.End, Valid: true}
	}
	if period.Sports != nil {
		sports, err := json.Marshal(period.Sports)
		if err != nil {
			return uuid.Nil, fmt.Errorf("error encoding period sports: %w", err)
		}
		row.Sports = datatypes.JSON(sports)
	}
	if period.Note != "" {
		row.Note = sql.NullString{String: period.Note, Valid: true}
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return uuid.Nil, fmt.Errorf("error creating training period: %w", err)
	}

	return row.Id, nil
}

func (s *PeriodStore) Get(ctx context.Context, userId, periodId uuid.UUID) (types.TrainingPeriod, error) {
	var row database.TrainingPeriod
	if err := s.db.WithContext(ctx).First(&row, "id = ? AND user_id = ?", periodId, userId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.TrainingPeriod{}, ErrPeriodNotFound
		}
		return types.TrainingPeriod{}, fmt.Errorf("error getting training period: %w", err)
	}
	return periodFromRow(row)
}

func (s *PeriodStore) List(ctx context.Context, userId uuid.UUID) ([]types.TrainingPeriod, error) {
	var rows []database.TrainingPeriod
	if err := s.db.WithContext(ctx).Where("user_id = ?", userId).Order("start DESC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing training periods: %w", err)
	}

	periods := make([]types.TrainingPeriod, 0, len(rows))
	for _, row := range rows {
		p, err := periodFromRow(row)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, nil
}

// Delete removes the period along with its own metrics and their ordering.
// Metrics promoted out of the period are kept.
func (s *PeriodStore) Delete(ctx context.Context, userId, periodId uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		var period database.TrainingPeriod
		if err := txn.Select("id").First(&period, "id = ? AND user_id = ?", periodId, userId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPeriodNotFound
			}
			return fmt.Errorf("error getting training period: %w", err)
		}

		if err := txn.Where("period_id = ?", periodId).Delete(&database.TrainingMetric{}).Error; err != nil {
			return fmt.Errorf("error deleting period metrics: %w", err)
		}

		scopeKey := types.ScopeKey(types.PeriodScope{PeriodId: periodId})
		if err := txn.Where("user_id = ? AND scope_key = ?", userId, scopeKey).Delete(&database.TrainingMetricOrdering{}).Error; err != nil {
			return fmt.Errorf("error deleting period ordering: %w", err)
		}

		if err := txn.Delete(&period).Error; err != nil {
			return fmt.Errorf("error deleting training period: %w", err)
		}

		return nil
	})
}
