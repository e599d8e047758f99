package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"training-backend/internal/core/types"
	"training-backend/internal/database"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MetricStore persists metric definitions and their per-scope display order.
type MetricStore struct {
	db *gorm.DB
}

func NewMetricStore(db *gorm.DB) *MetricStore {
	return &MetricStore{db: db}
}

type NewMetric struct {
	UserId     uuid.UUID
	Name       *string
	Definition types.MetricDefinition
	Scope      types.MetricScope
}

// MetricUpdate changes a metric's name or promotes it to the global scope.
type MetricUpdate struct {
	Name  *string
	Scope types.MetricScope
}

func (s *MetricStore) Create(ctx context.Context, req NewMetric) (types.TrainingMetric, error) {
	if err := req.Definition.Validate(); err != nil {
		return types.TrainingMetric{}, err
	}

	metric := types.TrainingMetric{
		Id:           uuid.New(),
		UserId:       req.UserId,
		Definition:   req.Definition,
		Scope:        req.Scope,
		CreationTime: time.Now().UTC(),
	}
	if metric.Scope == nil {
		metric.Scope = types.GlobalScope{}
	}

	if req.Name != nil {
		name, err := types.ValidateName(*req.Name)
		if err != nil {
			return types.TrainingMetric{}, err
		}
		metric.Name = &name
	}

	if scope, ok := metric.Scope.(types.PeriodScope); ok {
		if err := s.checkPeriod(ctx, req.UserId, scope.PeriodId); err != nil {
			return types.TrainingMetric{}, err
		}
	}

	row, err := metricToRow(metric)
	if err != nil {
		return types.TrainingMetric{}, err
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return types.TrainingMetric{}, fmt.Errorf("error creating training metric: %w", err)
	}

	return metric, nil
}

func (s *MetricStore) checkPeriod(ctx context.Context, userId, periodId uuid.UUID) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&database.TrainingPeriod{}).
		Where("id = ? AND user_id = ?", periodId, userId).
		Count(&count).Error; err != nil {
		return fmt.Errorf("error checking training period: %w", err)
	}
	if count == 0 {
		return ErrPeriodNotFound
	}
	return nil
}

// Get returns the user's metric. Metrics of other users are reported as not
// found.
func (s *MetricStore) Get(ctx context.Context, userId, metricId uuid.UUID) (types.TrainingMetric, error) {
	var row database.TrainingMetric
	if err := s.db.WithContext(ctx).First(&row, "id = ? AND user_id = ?", metricId, userId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.TrainingMetric{}, ErrMetricNotFound
		}
		return types.TrainingMetric{}, fmt.Errorf("error getting training metric: %w", err)
	}
	return metricFromRow(row)
}

func (s *MetricStore) Update(ctx context.Context, userId, metricId uuid.UUID, update MetricUpdate) error {
	if update.Name == nil && update.Scope == nil {
		return ErrEmptyUpdate
	}

	changes := map[string]any{}

	if update.Name != nil {
		name, err := types.ValidateName(*update.Name)
		if err != nil {
			return err
		}
		changes["name"] = sql.NullString{String: name, Valid: true}
	}

	if update.Scope != nil {
		if _, ok := update.Scope.(types.GlobalScope); !ok {
			return ErrInvalidScopeChange
		}
		changes["period_id"] = uuid.NullUUID{}
	}

	result := s.db.WithContext(ctx).Model(&database.TrainingMetric{}).
		Where("id = ? AND user_id = ?", metricId, userId).
		Updates(changes)
	if result.Error != nil {
		return fmt.Errorf("error updating training metric: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMetricNotFound
	}
	return nil
}

func (s *MetricStore) Delete(ctx context.Context, userId, metricId uuid.UUID) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", metricId, userId).Delete(&database.TrainingMetric{})
	if result.Error != nil {
		return fmt.Errorf("error deleting training metric: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMetricNotFound
	}
	return nil
}

// ListVisible returns the metrics shown in a scope, in display order. A period
// shows every global metric plus its own.
func (s *MetricStore) ListVisible(ctx context.Context, userId uuid.UUID, scope types.MetricScope) ([]types.TrainingMetric, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userId)
	if p, ok := scope.(types.PeriodScope); ok {
		query = query.Where("period_id IS NULL OR period_id = ?", p.PeriodId)
	} else {
		query = query.Where("period_id IS NULL")
	}

	var rows []database.TrainingMetric
	if err := query.Order("creation_time ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error listing training metrics: %w", err)
	}

	metrics := make([]types.TrainingMetric, 0, len(rows))
	for _, row := range rows {
		m, err := metricFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("error reading training metric %s: %w", row.Id, err)
		}
		metrics = append(metrics, m)
	}

	ordering, err := s.storedOrdering(ctx, userId, scope)
	if err != nil {
		return nil, err
	}

	return applyOrdering(metrics, ordering), nil
}

func (s *MetricStore) storedOrdering(ctx context.Context, userId uuid.UUID, scope types.MetricScope) ([]uuid.UUID, error) {
	var row database.TrainingMetricOrdering
	err := s.db.WithContext(ctx).First(&row, "user_id = ? AND scope_key = ?", userId, types.ScopeKey(scope)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting training metric ordering: %w", err)
	}
	return row.MetricIds.Data(), nil
}

// applyOrdering sorts metrics by the stored ordering. metrics must already be
// sorted by creation; those missing from the ordering keep that relative
// order at the end, and ids that are no longer visible are skipped.
func applyOrdering(metrics []types.TrainingMetric, ordering []uuid.UUID) []types.TrainingMetric {
	position := make(map[uuid.UUID]int, len(ordering))
	for i, id := range ordering {
		if _, ok := position[id]; !ok {
			position[id] = i
		}
	}

	sorted := slices.Clone(metrics)
	slices.SortStableFunc(sorted, func(a, b types.TrainingMetric) int {
		pa, oka := position[a.Id]
		pb, okb := position[b.Id]
		switch {
		case oka && okb:
			return pa - pb
		case oka:
			return -1
		case okb:
			return 1
		}
		return 0
	})
	return sorted
}

// GetOrdering returns the effective display order of the scope.
func (s *MetricStore) GetOrdering(ctx context.Context, userId uuid.UUID, scope types.MetricScope) ([]uuid.UUID, error) {
	if p, ok := scope.(types.PeriodScope); ok {
		if err := s.checkPeriod(ctx, userId, p.PeriodId); err != nil {
			return nil, err
		}
	}

	metrics, err := s.ListVisible(ctx, userId, scope)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(metrics))
	for _, m := range metrics {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

func (s *MetricStore) SetOrdering(ctx context.Context, userId uuid.UUID, scope types.MetricScope, metricIds []uuid.UUID) error {
	seen := make(map[uuid.UUID]bool, len(metricIds))
	for _, id := range metricIds {
		if seen[id] {
			return fmt.Errorf("%w: %s", ErrDuplicateMetricIds, id)
		}
		seen[id] = true
	}

	if p, ok := scope.(types.PeriodScope); ok {
		if err := s.checkPeriod(ctx, userId, p.PeriodId); err != nil {
			return err
		}
	}

	if metricIds == nil {
		metricIds = []uuid.UUID{}
	}

	row := database.TrainingMetricOrdering{
		UserId:    userId,
		ScopeKey:  types.ScopeKey(scope),
		MetricIds: datatypes.NewJSONType(metricIds),
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "scope_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"metric_ids"}),
	}).Create(&row).Error; err != nil {
		return fmt.Errorf("error saving training metric ordering: %w", err)
	}
	return nil
}
