package core

import (
	"context"
	"log/slog"
	"time"

	"training-backend/internal/core/metrics"
	"training-backend/internal/core/types"
	"training-backend/internal/database"
	"training-backend/internal/messaging"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const defaultMetricConcurrency = 4

// TrainingService computes training metric values on demand.
type TrainingService struct {
	db         *gorm.DB
	metrics    *MetricStore
	activities *ActivityService
	backfiller *Backfiller
	publisher  messaging.Publisher

	metricConcurrency int
}

func NewTrainingService(db *gorm.DB, metricStore *MetricStore, activities *ActivityService, backfiller *Backfiller, publisher messaging.Publisher) *TrainingService {
	return &TrainingService{
		db:                db,
		metrics:           metricStore,
		activities:        activities,
		backfiller:        backfiller,
		publisher:         publisher,
		metricConcurrency: defaultMetricConcurrency,
	}
}

type MetricWithValues struct {
	Metric types.TrainingMetric
	Values metrics.GroupedSeries
}

// CreateMetric stores the metric and, for timeseries sources, queues the
// backfill of the user's history so the first query is cheap.
func (s *TrainingService) CreateMetric(ctx context.Context, req NewMetric) (uuid.UUID, error) {
	metric, err := s.metrics.Create(ctx, req)
	if err != nil {
		return uuid.Nil, err
	}

	if source, ok := metric.Definition.Source.(types.TimeseriesSource); ok {
		var ids []uuid.UUID
		if err := s.db.WithContext(ctx).Model(&database.Activity{}).Where("user_id = ?", req.UserId).Pluck("id", &ids).Error; err != nil {
			slog.Warn("could not list activities for warm-up", "metric_id", metric.Id, "error", err)
		} else if len(ids) > 0 {
			queueBackfill(ctx, s.db, s.publisher, req.UserId, string(source.Metric), string(source.Aggregate), ids)
		}
	}

	return metric.Id, nil
}

// ComputeValues evaluates a definition over the user's activities. The range
// is widened to whole granules.
func (s *TrainingService) ComputeValues(ctx context.Context, userId uuid.UUID, def types.MetricDefinition, start, end time.Time) (metrics.GroupedSeries, error) {
	start, end = metrics.AlignRange(def.Granularity, start, end)

	activities, err := s.activities.ListFacts(ctx, userId, start, end)
	if err != nil {
		return nil, err
	}

	var matching []types.ActivityFacts
	for _, a := range activities {
		if def.Filters.Matches(a) {
			matching = append(matching, a)
		}
	}

	var derived map[uuid.UUID]types.DerivedValue
	if source, ok := def.Source.(types.TimeseriesSource); ok && len(matching) > 0 {
		ids := make([]uuid.UUID, 0, len(matching))
		for _, a := range matching {
			ids = append(ids, a.Id)
		}
		if derived, err = s.backfiller.EnsureComputed(ctx, source.Key(), ids); err != nil {
			return nil, err
		}
	}

	values := metrics.ResolveValues(def.Source, matching, derived)

	return metrics.Evaluate(def, start, end, matching, values), nil
}

// ListWithValues returns the metrics visible in the scope, in display order,
// each with its values over [start, end].
func (s *TrainingService) ListWithValues(ctx context.Context, userId uuid.UUID, scope types.MetricScope, start, end time.Time) ([]MetricWithValues, error) {
	visible, err := s.metrics.ListVisible(ctx, userId, scope)
	if err != nil {
		return nil, err
	}

	results := make([]MetricWithValues, len(visible))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.metricConcurrency)

	for i, metric := range visible {
		g.Go(func() error {
			values, err := s.ComputeValues(gctx, userId, metric.Definition, start, end)
			if err != nil {
				return err
			}
			results[i] = MetricWithValues{Metric: metric, Values: values}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// MetricValues evaluates one stored metric.
func (s *TrainingService) MetricValues(ctx context.Context, userId, metricId uuid.UUID, start, end time.Time) (types.TrainingMetric, metrics.GroupedSeries, error) {
	metric, err := s.metrics.Get(ctx, userId, metricId)
	if err != nil {
		return types.TrainingMetric{}, nil, err
	}

	values, err := s.ComputeValues(ctx, userId, metric.Definition, start, end)
	if err != nil {
		return types.TrainingMetric{}, nil, err
	}

	return metric, values, nil
}
