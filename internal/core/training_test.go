package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"training-backend/internal/core/metrics"
	"training-backend/internal/core/types"
	"training-backend/internal/database"
	"training-backend/internal/messaging"
	"training-backend/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type trainingFixture struct {
	db         *gorm.DB
	provider   *fakeTimeseriesProvider
	queue      *messaging.InMemoryQueue
	metrics    *MetricStore
	periods    *PeriodStore
	activities *ActivityService
	training   *TrainingService
}

func newTrainingFixture(t *testing.T) *trainingFixture {
	db := createDB(t)

	store, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	provider := newFakeTimeseriesProvider()
	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	metricStore := NewMetricStore(db)
	activities := NewActivityService(db, store, activityBucket, queue)
	backfiller := NewBackfiller(db, provider, 2)

	return &trainingFixture{
		db:         db,
		provider:   provider,
		queue:      queue,
		metrics:    metricStore,
		periods:    NewPeriodStore(db),
		activities: activities,
		training:   NewTrainingService(db, metricStore, activities, backfiller, queue),
	}
}

func day(d int, hour int) time.Time {
	return time.Date(2025, 9, d, hour, 0, 0, 0, time.UTC)
}

var averageHeartRate = types.TimeseriesSource{Metric: types.MetricHeartRate, Aggregate: types.TimeseriesAverage}

func TestComputeValues_WeeklyAverageOfTimeseries(t *testing.T) {
	f := newTrainingFixture(t)
	userId := createUser(t, f.db)

	a1 := createActivity(t, f.db, userId, day(1, 8), types.SportRunning)
	a2 := createActivity(t, f.db, userId, day(3, 8), types.SportRunning)
	f.provider.add(a1, types.MetricHeartRate, 130, 150)
	f.provider.add(a2, types.MetricHeartRate, 160, nan, 160)

	def := types.MetricDefinition{Source: averageHeartRate, Granularity: types.Weekly, Aggregate: types.AggregateAverage}

	values, err := f.training.ComputeValues(context.Background(), userId, def, day(1, 0), day(14, 0))
	require.NoError(t, err)
	assert.Equal(t, metrics.GroupedSeries{metrics.NoGroup: {"2025-09-01": 150}}, values)

	// Second query is served from the cache.
	_, err = f.training.ComputeValues(context.Background(), userId, def, day(1, 0), day(14, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.callCount(a1))
	assert.Equal(t, 1, f.provider.callCount(a2))
}

func TestComputeValues_SumZeroFillsEmptyBuckets(t *testing.T) {
	f := newTrainingFixture(t)
	userId := createUser(t, f.db)

	createActivity(t, f.db, userId, day(2, 9), types.SportRunning, withStatistic(types.StatisticCalories, 500))
	createActivity(t, f.db, userId, day(4, 9), types.SportCycling, withStatistic(types.StatisticCalories, 700))

	def := types.MetricDefinition{
		Source:      types.StatisticSource{Statistic: types.StatisticCalories},
		Granularity: types.Weekly,
		Aggregate:   types.AggregateSum,
	}

	values, err := f.training.ComputeValues(context.Background(), userId, def, day(1, 0), day(20, 0))
	require.NoError(t, err)
	assert.Equal(t, metrics.GroupedSeries{
		metrics.NoGroup: {"2025-09-01": 1200, "2025-09-08": 0, "2025-09-15": 0},
	}, values)

	// The single day range still covers the whole week.
	values, err = f.training.ComputeValues(context.Background(), userId, def, day(3, 0), day(3, 0))
	require.NoError(t, err)
	assert.Equal(t, metrics.GroupedSeries{metrics.NoGroup: {"2025-09-01": 1200}}, values)

	empty, err := f.training.ComputeValues(context.Background(), createUser(t, f.db), def, day(1, 0), day(7, 0))
	require.NoError(t, err)
	assert.Equal(t, metrics.GroupedSeries{metrics.NoGroup: {"2025-09-01": 0}}, empty)
}

func TestComputeValues_NumberOfActivitiesCountsMissingValues(t *testing.T) {
	f := newTrainingFixture(t)
	userId := createUser(t, f.db)

	createActivity(t, f.db, userId, day(1, 9), types.SportCycling, withStatistic(types.StatisticNormalizedPower, 230))
	createActivity(t, f.db, userId, day(1, 17), types.SportCycling)

	count := types.MetricDefinition{
		Source:      types.StatisticSource{Statistic: types.StatisticNormalizedPower},
		Granularity: types.Daily,
		Aggregate:   types.AggregateNumberOfActivities,
	}
	values, err := f.training.ComputeValues(context.Background(), userId, count, day(1, 0), day(2, 0))
	require.NoError(t, err)
	assert.Equal(t, metrics.GroupedSeries{metrics.NoGroup: {"2025-09-01": 2, "2025-09-02": 0}}, values)

	avg := count
	avg.Aggregate = types.AggregateAverage
	values, err = f.training.ComputeValues(context.Background(), userId, avg, day(1, 0), day(2, 0))
	require.NoError(t, err)
	assert.Equal(t, metrics.GroupedSeries{metrics.NoGroup: {"2025-09-01": 230}}, values)
}

func TestComputeValues_FiltersAndGroups(t *testing.T) {
	f := newTrainingFixture(t)
	userId := createUser(t, f.db)

	createActivity(t, f.db, userId, day(1, 9), types.SportRunning, withRpe(3), withStatistic(types.StatisticDistance, 10000))
	createActivity(t, f.db, userId, day(2, 9), types.SportTrailRunning, withRpe(8), withStatistic(types.StatisticDistance, 15000))
	createActivity(t, f.db, userId, day(3, 9), types.SportCycling, withRpe(8), withStatistic(types.StatisticDistance, 40000))
	createActivity(t, f.db, userId, day(4, 9), types.SportRunning, withStatistic(types.StatisticDistance, 5000))

	groupBy := types.GroupBySport
	def := types.MetricDefinition{
		Source:      types.StatisticSource{Statistic: types.StatisticDistance},
		Granularity: types.Monthly,
		Aggregate:   types.AggregateMax,
		Filters: types.Filters{
			Sports: []types.SportFilter{{Category: ptr(types.CategoryRunning)}},
			Rpes:   []types.Rpe{3, 8},
		},
		GroupBy: &groupBy,
	}

	values, err := f.training.ComputeValues(context.Background(), userId, def, day(1, 0), day(30, 0))
	require.NoError(t, err)
	assert.Equal(t, metrics.GroupedSeries{
		"Running":      {"2025-09-01": 10},
		"TrailRunning": {"2025-09-01": 15},
	}, values)
}

func TestComputeValues_BucketsInLocalTime(t *testing.T) {
	f := newTrainingFixture(t)
	userId := createUser(t, f.db)

	// Monday 00:30 in UTC+2 is still Sunday in UTC.
	paris := time.FixedZone("", 2*3600)
	createActivity(t, f.db, userId, time.Date(2025, 9, 8, 0, 30, 0, 0, paris), types.SportRunning, withStatistic(types.StatisticDuration, 3600))

	def := types.MetricDefinition{
		Source:      types.StatisticSource{Statistic: types.StatisticDuration},
		Granularity: types.Weekly,
		Aggregate:   types.AggregateSum,
	}

	values, err := f.training.ComputeValues(context.Background(), userId, def, day(1, 0), day(14, 0))
	require.NoError(t, err)
	assert.Equal(t, metrics.GroupedSeries{metrics.NoGroup: {"2025-09-01": 0, "2025-09-08": 3600}}, values)
}

func TestComputeValues_RangeUsesLocalDate(t *testing.T) {
	f := newTrainingFixture(t)
	userId := createUser(t, f.db)
	ctx := context.Background()

	paris := time.FixedZone("", 2*3600)
	createActivity(t, f.db, userId, time.Date(2025, 9, 8, 0, 30, 0, 0, paris), types.SportRunning, withStatistic(types.StatisticDuration, 3600))

	def := types.MetricDefinition{
		Source:      types.StatisticSource{Statistic: types.StatisticDuration},
		Granularity: types.Daily,
		Aggregate:   types.AggregateSum,
	}

	values, err := f.training.ComputeValues(ctx, userId, def, day(8, 0), day(8, 0))
	require.NoError(t, err)
	assert.Equal(t, metrics.GroupedSeries{metrics.NoGroup: {"2025-09-08": 3600}}, values)

	values, err = f.training.ComputeValues(ctx, userId, def, day(7, 0), day(7, 0))
	require.NoError(t, err)
	assert.Equal(t, metrics.GroupedSeries{metrics.NoGroup: {"2025-09-07": 0}}, values)
}

func TestActivityDeleteRemovesContribution(t *testing.T) {
	f := newTrainingFixture(t)
	userId := createUser(t, f.db)
	ctx := context.Background()

	a1 := createActivity(t, f.db, userId, day(1, 8), types.SportRunning)
	a2 := createActivity(t, f.db, userId, day(2, 8), types.SportRunning)
	f.provider.add(a1, types.MetricHeartRate, 140)
	f.provider.add(a2, types.MetricHeartRate, 160)

	def := types.MetricDefinition{Source: averageHeartRate, Granularity: types.Weekly, Aggregate: types.AggregateAverage}

	values, err := f.training.ComputeValues(ctx, userId, def, day(1, 0), day(7, 0))
	require.NoError(t, err)
	assert.Equal(t, 150.0, values[metrics.NoGroup]["2025-09-01"])

	require.NoError(t, f.activities.Delete(ctx, userId, a2))

	var cached int64
	require.NoError(t, f.db.Model(&database.ActivityDerivedValue{}).Where("activity_id = ?", a2).Count(&cached).Error)
	assert.Zero(t, cached)

	values, err = f.training.ComputeValues(ctx, userId, def, day(1, 0), day(7, 0))
	require.NoError(t, err)
	assert.Equal(t, 140.0, values[metrics.NoGroup]["2025-09-01"])

	assert.ErrorIs(t, f.activities.Delete(ctx, userId, a2), ErrActivityNotFound)
}

func TestListWithValues_ScopesAndPeriodDelete(t *testing.T) {
	f := newTrainingFixture(t)
	userId := createUser(t, f.db)
	ctx := context.Background()

	createActivity(t, f.db, userId, day(1, 9), types.SportRunning, withStatistic(types.StatisticCalories, 300))

	periodId := createPeriod(t, f.periods, userId)

	calories := caloriesDefinition()
	global, err := f.training.CreateMetric(ctx, NewMetric{UserId: userId, Definition: calories})
	require.NoError(t, err)
	local, err := f.training.CreateMetric(ctx, NewMetric{UserId: userId, Definition: calories, Scope: types.PeriodScope{PeriodId: periodId}})
	require.NoError(t, err)

	require.NoError(t, f.metrics.SetOrdering(ctx, userId, types.PeriodScope{PeriodId: periodId}, []uuid.UUID{local, global}))

	results, err := f.training.ListWithValues(ctx, userId, types.PeriodScope{PeriodId: periodId}, day(1, 0), day(7, 0))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, local, results[0].Metric.Id)
	assert.Equal(t, global, results[1].Metric.Id)
	for _, r := range results {
		assert.Equal(t, metrics.GroupedSeries{metrics.NoGroup: {"2025-09-01": 300}}, r.Values)
	}

	require.NoError(t, f.periods.Delete(ctx, userId, periodId))

	results, err = f.training.ListWithValues(ctx, userId, types.GlobalScope{}, day(1, 0), day(7, 0))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, global, results[0].Metric.Id)

	_, _, err = f.training.MetricValues(ctx, userId, local, day(1, 0), day(7, 0))
	assert.ErrorIs(t, err, ErrMetricNotFound)
}

func TestCreateMetric_QueuesBackfill(t *testing.T) {
	f := newTrainingFixture(t)
	userId := createUser(t, f.db)
	ctx := context.Background()

	a1 := createActivity(t, f.db, userId, day(1, 8), types.SportRunning)
	a2 := createActivity(t, f.db, userId, day(2, 8), types.SportRunning)

	def := types.MetricDefinition{Source: averageHeartRate, Granularity: types.Daily, Aggregate: types.AggregateMax}
	_, err := f.training.CreateMetric(ctx, NewMetric{UserId: userId, Definition: def})
	require.NoError(t, err)

	var placeholders []database.ActivityDerivedValue
	require.NoError(t, f.db.Find(&placeholders).Error)
	assert.Len(t, placeholders, 2)
	for _, p := range placeholders {
		assert.False(t, p.Computed)
	}

	select {
	case task := <-f.queue.Tasks():
		assert.Equal(t, messaging.BackfillQueue, task.Type())
		var payload messaging.BackfillTaskPayload
		require.NoError(t, json.Unmarshal(task.Payload(), &payload))
		assert.Equal(t, userId, payload.UserId)
		assert.Equal(t, "HeartRate", payload.Metric)
		assert.Equal(t, "Average", payload.Aggregate)
		assert.ElementsMatch(t, []uuid.UUID{a1, a2}, payload.ActivityIds)
	default:
		t.Fatal("expected a backfill task")
	}

	// Statistic metrics need no backfill.
	_, err = f.training.CreateMetric(ctx, NewMetric{UserId: userId, Definition: caloriesDefinition()})
	require.NoError(t, err)
	select {
	case <-f.queue.Tasks():
		t.Fatal("unexpected task")
	default:
	}
}
