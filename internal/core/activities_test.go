package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"training-backend/internal/core/types"
	"training-backend/internal/database"
	"training-backend/internal/messaging"
	"training-backend/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const activityBucket = "activities"

func runTcx(start time.Time, heartRates ...int) []byte {
	var points strings.Builder
	for i, hr := range heartRates {
		fmt.Fprintf(&points, `<Trackpoint><Time>%s</Time><HeartRateBpm><Value>%d</Value></HeartRateBpm></Trackpoint>`,
			start.Add(time.Duration(i)*time.Second).Format(time.RFC3339), hr)
	}
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<TrainingCenterDatabase xmlns="http://www.garmin.com/xmlschemas/TrainingCenterDatabase/v2">
  <Activities>
    <Activity Sport="Running">
      <Id>%[1]s</Id>
      <Lap StartTime="%[1]s">
        <TotalTimeSeconds>%[2]d</TotalTimeSeconds>
        <DistanceMeters>1000</DistanceMeters>
        <Calories>80</Calories>
        <Track>%[3]s</Track>
      </Lap>
    </Activity>
  </Activities>
</TrainingCenterDatabase>`, start.Format(time.RFC3339), len(heartRates), points.String()))
}

func newActivityService(t *testing.T, publisher messaging.Publisher) (*ActivityService, *storage.LocalProvider, *StoredTimeseriesProvider) {
	db := createDB(t)
	store, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)
	return NewActivityService(db, store, activityBucket, publisher), store, NewStoredTimeseriesProvider(db, store, activityBucket)
}

func TestUpload(t *testing.T) {
	service, store, _ := newActivityService(t, nil)
	userId := createUser(t, service.db)
	ctx := context.Background()

	morning := runTcx(day(1, 7), 120, 130)
	backwards := []byte(strings.Replace(string(runTcx(day(2, 7), 120, 130)), "07:00:01Z", "06:59:00Z", 1))

	result, err := service.Upload(ctx, userId, []UploadedFile{
		{Name: "morning run.tcx", Data: morning},
		{Name: "copy.tcx", Data: morning},
		{Name: "notes.gpx", Data: []byte("<gpx/>")},
		{Name: "broken.fit", Data: []byte("garbage")},
		{Name: "backwards.tcx", Data: backwards},
		{Name: "unreadable.tcx", ReadErr: errors.New("unexpected EOF")},
	})
	require.NoError(t, err)

	require.Len(t, result.CreatedIds, 1)
	assert.Equal(t, []UnprocessableFile{
		{Name: "copy.tcx", Reason: ReasonDuplicatedActivity},
		{Name: "notes.gpx", Reason: ReasonUnsupportedFileExtension},
		{Name: "broken.fit", Reason: ReasonCannotProcessFile},
		{Name: "backwards.tcx", Reason: ReasonIncoherentTimeseries},
		{Name: "unreadable.tcx", Reason: ReasonCannotReadContent},
	}, result.Unprocessed)

	activities, err := service.List(ctx, userId)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	a := activities[0]
	assert.Equal(t, "morning run", a.Name)
	assert.Equal(t, string(types.SportRunning), a.Sport)
	assert.Equal(t, 80.0, a.Statistics.Data()[string(types.StatisticCalories)])
	assert.True(t, day(1, 7).Equal(a.StartTime))

	data, err := store.GetObject(ctx, activityBucket, a.FileKey)
	require.NoError(t, err)
	assert.Equal(t, morning, data)

	// Another user may upload the same file.
	result, err = service.Upload(ctx, createUser(t, service.db), []UploadedFile{{Name: "morning run.tcx", Data: morning}})
	require.NoError(t, err)
	assert.Len(t, result.CreatedIds, 1)
}

func TestUpload_WarmsUpTimeseriesMetrics(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	service, _, _ := newActivityService(t, queue)
	userId := createUser(t, service.db)
	ctx := context.Background()

	_, err := NewMetricStore(service.db).Create(ctx, NewMetric{
		UserId:     userId,
		Definition: types.MetricDefinition{Source: averageHeartRate, Granularity: types.Weekly, Aggregate: types.AggregateAverage},
	})
	require.NoError(t, err)

	result, err := service.Upload(ctx, userId, []UploadedFile{{Name: "run.tcx", Data: runTcx(day(1, 7), 140)}})
	require.NoError(t, err)
	require.Len(t, result.CreatedIds, 1)

	var placeholder database.ActivityDerivedValue
	require.NoError(t, service.db.First(&placeholder, "activity_id = ?", result.CreatedIds[0]).Error)
	assert.False(t, placeholder.Computed)
	assert.Equal(t, "HeartRate", placeholder.Metric)

	select {
	case task := <-queue.Tasks():
		assert.Equal(t, messaging.BackfillQueue, task.Type())
	default:
		t.Fatal("expected a backfill task")
	}
}

func TestStoredTimeseriesProvider(t *testing.T) {
	service, _, provider := newActivityService(t, nil)
	userId := createUser(t, service.db)
	ctx := context.Background()

	result, err := service.Upload(ctx, userId, []UploadedFile{{Name: "run.tcx", Data: runTcx(day(1, 7), 140, 150, 160)}})
	require.NoError(t, err)
	require.Len(t, result.CreatedIds, 1)

	ts, err := provider.Timeseries(ctx, result.CreatedIds[0])
	require.NoError(t, err)
	assert.Equal(t, []float64{140, 150, 160}, ts.Values(types.MetricHeartRate))

	backfiller := NewBackfiller(service.db, provider, 2)
	values, err := backfiller.EnsureComputed(ctx, averageHeartRate.Key(), result.CreatedIds)
	require.NoError(t, err)
	v, ok := values[result.CreatedIds[0]].Get()
	require.True(t, ok)
	assert.Equal(t, 150.0, v)

	_, err = provider.Timeseries(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrActivityNotFound)
}

func TestStoredTimeseriesProvider_MissingFileIsUnreadable(t *testing.T) {
	service, store, provider := newActivityService(t, nil)
	userId := createUser(t, service.db)
	ctx := context.Background()

	result, err := service.Upload(ctx, userId, []UploadedFile{{Name: "run.tcx", Data: runTcx(day(1, 7), 140, 150)}})
	require.NoError(t, err)
	require.Len(t, result.CreatedIds, 1)

	var activity database.Activity
	require.NoError(t, service.db.First(&activity, "id = ?", result.CreatedIds[0]).Error)
	require.NoError(t, store.DeleteObject(ctx, activityBucket, activity.FileKey))

	_, err = provider.Timeseries(ctx, activity.Id)
	assert.ErrorIs(t, err, ErrUnreadableFile)
}

func TestListInPeriod(t *testing.T) {
	service, _, _ := newActivityService(t, nil)
	userId := createUser(t, service.db)
	ctx := context.Background()

	paris := time.FixedZone("", 2*3600)
	before := createActivity(t, service.db, userId, day(1, 7), types.SportRunning)
	first := createActivity(t, service.db, userId, day(3, 7), types.SportTrailRunning)
	ride := createActivity(t, service.db, userId, day(3, 9), types.SportCycling)
	lateLocal := createActivity(t, service.db, userId, time.Date(2025, 9, 5, 23, 30, 0, 0, paris), types.SportRunning)
	nextLocalDay := createActivity(t, service.db, userId, time.Date(2025, 9, 6, 0, 30, 0, 0, paris), types.SportRunning)
	createActivity(t, service.db, createUser(t, service.db), day(4, 7), types.SportRunning)

	end := day(5, 0)
	period := types.TrainingPeriod{
		Start:  day(2, 0),
		End:    &end,
		Sports: []types.SportFilter{{Category: ptr(types.CategoryRunning)}},
	}

	activities, err := service.ListInPeriod(ctx, userId, period)
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, a := range activities {
		ids = append(ids, a.Id)
	}
	assert.Equal(t, []uuid.UUID{lateLocal, first}, ids)
	assert.NotContains(t, ids, before)
	assert.NotContains(t, ids, ride)
	assert.NotContains(t, ids, nextLocalDay)

	period.End = nil
	activities, err = service.ListInPeriod(ctx, userId, period)
	require.NoError(t, err)
	assert.Len(t, activities, 3)
}

func TestUpdateActivity(t *testing.T) {
	service, _, _ := newActivityService(t, nil)
	userId := createUser(t, service.db)
	ctx := context.Background()

	id := createActivity(t, service.db, userId, day(1, 7), types.SportRunning)

	require.NoError(t, service.Update(ctx, userId, id, ActivityUpdate{
		Name:        ptr("Long run"),
		Rpe:         ptr(7),
		WorkoutType: ptr("long_run"),
		BonkStatus:  ptr("bonked"),
	}))

	facts, err := service.ListFacts(ctx, userId, day(1, 0), day(2, 0))
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, types.Rpe(7), *facts[0].Rpe)
	assert.Equal(t, types.WorkoutLongRun, *facts[0].WorkoutType)
	assert.Equal(t, types.BonkBonked, *facts[0].BonkStatus)

	require.NoError(t, service.Update(ctx, userId, id, ActivityUpdate{ClearRpe: true, ClearBonkStatus: true, BonkStatus: ptr("maybe")}))

	facts, err = service.ListFacts(ctx, userId, day(1, 0), day(2, 0))
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Nil(t, facts[0].Rpe)
	assert.Nil(t, facts[0].BonkStatus)
	assert.Equal(t, types.WorkoutLongRun, *facts[0].WorkoutType)

	require.NoError(t, service.Update(ctx, userId, id, ActivityUpdate{ClearWorkoutType: true}))
	facts, err = service.ListFacts(ctx, userId, day(1, 0), day(2, 0))
	require.NoError(t, err)
	assert.Nil(t, facts[0].WorkoutType)

	assert.ErrorIs(t, service.Update(ctx, userId, id, ActivityUpdate{}), ErrEmptyUpdate)
	assert.ErrorIs(t, service.Update(ctx, userId, id, ActivityUpdate{Rpe: ptr(11)}), ErrInvalidActivity)
	assert.ErrorIs(t, service.Update(ctx, userId, id, ActivityUpdate{WorkoutType: ptr("jog")}), ErrInvalidActivity)
	assert.ErrorIs(t, service.Update(ctx, userId, id, ActivityUpdate{BonkStatus: ptr("maybe")}), ErrInvalidActivity)
	assert.ErrorIs(t, service.Update(ctx, userId, id, ActivityUpdate{Name: ptr("  ")}), ErrInvalidActivity)
	assert.ErrorIs(t, service.Update(ctx, uuid.New(), id, ActivityUpdate{Rpe: ptr(5)}), ErrActivityNotFound)
}

func TestDeleteActivityRemovesFile(t *testing.T) {
	service, store, _ := newActivityService(t, nil)
	userId := createUser(t, service.db)
	ctx := context.Background()

	result, err := service.Upload(ctx, userId, []UploadedFile{{Name: "run.tcx", Data: runTcx(day(1, 7), 140)}})
	require.NoError(t, err)
	require.Len(t, result.CreatedIds, 1)

	objects, err := store.ListObjects(ctx, activityBucket, userId.String())
	require.NoError(t, err)
	require.Len(t, objects, 1)

	assert.ErrorIs(t, service.Delete(ctx, createUser(t, service.db), result.CreatedIds[0]), ErrActivityNotFound)
	require.NoError(t, service.Delete(ctx, userId, result.CreatedIds[0]))

	objects, err = store.ListObjects(ctx, activityBucket, userId.String())
	require.NoError(t, err)
	assert.Empty(t, objects)
}
