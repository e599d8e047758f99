package core

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"training-backend/internal/core/types"
	"training-backend/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T, create ...any) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	// Every connection to :memory: opens a new empty database.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.GetMigrator(db).Migrate())

	for _, c := range create {
		require.NoError(t, db.Create(c).Error)
	}

	return db
}

func createUser(t *testing.T, db *gorm.DB) uuid.UUID {
	user := database.User{Id: uuid.New(), Email: uuid.NewString() + "@example.com", PasswordHash: "x", CreationTime: time.Now()}
	require.NoError(t, db.Create(&user).Error)
	return user.Id
}

type activityOption func(*database.Activity)

func withRpe(rpe int) activityOption {
	return func(a *database.Activity) { a.Rpe = sql.NullInt16{Int16: int16(rpe), Valid: true} }
}

func withWorkoutType(w types.WorkoutType) activityOption {
	return func(a *database.Activity) { a.WorkoutType = sql.NullString{String: string(w), Valid: true} }
}

func withBonk(b types.BonkStatus) activityOption {
	return func(a *database.Activity) { a.BonkStatus = sql.NullString{String: string(b), Valid: true} }
}

func withStatistic(stat types.ActivityStatistic, v float64) activityOption {
	return func(a *database.Activity) {
		stats := a.Statistics.Data()
		stats[string(stat)] = v
		a.Statistics = datatypes.NewJSONType(stats)
	}
}

func createActivity(t *testing.T, db *gorm.DB, userId uuid.UUID, start time.Time, sport types.Sport, opts ...activityOption) uuid.UUID {
	_, offset := start.Zone()
	activity := database.Activity{
		Id:               uuid.New(),
		UserId:           userId,
		Name:             "activity",
		StartTime:        start.UTC(),
		UtcOffsetSeconds: offset,
		Sport:            string(sport),
		Statistics:       datatypes.NewJSONType(map[string]float64{}),
		ContentHash:      uuid.NewString(),
	}
	activity.FileKey = fmt.Sprintf("%s/%s.tcx", userId, activity.Id)
	for _, opt := range opts {
		opt(&activity)
	}
	require.NoError(t, db.Create(&activity).Error)
	return activity.Id
}

// fakeTimeseriesProvider serves in-memory series and counts how many times
// each activity was parsed.
type fakeTimeseriesProvider struct {
	mu     sync.Mutex
	series map[uuid.UUID]*types.ActivityTimeseries
	fail   map[uuid.UUID]error
	calls  map[uuid.UUID]int
	delay  time.Duration
}

func newFakeTimeseriesProvider() *fakeTimeseriesProvider {
	return &fakeTimeseriesProvider{
		series: make(map[uuid.UUID]*types.ActivityTimeseries),
		fail:   make(map[uuid.UUID]error),
		calls:  make(map[uuid.UUID]int),
	}
}

func (p *fakeTimeseriesProvider) add(id uuid.UUID, metric types.TimeseriesMetric, samples ...float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := types.NewActivityTimeseries(len(samples))
	for i := range samples {
		ts.Time = append(ts.Time, time.Duration(i)*time.Second)
	}
	ts.Channels[metric] = samples
	p.series[id] = ts
}

func (p *fakeTimeseriesProvider) Timeseries(ctx context.Context, activityId uuid.UUID) (*types.ActivityTimeseries, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls[activityId]++
	if err := p.fail[activityId]; err != nil {
		return nil, err
	}
	if ts, ok := p.series[activityId]; ok {
		return ts, nil
	}
	return types.NewActivityTimeseries(0), nil
}

func (p *fakeTimeseriesProvider) callCount(id uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

var nan = math.NaN()

func ptr[T any](v T) *T {
	return &v
}
