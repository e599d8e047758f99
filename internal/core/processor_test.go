package core

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"training-backend/internal/core/types"
	"training-backend/internal/database"
	"training-backend/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTask struct {
	queue   string
	payload []byte
	result  string
}

func (t *recordingTask) Type() string    { return t.queue }
func (t *recordingTask) Payload() []byte { return t.payload }
func (t *recordingTask) Ack() error      { t.result = "ack"; return nil }
func (t *recordingTask) Nack() error     { t.result = "nack"; return nil }
func (t *recordingTask) Reject() error   { t.result = "reject"; return nil }

func backfillTask(t *testing.T, payload messaging.BackfillTaskPayload) *recordingTask {
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &recordingTask{queue: messaging.BackfillQueue, payload: data}
}

func computedCount(t *testing.T, f *trainingFixture) int64 {
	var n int64
	require.NoError(t, f.db.Model(&database.ActivityDerivedValue{}).Where("computed = ?", true).Count(&n).Error)
	return n
}

func TestProcessTask(t *testing.T) {
	f := newTrainingFixture(t)
	userId := createUser(t, f.db)
	proc := NewTaskProcessor(NewBackfiller(f.db, f.provider, 2), f.queue)
	ctx := context.Background()

	a1 := createActivity(t, f.db, userId, day(1, 8), types.SportRunning)
	a2 := createActivity(t, f.db, userId, day(2, 8), types.SportRunning)
	f.provider.add(a1, types.MetricHeartRate, 140)
	f.provider.add(a2, types.MetricHeartRate, 160)

	task := backfillTask(t, messaging.BackfillTaskPayload{UserId: userId, Metric: "HeartRate", Aggregate: "Max", ActivityIds: []uuid.UUID{a1}})
	proc.ProcessTask(ctx, task)
	assert.Equal(t, "ack", task.result)
	assert.EqualValues(t, 1, computedCount(t, f))

	// Without ids the whole history is backfilled.
	task = backfillTask(t, messaging.BackfillTaskPayload{UserId: userId, Metric: "HeartRate", Aggregate: "Max"})
	proc.ProcessTask(ctx, task)
	assert.Equal(t, "ack", task.result)
	assert.EqualValues(t, 2, computedCount(t, f))
	assert.Equal(t, 1, f.provider.callCount(a1))

	task = backfillTask(t, messaging.BackfillTaskPayload{UserId: userId, Metric: "Torque", Aggregate: "Max"})
	proc.ProcessTask(ctx, task)
	assert.Equal(t, "nack", task.result)

	task = &recordingTask{queue: messaging.BackfillQueue, payload: []byte("{")}
	proc.ProcessTask(ctx, task)
	assert.Equal(t, "reject", task.result)

	task = &recordingTask{queue: "unknown_queue", payload: []byte("{}")}
	proc.ProcessTask(ctx, task)
	assert.Equal(t, "reject", task.result)
}

func TestTaskProcessor_ConsumesQueue(t *testing.T) {
	f := newTrainingFixture(t)
	userId := createUser(t, f.db)
	proc := NewTaskProcessor(NewBackfiller(f.db, f.provider, 2), f.queue)

	a1 := createActivity(t, f.db, userId, day(1, 8), types.SportRunning)
	f.provider.add(a1, types.MetricHeartRate, 140)

	go proc.Start()
	defer proc.Stop()

	def := types.MetricDefinition{Source: averageHeartRate, Granularity: types.Daily, Aggregate: types.AggregateMax}
	_, err := f.training.CreateMetric(context.Background(), NewMetric{UserId: userId, Definition: def})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		var n int64
		err := f.db.Model(&database.ActivityDerivedValue{}).Where("activity_id = ? AND computed = ?", a1, true).Count(&n).Error
		return err == nil && n == 1
	}, 5*time.Second, 10*time.Millisecond)
}
