package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue_PublishBackfillTask(t *testing.T) {
	queue := NewInMemoryQueue()
	defer queue.Close()

	payload := BackfillTaskPayload{
		UserId:      uuid.New(),
		Metric:      "HeartRate",
		Aggregate:   "Average",
		ActivityIds: []uuid.UUID{uuid.New()},
	}
	require.NoError(t, queue.PublishBackfillTask(context.Background(), payload))

	task := <-queue.Tasks()
	assert.Equal(t, BackfillQueue, task.Type())

	var decoded BackfillTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, payload, decoded)
	assert.NoError(t, task.Ack())
}

func TestInMemoryQueue_PublishAfterClose(t *testing.T) {
	queue := NewInMemoryQueue()
	queue.Close()
	queue.Close()

	err := queue.PublishBackfillTask(context.Background(), BackfillTaskPayload{})
	assert.ErrorIs(t, err, ErrQueueClosed)

	_, ok := <-queue.Tasks()
	assert.False(t, ok)
}

func TestInMemoryQueue_PublishRespectsContext(t *testing.T) {
	queue := NewInMemoryQueue()
	defer queue.Close()

	for i := 0; i < cap(queue.tasks); i++ {
		require.NoError(t, queue.PublishBackfillTask(context.Background(), BackfillTaskPayload{}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, queue.PublishBackfillTask(ctx, BackfillTaskPayload{}), context.Canceled)
}
