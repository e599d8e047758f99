package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"training-backend/internal/core/types"
	"training-backend/internal/messaging"
)

// TaskProcessor runs the backfill tasks queued by uploads and metric
// creation.
type TaskProcessor struct {
	backfiller *Backfiller
	reciever   messaging.Reciever

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTaskProcessor(backfiller *Backfiller, reciever messaging.Reciever) *TaskProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskProcessor{
		backfiller: backfiller,
		reciever:   reciever,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start consumes tasks until the reciever is closed or Stop is called.
func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	proc.wg.Add(1)
	defer proc.wg.Done()

	for {
		select {
		case task, ok := <-proc.reciever.Tasks():
			if !ok {
				return
			}
			proc.ProcessTask(proc.ctx, task)
		case <-proc.ctx.Done():
			return
		}
	}
}

// Stop cancels the running task and waits for Start to return. Partially
// backfilled keys are finished by the next query.
func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.cancel()
	proc.reciever.Close()
	proc.wg.Wait()
}

func (proc *TaskProcessor) ProcessTask(ctx context.Context, task messaging.Task) {
	var err error
	switch task.Type() {

	case messaging.BackfillQueue:
		var payload messaging.BackfillTaskPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling backfill task", "error", err)
			if err := task.Reject(); err != nil {
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processBackfillTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) processBackfillTask(ctx context.Context, payload messaging.BackfillTaskPayload) error {
	metric, err := types.ParseTimeseriesMetric(payload.Metric)
	if err != nil {
		return err
	}
	aggregate, err := types.ParseTimeseriesAggregate(payload.Aggregate)
	if err != nil {
		return err
	}
	key := types.DerivedMetricKey{Metric: metric, Aggregate: aggregate}

	slog.Info("processing backfill task", "user_id", payload.UserId, "key", key.String(), "activities", len(payload.ActivityIds))

	if len(payload.ActivityIds) == 0 {
		n, err := proc.backfiller.Backfill(ctx, payload.UserId, key)
		if err != nil {
			return fmt.Errorf("error backfilling %s: %w", key, err)
		}
		slog.Info("backfilled user history", "user_id", payload.UserId, "key", key.String(), "activities", n)
		return nil
	}

	if _, err := proc.backfiller.EnsureComputed(ctx, key, payload.ActivityIds); err != nil {
		return fmt.Errorf("error backfilling %s: %w", key, err)
	}
	return nil
}
