package utils

import (
	"context"
	"sync"
)

type CompletedTask[T any] struct {
	Result T
	Error  error
}

// RunInPool drains queue with at most maxWorkers goroutines and closes
// completed once every worker has returned. The queue must be closed by the
// caller. Once ctx is done the workers stop taking new items, so completed
// may hold fewer results than items queued.
func RunInPool[In any, Out any](ctx context.Context, worker func(context.Context, In) (Out, error), queue chan In, completed chan CompletedTask[Out], maxWorkers int) {
	workers := max(min(len(queue), maxWorkers), 1)

	go func() {
		wg := sync.WaitGroup{}
		wg.Add(workers)

		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()

				for {
					if ctx.Err() != nil {
						return
					}

					next, ok := <-queue
					if !ok {
						return
					}

					res, err := worker(ctx, next)
					completed <- CompletedTask[Out]{Result: res, Error: err}
				}
			}()
		}

		wg.Wait()

		close(completed)
	}()
}

// Collect runs the pool over items and returns the results in completion
// order along with the first error seen.
func Collect[In any, Out any](ctx context.Context, items []In, worker func(context.Context, In) (Out, error), maxWorkers int) ([]Out, error) {
	queue := make(chan In, len(items))
	for _, item := range items {
		queue <- item
	}
	close(queue)

	completed := make(chan CompletedTask[Out], len(items))
	RunInPool(ctx, worker, queue, completed, maxWorkers)

	var firstErr error
	results := make([]Out, 0, len(items))
	for task := range completed {
		if task.Error != nil {
			if firstErr == nil {
				firstErr = task.Error
			}
			continue
		}
		results = append(results, task.Result)
	}

	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}

	return results, firstErr
}
