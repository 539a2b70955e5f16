// Package executor runs batches of remote operations with a cap on how many
// are in flight at once.
package executor

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is one unit of work submitted to RunBounded.
type Task[T any] func(ctx context.Context) (T, error)

// RunBounded runs tasks with at most limit of them in flight.
//
// Results are returned in task order regardless of completion order. A failed
// task does not cancel its siblings: every task runs to completion and the
// first error observed is returned once all of them have settled. Slots of
// failed tasks hold the zero value. A limit below 1 is treated as 1.
func RunBounded[T any](ctx context.Context, limit int, tasks []Task[T]) ([]T, error) {
	if limit < 1 {
		limit = 1
	}

	results := make([]T, len(tasks))
	var g errgroup.Group
	g.SetLimit(limit)

	for i, task := range tasks {
		g.Go(func() error {
			v, err := task(ctx)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}

	return results, g.Wait()
}

// Swallow wraps task so that its error is logged under label and dropped.
// Delete flows use it to keep going after a partial failure.
func Swallow[T any](logger *zap.Logger, label string, task Task[T]) Task[T] {
	return func(ctx context.Context) (T, error) {
		v, err := task(ctx)
		if err != nil {
			logger.Warn("task failed", zap.String("task", label), zap.Error(err))
			var zero T
			return zero, nil
		}
		return v, nil
	}
}

// Do adapts an error-only function into a Task.
func Do(fn func(ctx context.Context) error) Task[struct{}] {
	return func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}
}
