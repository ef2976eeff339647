package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Task is a deferred unit of work submitted to a WorkQueue.
type Task[T any] func(ctx context.Context) (T, error)

// WorkQueue executes batches of tasks with bounded concurrency.
//
// Tasks start in submission order and results are returned in submission order.
// The first failure aborts the batch: tasks not yet started never run, and
// tasks that already completed are not rolled back.
type WorkQueue[T any] struct {
	concurrency int
	onTask      func(status string)
}

// NewWorkQueue creates a queue running at most concurrency tasks at once.
// A concurrency below 1 is treated as 1.
func NewWorkQueue[T any](concurrency int) *WorkQueue[T] {
	if concurrency < 1 {
		concurrency = 1
	}
	return &WorkQueue[T]{concurrency: concurrency}
}

// OnTask registers a hook called after every task with "ok", "failed" or "skipped".
func (q *WorkQueue[T]) OnTask(fn func(status string)) *WorkQueue[T] {
	q.onTask = fn
	return q
}

// Concurrency returns the configured concurrency.
func (q *WorkQueue[T]) Concurrency() int {
	return q.concurrency
}

// AddAll runs the batch and waits for it. On failure it returns the results of
// the tasks that completed, in submission order, together with the first error.
func (q *WorkQueue[T]) AddAll(ctx context.Context, tasks []Task[T]) ([]T, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.concurrency)

	results := make([]T, len(tasks))
	completed := make([]bool, len(tasks))

	for i, task := range tasks {
		if gctx.Err() != nil {
			q.report("skipped")
			continue
		}
		g.Go(func() error {
			// The previous task may have failed while this one waited for a slot.
			if gctx.Err() != nil {
				q.report("skipped")
				return nil
			}
			res, err := task(gctx)
			if err != nil {
				q.report("failed")
				return err
			}
			results[i] = res
			completed[i] = true
			q.report("ok")
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	out := make([]T, 0, len(tasks))
	for i, ok := range completed {
		if ok {
			out = append(out, results[i])
		}
	}
	return out, err
}

func (q *WorkQueue[T]) report(status string) {
	if q.onTask != nil {
		q.onTask(status)
	}
}
