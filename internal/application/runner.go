package application

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/osmacc/internal/domain"
)

// TaskFunc processes one input of a run.
type TaskFunc[T, R any] func(ctx context.Context, index int, in T) (R, error)

type task[T any] struct {
	index int
	input T
}

type taskResult[R any] struct {
	index int
	value R
	err   error
}

// RunOrdered runs fn over inputs on a fixed pool of workers and returns the
// results in input order. Workers pull index-tagged tasks from a bounded
// queue; closing the queue stops them. Results arrive in completion order and
// are placed by index after every worker has joined. All tasks run to
// completion; any task error, panic or missing result fails the whole run.
// With workers <= 1 the tasks run sequentially in the calling goroutine.
func RunOrdered[T, R any](ctx context.Context, workers int, inputs []T, fn TaskFunc[T, R]) ([]R, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if workers <= 1 || len(inputs) == 1 {
		return runSequential(ctx, inputs, fn)
	}
	workers = min(workers, len(inputs))

	tasks := make(chan task[T], workers)
	results := make(chan taskResult[R], len(inputs))

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for t := range tasks {
				results <- runTask(ctx, t, fn)
			}
			return nil
		})
	}

	for i, in := range inputs {
		tasks <- task[T]{index: i, input: in}
	}
	close(tasks)
	_ = g.Wait()
	close(results)

	return collect(results, len(inputs))
}

func runSequential[T, R any](ctx context.Context, inputs []T, fn TaskFunc[T, R]) ([]R, error) {
	out := make([]R, len(inputs))
	for i, in := range inputs {
		res := runTask(ctx, task[T]{index: i, input: in}, fn)
		if res.err != nil {
			return nil, &domain.TaskError{Index: i, Err: res.err}
		}
		out[i] = res.value
	}
	return out, nil
}

// runTask converts a panic into a task error so a failing task cannot take
// the pool down or leave the result count short.
func runTask[T, R any](ctx context.Context, t task[T], fn TaskFunc[T, R]) (res taskResult[R]) {
	res.index = t.index
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic: %v", r)
		}
	}()
	res.value, res.err = fn(ctx, t.index, t.input)
	return res
}

func collect[R any](results <-chan taskResult[R], want int) ([]R, error) {
	out := make([]R, want)
	seen := make([]bool, want)
	got := 0
	var failed []*domain.TaskError

	for res := range results {
		got++
		if res.index < 0 || res.index >= want || seen[res.index] {
			return nil, fmt.Errorf("unexpected result for task %d: %w", res.index, domain.ErrIncompleteResults)
		}
		seen[res.index] = true
		if res.err != nil {
			failed = append(failed, &domain.TaskError{Index: res.index, Err: res.err})
			continue
		}
		out[res.index] = res.value
	}

	if got != want {
		return nil, fmt.Errorf("collected %d of %d results: %w", got, want, domain.ErrIncompleteResults)
	}
	if len(failed) > 0 {
		slices.SortFunc(failed, func(a, b *domain.TaskError) int { return a.Index - b.Index })
		errs := make([]error, len(failed))
		for i, f := range failed {
			errs[i] = f
		}
		return nil, errors.Join(errs...)
	}
	return out, nil
}
