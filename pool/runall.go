package pool

import (
	"context"
	"errors"
	"fmt"
)

// Mode selects how RunAll reports failures.
type Mode int

const (
	// CollectAll waits for every task and returns all results together with
	// the joined errors of the failed ones.
	CollectAll Mode = iota
	// FailFast returns as soon as any task fails. Tasks still running are
	// not cancelled; they settle in the background.
	FailFast
)

func (m Mode) String() string {
	switch m {
	case CollectAll:
		return "collect-all"
	case FailFast:
		return "fail-fast"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Result is the outcome of one task in a RunAll batch.
type Result[T any] struct {
	ID    string
	Value T
	Err   error
}

// TaskError ties a failure in a RunAll batch to the task's position.
type TaskError struct {
	Index int
	ID    string
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d (%s): %v", e.Index, e.ID, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// RunAll runs tasks on a new pool bounded by concurrency and returns their
// results in submission order.
//
// In CollectAll mode the returned error is errors.Join of a *TaskError per
// failed task, or nil. In FailFast mode RunAll returns nil results and the
// first failure's *TaskError as soon as it is observed. In both modes RunAll
// returns ctx.Err() if ctx ends before the batch is done.
func RunAll[T any](ctx context.Context, concurrency int, tasks []Task[T], mode Mode, opts ...Option) ([]Result[T], error) {
	p, err := New[T](concurrency, opts...)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	futures := make([]*Future[T], len(tasks))
	for i, task := range tasks {
		f, err := p.Add(ctx, task)
		if err != nil {
			return nil, err
		}
		futures[i] = f
	}

	if mode == FailFast {
		return waitFailFast(ctx, futures)
	}
	return waitAll(ctx, futures)
}

func waitAll[T any](ctx context.Context, futures []*Future[T]) ([]Result[T], error) {
	results := make([]Result[T], len(futures))
	var errs []error
	for i, f := range futures {
		select {
		case <-f.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		v, err := f.result()
		results[i] = Result[T]{ID: f.ID(), Value: v, Err: err}
		if err != nil {
			errs = append(errs, &TaskError{Index: i, ID: f.ID(), Err: err})
		}
	}
	return results, errors.Join(errs...)
}

func waitFailFast[T any](ctx context.Context, futures []*Future[T]) ([]Result[T], error) {
	settled := make(chan int, len(futures))
	for i, f := range futures {
		go func() {
			<-f.Done()
			settled <- i
		}()
	}

	for range futures {
		select {
		case i := <-settled:
			f := futures[i]
			if _, err := f.result(); err != nil {
				return nil, &TaskError{Index: i, ID: f.ID(), Err: err}
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	results := make([]Result[T], len(futures))
	for i, f := range futures {
		v, err := f.result()
		results[i] = Result[T]{ID: f.ID(), Value: v, Err: err}
	}
	return results, nil
}
