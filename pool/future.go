package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// State is the lifecycle position of a task.
type State int32

const (
	StateQueued State = iota
	StateRunning
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateSettled:
		return "settled"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Future is the handle to a submitted task.
type Future[T any] struct {
	id   string
	ctx  context.Context
	task Task[T]

	state atomic.Int32
	done  chan struct{}

	// Written once before done is closed.
	val       T
	err       error
	addedAt   time.Time
	startedAt time.Time
	settledAt time.Time
}

// ID returns the task's unique identifier.
func (f *Future[T]) ID() string { return f.id }

// State returns the task's current state.
func (f *Future[T]) State() State { return State(f.state.Load()) }

// Done returns a channel that is closed once the task has settled.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Wait blocks until the task settles and returns its outcome. If ctx ends
// first Wait returns ctx.Err(); the task itself is unaffected.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Timing reports when the task was added, started and settled. Until the
// task settles only the add time is reported.
func (f *Future[T]) Timing() (added, started, settled time.Time) {
	select {
	case <-f.done:
		return f.addedAt, f.startedAt, f.settledAt
	default:
		return f.addedAt, time.Time{}, time.Time{}
	}
}

// result returns the outcome. The caller must have observed Done.
func (f *Future[T]) result() (T, error) { return f.val, f.err }

func (f *Future[T]) settle(v T, err error) {
	f.val, f.err = v, err
	f.settledAt = time.Now()
	f.state.Store(int32(StateSettled))
	close(f.done)
}
