// Package pool runs asynchronous tasks with a fixed upper bound on how many
// run at once. Tasks beyond the bound wait in a FIFO queue and start, in
// submission order, as running tasks settle. The pool never retries.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/Keksclan/rawrcache/metrics"
	"github.com/Keksclan/rawrcache/ratelimit"
	"github.com/Keksclan/rawrcache/tracing"
)

var (
	// ErrInvalidConcurrency is returned by New for a concurrency below one.
	ErrInvalidConcurrency = errors.New("pool: concurrency must be positive")
	// ErrClosed is returned by Add after Close.
	ErrClosed = errors.New("pool: closed")
)

// PanicError is the outcome of a task that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("pool: task panicked: %v", e.Value)
}

// Task is a unit of work. It receives the context it was added with.
type Task[T any] func(ctx context.Context) (T, error)

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Running   int   `json:"running"`
	Queued    int   `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Pool is a bounded task pool. Construct with New.
type Pool[T any] struct {
	mu          sync.Mutex
	concurrency int
	running     int
	queue       []*Future[T]
	outstanding int           // queued + running
	idle        chan struct{} // closed while outstanding == 0
	closed      bool

	completed atomic.Int64
	failed    atomic.Int64

	name    string
	log     *slog.Logger
	metrics metrics.PoolMetrics
	tracing *tracing.Config
	limiter *ratelimit.Limiter
}

// New creates a pool that runs at most concurrency tasks at once.
func New[T any](concurrency int, opts ...Option) (*Pool[T], error) {
	if concurrency < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidConcurrency, concurrency)
	}
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	idle := make(chan struct{})
	close(idle)
	return &Pool[T]{
		concurrency: concurrency,
		idle:        idle,
		name:        cfg.name,
		log:         cfg.log.With(slog.String("pool", cfg.name)),
		metrics:     cfg.metrics,
		tracing:     cfg.tracing,
		limiter:     cfg.limiter,
	}, nil
}

// Concurrency returns the configured bound.
func (p *Pool[T]) Concurrency() int { return p.concurrency }

// Add submits task. It starts at once when a slot is free and is queued
// otherwise. The returned Future settles with the task's outcome. ctx is
// passed to the task; if it is already done when the task would start, the
// task settles with ctx.Err() without running. A nil ctx is treated as
// context.Background().
func (p *Pool[T]) Add(ctx context.Context, task Task[T]) (*Future[T], error) {
	if ctx == nil {
		ctx = context.Background()
	}
	f := &Future[T]{
		id:      gonanoid.Must(),
		ctx:     ctx,
		task:    task,
		done:    make(chan struct{}),
		addedAt: time.Now(),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	if p.outstanding == 0 {
		p.idle = make(chan struct{})
	}
	p.outstanding++

	if p.running < p.concurrency {
		p.running++
		f.state.Store(int32(StateRunning))
		running := p.running
		p.mu.Unlock()

		p.metrics.Running(p.name, running)
		go p.run(f)
		return f, nil
	}

	f.state.Store(int32(StateQueued))
	p.queue = append(p.queue, f)
	queued := len(p.queue)
	p.mu.Unlock()

	p.metrics.Queued(p.name, queued)
	p.log.Debug("task queued", slog.String("task", f.id), slog.Int("queued", queued))
	return f, nil
}

// run executes f and then keeps the slot busy with queued tasks until the
// queue is empty.
func (p *Pool[T]) run(f *Future[T]) {
	for f != nil {
		p.execute(f)
		f = p.next()
	}
}

// next accounts for a settled task and hands its slot to the head of the
// queue, if any.
func (p *Pool[T]) next() *Future[T] {
	p.mu.Lock()
	p.outstanding--
	if len(p.queue) > 0 {
		f := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		f.state.Store(int32(StateRunning))
		queued := len(p.queue)
		p.mu.Unlock()

		p.metrics.Queued(p.name, queued)
		return f
	}
	p.running--
	running := p.running
	if p.outstanding == 0 {
		close(p.idle)
	}
	p.mu.Unlock()

	p.metrics.Running(p.name, running)
	return nil
}

func (p *Pool[T]) execute(f *Future[T]) {
	f.startedAt = time.Now()

	var (
		v   T
		err = f.ctx.Err()
	)
	if err == nil && p.limiter != nil {
		err = p.limiter.Wait(f.ctx)
	}
	if err == nil {
		v, err = p.invoke(f)
	}

	if err != nil {
		p.failed.Add(1)
		p.log.Debug("task failed", slog.String("task", f.id), slog.Any("error", err))
	} else {
		p.completed.Add(1)
	}
	p.metrics.TaskSettled(p.name, err == nil)
	f.settle(v, err)
}

func (p *Pool[T]) invoke(f *Future[T]) (v T, err error) {
	ctx, span := p.tracing.Start(f.ctx, "pool.task",
		tracing.AttrName.String(p.name),
		tracing.AttrTaskID.String(f.id),
		tracing.AttrQueued.Int64(f.startedAt.Sub(f.addedAt).Milliseconds()),
	)
	timer := p.metrics.TaskDuration(p.name)
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
			p.log.Error("task panicked", slog.String("task", f.id), slog.Any("panic", r))
		}
		timer.ObserveDuration()
		tracing.End(span, err)
	}()
	return f.task(ctx)
}

// Wait blocks until every submitted task has settled and the queue is
// empty, or ctx is done.
func (p *Pool[T]) Wait(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the pool from accepting tasks. Tasks already added, running
// or queued, still run to completion; use Wait to drain them. Close is safe
// to call multiple times.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	running, queued := p.running, len(p.queue)
	p.mu.Unlock()
	return Stats{
		Running:   running,
		Queued:    queued,
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}
