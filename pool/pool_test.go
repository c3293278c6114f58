package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Keksclan/rawrcache/ratelimit"
	"github.com/Keksclan/rawrcache/tracing"
)

func newPool[T any](t *testing.T, concurrency int, opts ...Option) *Pool[T] {
	t.Helper()
	p, err := New[T](concurrency, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func waitIdle(t *testing.T, p interface{ Wait(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
}

func TestNew_InvalidConcurrency(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := New[int](n)
		require.ErrorIs(t, err, ErrInvalidConcurrency)
	}
}

func TestPool_NeverExceedsConcurrency(t *testing.T) {
	p := newPool[int](t, 3)

	var running, peak atomic.Int32
	release := make(chan struct{})
	task := func(context.Context) (int, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return 0, nil
	}

	for range 10 {
		_, err := p.Add(t.Context(), task)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return running.Load() == 3 }, time.Second, time.Millisecond)
	st := p.Stats()
	assert.Equal(t, 3, st.Running)
	assert.Equal(t, 7, st.Queued)

	close(release)
	waitIdle(t, p)
	assert.Equal(t, int32(3), peak.Load())
	assert.Equal(t, int64(10), p.Stats().Completed)
}

func TestPool_StartsQueuedTasksInFIFOOrder(t *testing.T) {
	p := newPool[int](t, 1)

	release := make(chan struct{})
	_, err := p.Add(t.Context(), func(context.Context) (int, error) {
		<-release
		return 0, nil
	})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []int
	)
	futures := make([]*Future[int], 5)
	for i := range 5 {
		f, err := p.Add(t.Context(), func(context.Context) (int, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
		require.NoError(t, err)
		assert.Equal(t, StateQueued, f.State())
		futures[i] = f
	}

	close(release)
	waitIdle(t, p)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	for i, f := range futures {
		v, err := f.Wait(t.Context())
		require.NoError(t, err)
		assert.Equal(t, i, v)
		assert.Equal(t, StateSettled, f.State())
	}
}

func TestPool_FailureIsIsolatedAndNotRetried(t *testing.T) {
	p := newPool[string](t, 2)
	boom := errors.New("boom")

	var calls atomic.Int32
	bad, err := p.Add(t.Context(), func(context.Context) (string, error) {
		calls.Add(1)
		return "", boom
	})
	require.NoError(t, err)
	good, err := p.Add(t.Context(), func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)

	_, err = bad.Wait(t.Context())
	require.ErrorIs(t, err, boom)
	v, err := good.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	waitIdle(t, p)
	assert.Equal(t, int32(1), calls.Load())
	st := p.Stats()
	assert.Equal(t, int64(1), st.Completed)
	assert.Equal(t, int64(1), st.Failed)
}

func TestPool_PanicFreesSlot(t *testing.T) {
	p := newPool[int](t, 1)

	f, err := p.Add(t.Context(), func(context.Context) (int, error) { panic("kaboom") })
	require.NoError(t, err)
	next, err := p.Add(t.Context(), func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	_, err = f.Wait(t.Context())
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)

	v, err := next.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestPool_DoneContextSettlesWithoutRunning(t *testing.T) {
	p := newPool[int](t, 1)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	var ran atomic.Bool
	f, err := p.Add(ctx, func(context.Context) (int, error) {
		ran.Store(true)
		return 1, nil
	})
	require.NoError(t, err)

	_, err = f.Wait(t.Context())
	require.ErrorIs(t, err, context.Canceled)
	waitIdle(t, p)
	assert.False(t, ran.Load())
}

func TestPool_NilContextRunsWithBackground(t *testing.T) {
	p := newPool[int](t, 1, WithRateLimiter(ratelimit.NewLimiter(1000, 1)))
	var nilCtx context.Context

	f, err := p.Add(nilCtx, func(ctx context.Context) (int, error) {
		if ctx == nil {
			return 0, errors.New("task received a nil context")
		}
		return 7, nil
	})
	require.NoError(t, err)

	v, err := f.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	waitIdle(t, p)
}

func TestPool_CancelWhileQueued(t *testing.T) {
	p := newPool[int](t, 1)
	release := make(chan struct{})
	_, err := p.Add(t.Context(), func(context.Context) (int, error) {
		<-release
		return 0, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	var ran atomic.Bool
	f, err := p.Add(ctx, func(context.Context) (int, error) {
		ran.Store(true)
		return 1, nil
	})
	require.NoError(t, err)
	cancel()
	close(release)

	_, err = f.Wait(t.Context())
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load())
}

func TestFuture_WaitTimeoutLeavesTaskRunning(t *testing.T) {
	p := newPool[string](t, 1)
	release := make(chan struct{})
	f, err := p.Add(t.Context(), func(context.Context) (string, error) {
		<-release
		return "done", nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err = f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateRunning, f.State())

	close(release)
	v, err := f.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "done", v)

	added, started, settled := f.Timing()
	assert.False(t, added.IsZero())
	assert.False(t, started.Before(added))
	assert.False(t, settled.Before(started))
}

func TestPool_WaitOnEmptyPool(t *testing.T) {
	p := newPool[int](t, 2)
	waitIdle(t, p)
}

func TestPool_WaitHonoursContext(t *testing.T) {
	p := newPool[int](t, 1)
	release := make(chan struct{})
	defer close(release)
	_, err := p.Add(t.Context(), func(context.Context) (int, error) {
		<-release
		return 0, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Wait(ctx), context.DeadlineExceeded)
}

func TestPool_CloseRejectsNewTasksButDrainsQueue(t *testing.T) {
	p := newPool[int](t, 1)
	release := make(chan struct{})
	_, err := p.Add(t.Context(), func(context.Context) (int, error) {
		<-release
		return 0, nil
	})
	require.NoError(t, err)
	queued, err := p.Add(t.Context(), func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	_, err = p.Add(t.Context(), func(context.Context) (int, error) { return 3, nil })
	require.ErrorIs(t, err, ErrClosed)

	close(release)
	v, err := queued.Wait(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestPool_TaskIDsAreUnique(t *testing.T) {
	p := newPool[int](t, 4)
	seen := map[string]bool{}
	for range 100 {
		f, err := p.Add(t.Context(), func(context.Context) (int, error) { return 0, nil })
		require.NoError(t, err)
		require.Len(t, f.ID(), 21)
		require.False(t, seen[f.ID()])
		seen[f.ID()] = true
	}
	waitIdle(t, p)
}

func TestPool_RateLimiterPacesStarts(t *testing.T) {
	p := newPool[int](t, 4, WithRateLimiter(ratelimit.NewLimiter(50, 1)))

	start := time.Now()
	for range 4 {
		_, err := p.Add(t.Context(), func(context.Context) (int, error) { return 0, nil })
		require.NoError(t, err)
	}
	waitIdle(t, p)
	// One token up front, three more at 20ms intervals.
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestPool_TracesTasks(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	p := newPool[int](t, 2, WithName("jobs"), WithTracing(&tracing.Config{TracerProvider: tp}))
	f, err := p.Add(t.Context(), func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	waitIdle(t, p)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "pool.task", spans[0].Name())
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "jobs", attrs["rawrcache.name"])
	assert.Equal(t, f.ID(), attrs["rawrcache.task.id"])
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "queued", StateQueued.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "settled", StateSettled.String())
}
