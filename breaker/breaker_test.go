package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/Keksclan/rawrcache/clock"
)

func newTestBreaker(cfg Config) (*Breaker, *clock.Fake) {
	clk := clock.NewFake(time.Time{})
	cfg.Clock = clk
	return New(cfg), clk
}

func TestClosedToOpen(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold:   3,
		OpenTimeout:        5 * time.Second,
		HalfOpenMaxSuccess: 1,
	})

	if s := b.State(); s != Closed {
		t.Fatalf("expected Closed, got %s", s)
	}

	b.OnFailure()
	b.OnFailure()
	if s := b.State(); s != Closed {
		t.Fatalf("expected Closed after 2 failures, got %s", s)
	}

	b.OnFailure() // 3rd failure => trip
	if s := b.State(); s != Open {
		t.Fatalf("expected Open after 3 failures, got %s", s)
	}
}

func TestOpenBlocks(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold:   1,
		OpenTimeout:        5 * time.Second,
		HalfOpenMaxSuccess: 1,
	})

	b.OnFailure() // trip
	if b.Allow() {
		t.Fatal("expected Allow()=false in Open state")
	}
}

func TestOpenToHalfOpenAfterTimeout(t *testing.T) {
	b, now := newTestBreaker(Config{
		FailureThreshold:   1,
		OpenTimeout:        5 * time.Second,
		HalfOpenMaxSuccess: 2,
	})

	b.OnFailure() // trip to Open
	if b.Allow() {
		t.Fatal("expected blocked in Open")
	}

	// Advance time past OpenTimeout
	now.Advance(6 * time.Second)

	if s := b.State(); s != HalfOpen {
		t.Fatalf("expected HalfOpen after timeout, got %s", s)
	}
	if !b.Allow() {
		t.Fatal("expected Allow()=true in HalfOpen")
	}
}

func TestHalfOpenSuccessToClosed(t *testing.T) {
	b, now := newTestBreaker(Config{
		FailureThreshold:   1,
		OpenTimeout:        5 * time.Second,
		HalfOpenMaxSuccess: 2,
	})

	b.OnFailure()
	now.Advance(6 * time.Second)

	// Now in HalfOpen
	if s := b.State(); s != HalfOpen {
		t.Fatalf("expected HalfOpen, got %s", s)
	}

	b.OnSuccess()
	if s := b.State(); s != HalfOpen {
		t.Fatalf("expected still HalfOpen after 1 success, got %s", s)
	}

	b.OnSuccess() // 2nd success => close
	if s := b.State(); s != Closed {
		t.Fatalf("expected Closed after %d successes, got %s", 2, s)
	}
}

func TestHalfOpenFailureToOpen(t *testing.T) {
	b, now := newTestBreaker(Config{
		FailureThreshold:   1,
		OpenTimeout:        5 * time.Second,
		HalfOpenMaxSuccess: 3,
	})

	b.OnFailure()
	now.Advance(6 * time.Second)

	if s := b.State(); s != HalfOpen {
		t.Fatalf("expected HalfOpen, got %s", s)
	}

	b.OnFailure() // any failure in HalfOpen => Open
	if s := b.State(); s != Open {
		t.Fatalf("expected Open after HalfOpen failure, got %s", s)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold:   3,
		OpenTimeout:        5 * time.Second,
		HalfOpenMaxSuccess: 1,
	})

	b.OnFailure()
	b.OnFailure()
	b.OnSuccess() // resets count
	b.OnFailure()
	b.OnFailure()
	// Only 2 consecutive failures after reset, should still be Closed
	if s := b.State(); s != Closed {
		t.Fatalf("expected Closed, got %s", s)
	}
}

func TestHalfOpenProbeLimit(t *testing.T) {
	b, now := newTestBreaker(Config{
		FailureThreshold:   1,
		OpenTimeout:        5 * time.Second,
		HalfOpenMaxSuccess: 2,
	})

	b.OnFailure()
	now.Advance(6 * time.Second)

	// HalfOpen allows up to HalfOpenMaxSuccess probes
	if !b.Allow() {
		t.Fatal("expected first probe allowed")
	}
	b.OnSuccess() // successes=1

	if !b.Allow() {
		t.Fatal("expected second probe allowed")
	}
	// After HalfOpenMaxSuccess successes recorded, further Allow should
	// still work because we haven't called OnSuccess yet for the second probe.
	// But once we do:
	b.OnSuccess() // successes=2 => transitions to Closed

	if s := b.State(); s != Closed {
		t.Fatalf("expected Closed, got %s", s)
	}
}

func TestDo_SkipsWhileOpen(t *testing.T) {
	b, now := newTestBreaker(Config{
		FailureThreshold:   2,
		OpenTimeout:        time.Second,
		HalfOpenMaxSuccess: 1,
	})
	boom := errors.New("connection refused")
	var calls int
	failing := func() error { calls++; return boom }

	for range 2 {
		if err := b.Do(failing); !errors.Is(err, boom) {
			t.Fatalf("expected fn error, got %v", err)
		}
	}
	if err := b.Do(failing); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("fn ran %d times, want 2", calls)
	}

	now.Advance(time.Second)
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe: unexpected error: %v", err)
	}
	if s := b.State(); s != Closed {
		t.Fatalf("expected Closed after successful probe, got %s", s)
	}
}

func TestNew_ZeroConfigUsesDefaults(t *testing.T) {
	b := New(Config{})
	def := DefaultConfig()
	for range def.FailureThreshold - 1 {
		b.OnFailure()
	}
	if s := b.State(); s != Closed {
		t.Fatalf("expected Closed below threshold, got %s", s)
	}
	b.OnFailure()
	if s := b.State(); s != Open {
		t.Fatalf("expected Open at threshold, got %s", s)
	}
}

func TestOnStateChange(t *testing.T) {
	var got []string
	b, now := newTestBreaker(Config{
		FailureThreshold:   1,
		OpenTimeout:        time.Second,
		HalfOpenMaxSuccess: 1,
		OnStateChange: func(from, to State) {
			got = append(got, from.String()+">"+to.String())
		},
	})

	b.OnFailure()
	now.Advance(time.Second)
	_ = b.State()
	b.OnSuccess()

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
}
