// Package breaker guards a remote dependency, such as the Redis store, so
// that while it keeps failing callers skip it instead of paying a network
// timeout on every operation.
//
// States:
//   - Closed: calls flow normally; consecutive failures are counted.
//   - Open: calls are skipped; after OpenTimeout the breaker turns HalfOpen.
//   - HalfOpen: up to HalfOpenMaxSuccess probes are let through; that many
//     consecutive successes close the breaker, any failure reopens it.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Keksclan/rawrcache/clock"
)

// ErrOpen is returned by Do when the call was skipped.
var ErrOpen = errors.New("breaker: open")

// State represents the current circuit breaker state.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config holds the circuit breaker parameters. Zero fields take the
// defaults of DefaultConfig.
type Config struct {
	// FailureThreshold is the number of consecutive failures in Closed state
	// before the breaker trips to Open.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays Open before transitioning
	// to HalfOpen.
	OpenTimeout time.Duration

	// HalfOpenMaxSuccess is the number of consecutive successes required in
	// HalfOpen state to close the breaker again.
	HalfOpenMaxSuccess int

	// Clock is the time source for OpenTimeout. Defaults to clock.Real().
	Clock clock.Clock

	// OnStateChange, if set, is called after every transition while the
	// breaker's lock is held. It must not call back into the breaker.
	OnStateChange func(from, to State)
}

// DefaultConfig trips after 5 failures and probes again after 10 seconds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		OpenTimeout:        10 * time.Second,
		HalfOpenMaxSuccess: 1,
		Clock:              clock.Real(),
	}
}

// Breaker is a minimal circuit breaker. All methods are safe for concurrent use.
type Breaker struct {
	mu sync.Mutex

	cfg Config

	state     State
	failures  int // consecutive failures in Closed
	successes int // consecutive successes in HalfOpen
	openedAt  time.Time
}

// New creates a Breaker with the given configuration.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenMaxSuccess <= 0 {
		cfg.HalfOpenMaxSuccess = def.HalfOpenMaxSuccess
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	return &Breaker{cfg: cfg, state: Closed}
}

// State returns the current state of the breaker. In Open state it may
// auto-transition to HalfOpen if the timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checkOpenTimeout()
	return b.state
}

// Allow reports whether a call may go through. It returns true when the
// breaker is Closed, or HalfOpen with remaining probe slots.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkOpenTimeout()

	switch b.state {
	case Closed:
		return true
	case HalfOpen:
		return b.successes < b.cfg.HalfOpenMaxSuccess
	default:
		return false
	}
}

// Do runs fn when Allow permits and records its outcome. A skipped call
// returns ErrOpen without running fn.
func (b *Breaker) Do(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.OnFailure()
		return err
	}
	b.OnSuccess()
	return nil
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.cfg.HalfOpenMaxSuccess {
			b.transition(Closed)
		}
	}
}

// OnFailure records a failed call.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.toOpen()
		}
	case HalfOpen:
		b.toOpen()
	}
}

// checkOpenTimeout transitions from Open to HalfOpen when the timeout has
// elapsed. Must be called with b.mu held.
func (b *Breaker) checkOpenTimeout() {
	if b.state == Open && b.cfg.Clock.Now().Sub(b.openedAt) >= b.cfg.OpenTimeout {
		b.transition(HalfOpen)
	}
}

func (b *Breaker) toOpen() {
	b.openedAt = b.cfg.Clock.Now()
	b.transition(Open)
}

// transition resets the counters for the new state.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0
	if b.cfg.OnStateChange != nil && from != to {
		b.cfg.OnStateChange(from, to)
	}
}
