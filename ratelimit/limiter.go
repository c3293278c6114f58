// Package ratelimit provides a token-bucket limiter backed by
// golang.org/x/time/rate. The pool uses it to throttle how fast tasks start;
// the gRPC layer uses it to shed requests.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket limiter.
type Limiter struct {
	lim *rate.Limiter
}

// NewLimiter creates a Limiter that permits rps events per second with the
// given burst size.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Allow reports whether a single event may happen now.
func (l *Limiter) Allow() bool {
	return l.lim.Allow()
}

// Wait blocks until an event may happen or ctx is done. It returns an error
// without waiting when ctx's deadline comes before the next token.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.lim.Wait(ctx)
}
