// Package retry provides a generic retry helper with exponential backoff and
// jitter. The pool and the deduplication group never retry on their own;
// callers that want resubmission wrap their task with Do or Wrap.
package retry

import (
	"math/rand/v2"
	"time"
)

// backoff returns the wait before retry number attempt+1: BaseDelay doubled
// attempt times, capped at MaxDelay when set, then jittered.
func backoff(cfg Config, attempt int) time.Duration {
	d := cfg.BaseDelay
	for range attempt {
		if cfg.MaxDelay > 0 && d >= cfg.MaxDelay {
			break
		}
		if d > time.Duration(1<<62) {
			break
		}
		d *= 2
	}
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.Jitter <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * cfg.Jitter
	return max(0, d+time.Duration(spread*(2*rand.Float64()-1)))
}
