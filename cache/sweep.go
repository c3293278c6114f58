package cache

import (
	"context"
	"log/slog"
	"time"
)

// sweepLoop periodically removes expired entries. One goroutine per cache
// replaces per-entry timers; it exits when ctx is canceled by Close.
func (c *Cache[K, V]) sweepLoop(ctx context.Context, every time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.log.Debug("swept expired entries", slog.Int("removed", n))
			}
		}
	}
}
