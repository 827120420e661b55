// Package ratelimit implements the process-wide token sources that pace
// calls to the archival and search services. The limits belong to the
// remote services, not to this process's parallelism, so one Limiter
// instance is shared by every worker rather than duplicated per worker.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/socialtoolkit/lawharvest/internal/metrics"
)

// Limiter is a blocking acquire-one-slot gate around a token bucket.
type Limiter struct {
	name    string
	limiter *rate.Limiter
}

// New builds a Limiter allowing rps requests per second with burst 1.
// A non-positive rps disables limiting.
func New(name string, rps float64) *Limiter {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	return &Limiter{
		name:    name,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Acquire blocks until a token is available or the context ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("acquire %s slot: %w", l.name, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(l.name, waited)
	}
	return nil
}
