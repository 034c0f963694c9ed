// Package ratelimit wraps a single shared token bucket that throttles all
// outbound pricing-API calls for the whole process.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrAcquireTimeout is returned when no token became available within the
// caller's timeout. Callers must treat it as "skipped", not as a failure.
var ErrAcquireTimeout = errors.New("ratelimit: acquire timed out")

// Limiter is a process-wide token bucket. All check workers share one
// instance, so the aggregate external call rate never exceeds the
// configured requests-per-second regardless of worker count.
type Limiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	floor   rate.Limit
}

// New creates a limiter with refill rate rps, capacity burst, and a floor
// below which the rate can never be lowered.
func New(rps float64, burst int, floor float64) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		floor:   rate.Limit(floor),
	}
}

// Acquire blocks until a token is available, ctx is cancelled, or timeout
// elapses. A timeout yields ErrAcquireTimeout.
func (l *Limiter) Acquire(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrAcquireTimeout
	}
	return nil
}

// SetRate adjusts the refill rate, e.g. when a higher API performance tier
// is granted. Rates below the floor are clamped to the floor.
func (l *Limiter) SetRate(rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit := rate.Limit(rps)
	if limit < l.floor {
		limit = l.floor
	}
	l.limiter.SetLimit(limit)
}

// Rate returns the current refill rate in requests per second.
func (l *Limiter) Rate() float64 {
	return float64(l.limiter.Limit())
}
