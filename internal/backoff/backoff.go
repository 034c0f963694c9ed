// Package backoff classifies pricing-API failures and computes retry
// delays for the in-cycle retry loop.
package backoff

import (
	"errors"
	"math/rand"
	"time"

	"github.com/andreapanico10/products-watchlist-monitor-telegram-bot/internal/amazon"
)

// Kind is the failure class of an external call.
type Kind int

const (
	// RateLimited calls are retried after backing off.
	RateLimited Kind = iota
	// Transient network or service errors are retried after backing off.
	Transient
	// Permanent failures are never retried; the item goes stale.
	Permanent
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Classify maps an error from the pricing client onto a failure kind.
// Unrecognized errors count as transient so a novel failure mode cannot
// permanently sideline an item.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, amazon.ErrRateLimited):
		return RateLimited
	case errors.Is(err, amazon.ErrItemNotFound):
		return Permanent
	default:
		return Transient
	}
}

// Retryable reports whether a failure of this kind may be retried within
// the same cycle.
func (k Kind) Retryable() bool {
	return k == RateLimited || k == Transient
}

// Policy computes exponential delays with uniform jitter.
type Policy struct {
	Base        time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// randFloat is injectable for deterministic tests.
	randFloat func() float64
}

// NewPolicy creates a retry policy.
func NewPolicy(base, maxDelay time.Duration, maxAttempts int) *Policy {
	return &Policy{
		Base:        base,
		MaxDelay:    maxDelay,
		MaxAttempts: maxAttempts,
		randFloat:   rand.Float64,
	}
}

// Delay returns base*2^attempt capped at MaxDelay, plus uniform random
// jitter in [0, delay) so retries across items do not synchronize.
// attempt is zero-based.
func (p *Policy) Delay(attempt int) time.Duration {
	delay := p.Base
	for i := 0; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	jitter := time.Duration(p.randFloat() * float64(delay))
	return delay + jitter
}

// Exhausted reports whether attempt (zero-based, counting completed
// attempts) has reached the attempt budget.
func (p *Policy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
