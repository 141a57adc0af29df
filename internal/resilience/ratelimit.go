package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRateLimitBackoff is how long Wait holds callers after a 429 when
// the backend gave no hint.
const DefaultRateLimitBackoff = 10 * time.Second

// RateLimiter is a token bucket shared by every caller of one backend.
// After a rate limit response it also holds all callers until the backoff
// period has passed.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time
}

// NewRateLimiter allows perSecond calls per second with the given burst.
// A non-positive rate disables the token bucket; backoff still applies.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(limit, burst)}
}

// Wait blocks until a call may proceed or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if wait := time.Until(retryAt); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return r.limiter.Wait(ctx)
}

// RecordRateLimitError starts a backoff period. A non-positive duration
// uses DefaultRateLimitBackoff.
func (r *RateLimiter) RecordRateLimitError(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = DefaultRateLimitBackoff
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if at := time.Now().Add(retryAfter); at.After(r.retryAt) {
		r.retryAt = at
	}
}

// Allow reports whether a call may proceed now without blocking.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	if time.Now().Before(retryAt) {
		return false
	}
	return r.limiter.Allow()
}
