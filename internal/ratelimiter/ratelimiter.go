package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing WebHDFS requests using a token bucket.
//
// Every request to the namenode or a datanode consumes one token. A zero
// rate disables pacing entirely: Wait returns immediately without touching
// the underlying limiter.
//
// Thread safety:
// All methods are safe for concurrent use. A nil *RateLimiter behaves as an
// unlimited limiter.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing requestsPerSecond sustained requests
// with bursts of up to burst requests.
//
// Special cases:
//   - requestsPerSecond <= 0: unlimited (pacing disabled)
//   - burst <= 0: burst defaults to max(1, ceil(requestsPerSecond))
func New(requestsPerSecond float64, burst int) *RateLimiter {
	if requestsPerSecond <= 0 {
		return &RateLimiter{}
	}
	if burst <= 0 {
		burst = int(requestsPerSecond + 0.999)
		if burst < 1 {
			burst = 1
		}
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Unlimited reports whether pacing is disabled.
func (r *RateLimiter) Unlimited() bool {
	return r == nil || r.limiter == nil
}

// Wait blocks until a request may be sent or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r.Unlimited() {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}

// Allow reports whether a request may be sent right now, consuming a token
// if so.
func (r *RateLimiter) Allow() bool {
	if r.Unlimited() {
		return true
	}
	return r.limiter.Allow()
}

// Delay returns how long a caller would wait for the next token without
// consuming it. Used for logging when the transport is being throttled.
func (r *RateLimiter) Delay() time.Duration {
	if r.Unlimited() {
		return 0
	}
	now := time.Now()
	res := r.limiter.ReserveN(now, 1)
	defer res.CancelAt(now)
	if !res.OK() {
		return 0
	}
	return res.DelayFrom(now)
}

// SetLimit updates the sustained rate. A non-positive value keeps the
// current limiter but makes it effectively unlimited.
func (r *RateLimiter) SetLimit(requestsPerSecond float64) {
	if r.Unlimited() {
		return
	}
	if requestsPerSecond <= 0 {
		r.limiter.SetLimit(rate.Inf)
		return
	}
	r.limiter.SetLimit(rate.Limit(requestsPerSecond))
}
