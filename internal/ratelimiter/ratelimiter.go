// Package ratelimiter throttles connections with a token bucket.
//
// The control plane spends one token per request; the storage plane spends
// one token per byte streamed. A zero rate disables throttling entirely and
// a nil *RateLimiter is valid and never blocks.
package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter wraps a token bucket. Safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter refilling at perSecond tokens with the given burst.
// A zero perSecond returns nil, which never throttles. A zero burst defaults
// to perSecond.
func New(perSecond, burst uint) *RateLimiter {
	if perSecond == 0 {
		return nil
	}
	if burst == 0 {
		burst = perSecond
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst)),
	}
}

// Allow spends one token without waiting.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

// Wait blocks until one token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return ctx.Err()
	}
	return r.limiter.Wait(ctx)
}

// WaitN blocks until n tokens have been spent. Requests larger than the
// burst are split so a single large chunk cannot fail outright.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	if r == nil {
		return ctx.Err()
	}

	burst := r.limiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := r.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// Tokens returns the tokens currently available.
func (r *RateLimiter) Tokens() float64 {
	if r == nil {
		return 0
	}
	return r.limiter.Tokens()
}
