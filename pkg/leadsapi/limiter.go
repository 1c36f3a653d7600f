package leadsapi

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter is a token bucket that speeds up on success and backs off
// when the service answers 429.
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	current rate.Limit
	max     rate.Limit
	min     rate.Limit
}

// NewAdaptiveLimiter starts at initial; the rate moves between initial/4
// and 2x initial.
func NewAdaptiveLimiter(initial rate.Limit, burst int) *AdaptiveLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(initial, burst),
		current: initial,
		max:     initial * 2,
		min:     initial / 4,
	}
}

// Wait blocks until a request may go out.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate by 10%.
func (a *AdaptiveLimiter) OnSuccess() {
	a.scale(1.1)
}

// OnRateLimit halves the rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	next := a.scale(0.5)
	zap.L().Warn("leadsapi: rate limited, slowing down", zap.Float64("rate", float64(next)))
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// scale multiplies the current rate by k within [min, max].
func (a *AdaptiveLimiter) scale(k float64) rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := min(max(a.current*rate.Limit(k), a.min), a.max)
	a.current = next
	a.limiter.SetLimit(next)
	return next
}
