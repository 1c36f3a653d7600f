package resilience

import (
	"context"
)

// Guard pairs a retry policy with a circuit breaker. Retries run inside the
// breaker, so one exhausted retry loop counts as one failure.
type Guard struct {
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// NewGuard builds a guard from both configs.
func NewGuard(retry RetryConfig, breaker CircuitBreakerConfig) *Guard {
	return &Guard{Retry: retry, Breaker: NewCircuitBreaker(breaker)}
}

// Call runs fn through the guard. A nil guard calls fn once.
func Call[T any](ctx context.Context, g *Guard, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}
	retried := func(ctx context.Context) (T, error) {
		return DoVal(ctx, g.Retry, fn)
	}
	if g.Breaker == nil {
		return retried(ctx)
	}
	return ExecuteVal(ctx, g.Breaker, retried)
}
