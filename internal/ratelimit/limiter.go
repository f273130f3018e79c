package ratelimit

import "context"

// ScopePush is the limiter scope shared by every push gateway call, on both
// the outbox and the direct dispatch path.
const ScopePush = "push"

// RateLimiter caps push gateway throughput per scope.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}

// Unlimited never throttles. Used when no limiter is configured.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

func (Unlimited) Wait(ctx context.Context, _ string) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
