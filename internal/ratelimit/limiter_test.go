package ratelimit

import (
	"context"
	"errors"
	"testing"
)

func TestUnlimited(t *testing.T) {
	t.Parallel()

	var limiter RateLimiter = Unlimited{}

	allowed, err := limiter.Allow(context.Background(), ScopePush)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("Unlimited should always allow")
	}

	if err := limiter.Wait(context.Background(), ScopePush); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.Wait(ctx, ScopePush); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want %v", err, context.Canceled)
	}
}
