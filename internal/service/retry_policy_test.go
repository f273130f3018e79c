package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/beachcheck-push/internal/provider"
)

func TestRetryPolicyDelay(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
	noJitter := func(int) int { return 0 }

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{retryCount: -1, want: 2 * time.Second},
		{retryCount: 0, want: 2 * time.Second},
		{retryCount: 1, want: 4 * time.Second},
		{retryCount: 2, want: 8 * time.Second},
		{retryCount: 3, want: 16 * time.Second},
		{retryCount: 4, want: 30 * time.Second},
		{retryCount: 40, want: 30 * time.Second},
	}

	for _, tt := range tests {
		if got := policy.Delay(tt.retryCount, noJitter); got != tt.want {
			t.Fatalf("Delay(%d) = %s, want %s", tt.retryCount, got, tt.want)
		}
	}
}

func TestRetryPolicyDelayJitter(t *testing.T) {
	t.Parallel()

	policy := DefaultRetryPolicy()

	var gotN int
	delay := policy.Delay(0, func(n int) int {
		gotN = n
		return n - 1
	})

	if gotN != maxRetryJitterMillis+1 {
		t.Fatalf("randIntn(n) n = %d, want %d", gotN, maxRetryJitterMillis+1)
	}
	if want := defaultBaseRetryDelay + maxRetryJitterMillis*time.Millisecond; delay != want {
		t.Fatalf("Delay() = %s, want %s", delay, want)
	}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	transient := &provider.DeliveryError{Code: "UNAVAILABLE", Transient: true}
	permanent := &provider.DeliveryError{Code: "UNREGISTERED"}

	tests := []struct {
		name       string
		err        error
		retryCount int
		want       bool
	}{
		{name: "transient first attempt", err: transient, retryCount: 0, want: true},
		{name: "transient fourth attempt", err: transient, retryCount: 3, want: true},
		{name: "transient fifth attempt", err: transient, retryCount: 4, want: false},
		{name: "permanent", err: permanent, retryCount: 0, want: false},
		{name: "timeout", err: context.DeadlineExceeded, retryCount: 0, want: true},
		{name: "cancelled", err: context.Canceled, retryCount: 0, want: false},
		{name: "unclassified", err: errors.New("boom"), retryCount: 0, want: false},
	}

	policy := RetryPolicy{MaxAttempts: 5}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.ShouldRetry(tt.err, tt.retryCount); got != tt.want {
				t.Fatalf("ShouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	policy := RetryPolicy{BaseDelay: time.Minute, MaxDelay: time.Second}.withDefaults()
	if policy.MaxAttempts != defaultMaxAttempts {
		t.Fatalf("MaxAttempts = %d, want %d", policy.MaxAttempts, defaultMaxAttempts)
	}
	if policy.MaxDelay != time.Minute {
		t.Fatalf("MaxDelay = %s, want it raised to BaseDelay", policy.MaxDelay)
	}
}

func TestBookkeepingError(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection reset")
	err := error(&BookkeepingError{Stage: StageEventSent, NotificationID: "n-1", OutboxEventID: "e-1", Err: cause})

	if !IsBookkeepingError(err) {
		t.Fatal("IsBookkeepingError() = false, want true")
	}
	if !errors.Is(err, cause) {
		t.Fatal("BookkeepingError should unwrap to its cause")
	}
	want := "bookkeeping failed at event_sent for notification n-1 (outbox event e-1): connection reset"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
	if IsBookkeepingError(cause) {
		t.Fatal("IsBookkeepingError(plain error) = true, want false")
	}
}
