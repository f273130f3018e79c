package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/beachcheck-push/internal/domain"
	"github.com/kursadbilgin/beachcheck-push/internal/provider"
	"go.uber.org/zap"
)

func newTestDispatcher(t *testing.T, repo *fakeNotificationRepo, gateway *fakeGateway) *NotificationDispatcher {
	t.Helper()

	writer, err := NewStatusWriter(repo, &fakeTransactor{}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewStatusWriter() error = %v", err)
	}
	writer.now = func() time.Time { return testNow }

	dispatcher, err := NewNotificationDispatcher(repo, writer, gateway, zap.NewNop())
	if err != nil {
		t.Fatalf("NewNotificationDispatcher() error = %v", err)
	}
	dispatcher.now = func() time.Time { return testNow }
	return dispatcher
}

func TestNotificationDispatcherDispatch(t *testing.T) {
	t.Parallel()

	sent := pendingNotification("n-sent")
	sent.MarkSent(testNow.Add(-time.Minute))
	failed := pendingNotification("n-failed")
	failed.MarkFailed(testNow.Add(-time.Minute), "UNREGISTERED")

	tests := []struct {
		name        string
		id          string
		sendErr     error
		wantCalls   int
		wantStatus  domain.Status
		wantErrIs   error
		wantNoError bool
	}{
		{name: "pending delivered", id: "n-1", wantCalls: 1, wantStatus: domain.StatusSent, wantNoError: true},
		{name: "already sent skipped", id: "n-sent", wantCalls: 0, wantStatus: domain.StatusSent, wantNoError: true},
		{name: "already failed skipped", id: "n-failed", wantCalls: 0, wantStatus: domain.StatusFailed, wantNoError: true},
		{
			name:        "permanent failure recorded",
			id:          "n-1",
			sendErr:     &provider.DeliveryError{Code: "INVALID_ARGUMENT"},
			wantCalls:   1,
			wantStatus:  domain.StatusFailed,
			wantNoError: true,
		},
		{
			name:        "transient failure left to outbox",
			id:          "n-1",
			sendErr:     &provider.DeliveryError{Code: "UNAVAILABLE", Transient: true},
			wantCalls:   1,
			wantStatus:  domain.StatusPending,
			wantNoError: true,
		},
		{name: "unknown notification", id: "n-missing", wantCalls: 0, wantErrIs: domain.ErrNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := newFakeNotificationRepo(pendingNotification("n-1"), sent, failed)
			gateway := &fakeGateway{}
			if tt.sendErr != nil {
				gateway.sendFn = func(ctx context.Context, msg provider.Message) (*provider.Response, error) {
					return nil, tt.sendErr
				}
			}
			dispatcher := newTestDispatcher(t, repo, gateway)

			err := dispatcher.Dispatch(context.Background(), tt.id)
			if tt.wantNoError && err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if tt.wantErrIs != nil && !errors.Is(err, tt.wantErrIs) {
				t.Fatalf("Dispatch() error = %v, want %v", err, tt.wantErrIs)
			}
			if got := gateway.callCount(); got != tt.wantCalls {
				t.Fatalf("gateway calls = %d, want %d", got, tt.wantCalls)
			}
			if gateway.calledInTx {
				t.Fatal("gateway must not be called inside a transaction")
			}
			if tt.wantStatus != "" {
				if got := repo.get(tt.id).Status; got != tt.wantStatus {
					t.Fatalf("status = %s, want %s", got, tt.wantStatus)
				}
			}
		})
	}
}

func TestNotificationDispatcherOpenCircuitLeavesNotificationPending(t *testing.T) {
	t.Parallel()

	repo := newFakeNotificationRepo(pendingNotification("n-1"), pendingNotification("n-2"))
	gateway := &fakeGateway{
		sendFn: func(ctx context.Context, msg provider.Message) (*provider.Response, error) {
			return nil, &provider.DeliveryError{Code: "UNAVAILABLE", Transient: true}
		},
	}
	breaker, err := provider.NewBreakerGateway(gateway, provider.BreakerConfig{
		Name:                "fcm",
		ConsecutiveFailures: 1,
		OpenTimeout:         time.Hour,
	})
	if err != nil {
		t.Fatalf("NewBreakerGateway() error = %v", err)
	}
	dispatcher := newTestDispatcher(t, repo, gateway)
	dispatcher.sender.gateway = breaker

	if err := dispatcher.Dispatch(context.Background(), "n-1"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if err := dispatcher.Dispatch(context.Background(), "n-2"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if got := gateway.callCount(); got != 1 {
		t.Fatalf("gateway calls = %d, want 1", got)
	}
	for _, id := range []string{"n-1", "n-2"} {
		n := repo.get(id)
		if n.Status != domain.StatusPending {
			t.Fatalf("%s status = %s, want PENDING", id, n.Status)
		}
		if n.ErrorMessage != nil {
			t.Fatalf("%s errorMessage = %q, want nil", id, *n.ErrorMessage)
		}
	}
}

func TestNotificationDispatcherBookkeepingFailure(t *testing.T) {
	t.Parallel()

	repo := newFakeNotificationRepo(pendingNotification("n-1"))
	repo.updateFn = func(ctx context.Context, n *domain.Notification) error {
		return errors.New("connection refused")
	}
	dispatcher := newTestDispatcher(t, repo, &fakeGateway{})

	err := dispatcher.Dispatch(context.Background(), "n-1")

	var bookkeepingErr *BookkeepingError
	if !errors.As(err, &bookkeepingErr) {
		t.Fatalf("Dispatch() error = %v, want *BookkeepingError", err)
	}
	if bookkeepingErr.Stage != StageNotificationSent {
		t.Fatalf("stage = %s, want %s", bookkeepingErr.Stage, StageNotificationSent)
	}
	if got := repo.get("n-1").Status; got != domain.StatusPending {
		t.Fatalf("status = %s, want PENDING", got)
	}
}

func TestNotificationDispatcherThrottled(t *testing.T) {
	t.Parallel()

	repo := newFakeNotificationRepo(pendingNotification("n-1"))
	gateway := &fakeGateway{}
	dispatcher := newTestDispatcher(t, repo, gateway)
	dispatcher.SetRateLimiter(&fakeRateLimiter{
		waitFn: func(ctx context.Context, scope string) error {
			return context.DeadlineExceeded
		},
	})

	if err := dispatcher.Dispatch(context.Background(), "n-1"); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if got := gateway.callCount(); got != 0 {
		t.Fatalf("gateway calls = %d, want 0", got)
	}
}
