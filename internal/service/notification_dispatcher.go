package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/beachcheck-push/internal/observability"
	"github.com/kursadbilgin/beachcheck-push/internal/provider"
	"github.com/kursadbilgin/beachcheck-push/internal/ratelimit"
	"github.com/kursadbilgin/beachcheck-push/internal/repository"
	"go.uber.org/zap"
)

// NotificationDispatcher delivers a single notification immediately, outside
// the outbox poll. A transient failure leaves the notification PENDING so
// that its outbox event retries it.
type NotificationDispatcher struct {
	notifications repository.NotificationRepository
	statusWriter  *StatusWriter
	sender        *pushSender
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewNotificationDispatcher(
	notifications repository.NotificationRepository,
	statusWriter *StatusWriter,
	gateway provider.Gateway,
	logger *zap.Logger,
) (*NotificationDispatcher, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if statusWriter == nil {
		return nil, fmt.Errorf("status writer is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("push gateway is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &NotificationDispatcher{
		notifications: notifications,
		statusWriter:  statusWriter,
		logger:        logger,
		now:           time.Now,
	}
	d.sender = &pushSender{
		gateway:     gateway,
		rateLimiter: ratelimit.Unlimited{},
		now:         func() time.Time { return d.now() },
	}

	return d, nil
}

func (d *NotificationDispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
	d.sender.metrics = metrics
}

func (d *NotificationDispatcher) SetRateLimiter(limiter ratelimit.RateLimiter) {
	if d == nil || limiter == nil {
		return
	}
	d.sender.rateLimiter = limiter
}

// Dispatch sends the notification unless it is already SENT or FAILED. It
// returns domain.ErrNotFound for an unknown id and a *BookkeepingError when
// the gateway outcome could not be recorded.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, notificationID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = repository.WithoutTransaction(ctx)
	logger := observability.ContextLogger(ctx, d.logger).With(zap.String("notificationId", notificationID))

	notification, err := d.notifications.GetByID(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("failed to load notification %s: %w", notificationID, err)
	}

	if notification.IsTerminal() {
		logger.Info("notification already terminal, skipping dispatch",
			zap.String("status", notification.Status.String()),
		)
		return nil
	}

	d.metrics.IncDispatchInFlight()
	defer d.metrics.DecDispatchInFlight()

	resp, sendErr := d.sender.send(ctx, *notification, observability.PathDirect)
	switch {
	case errors.Is(sendErr, errThrottled):
		logger.Warn("direct dispatch throttled, leaving notification to the outbox", zap.Error(sendErr))
		return nil
	case sendErr != nil && ctx.Err() != nil:
		logger.Info("direct dispatch interrupted, leaving notification to the outbox", zap.Error(sendErr))
		return nil
	case errors.Is(sendErr, provider.ErrCircuitOpen):
		logger.Warn("push gateway circuit open, leaving notification to the outbox", zap.Error(sendErr))
		return nil
	case sendErr != nil && provider.IsTransient(sendErr):
		logger.Warn("direct dispatch failed transiently, leaving notification to the outbox", zap.Error(sendErr))
		return nil
	case sendErr != nil:
		d.metrics.IncNotificationFailed(observability.PathDirect, failureReason(sendErr, false))
		if err := d.statusWriter.MarkAsFailure(ctx, notification.ID, sendErr); err != nil {
			return d.bookkeepingFailed(logger, notification.ID, StageNotificationFailed, err)
		}
		return nil
	}

	d.metrics.IncNotificationSent(observability.PathDirect)
	if err := d.statusWriter.MarkAsSuccess(ctx, notification.ID, messageID(resp)); err != nil {
		return d.bookkeepingFailed(logger, notification.ID, StageNotificationSent, err)
	}

	return nil
}

func (d *NotificationDispatcher) bookkeepingFailed(logger *zap.Logger, notificationID string, stage string, err error) error {
	bookkeepingErr := &BookkeepingError{
		Stage:          stage,
		NotificationID: notificationID,
		Err:            err,
	}
	d.metrics.IncBookkeepingFailure(observability.PathDirect, stage)
	logger.Error("delivery outcome not recorded, manual reconciliation required", zap.Error(bookkeepingErr))
	return bookkeepingErr
}
