package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/beachcheck-push/internal/domain"
	"github.com/kursadbilgin/beachcheck-push/internal/observability"
	"github.com/kursadbilgin/beachcheck-push/internal/provider"
	"github.com/kursadbilgin/beachcheck-push/internal/repository"
	"go.uber.org/zap"
)

const maxLoggedResponseLength = 200

// StatusWriter records delivery outcomes on notifications. Each call commits
// in its own transaction, independent of whatever the caller is running.
type StatusWriter struct {
	notifications repository.NotificationRepository
	transactor    repository.Transactor
	logger        *zap.Logger
	now           func() time.Time
}

func NewStatusWriter(
	notifications repository.NotificationRepository,
	transactor repository.Transactor,
	logger *zap.Logger,
) (*StatusWriter, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if transactor == nil {
		return nil, fmt.Errorf("transactor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatusWriter{
		notifications: notifications,
		transactor:    transactor,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// MarkAsSuccess moves the notification to SENT. A notification that is
// already SENT is left as is.
func (w *StatusWriter) MarkAsSuccess(ctx context.Context, notificationID string, providerResponse string) error {
	logger := observability.ContextLogger(ctx, w.logger).With(zap.String("notificationId", notificationID))

	return w.transactor.WithinNewTransaction(ctx, func(ctx context.Context) error {
		notification, err := w.notifications.GetByIDForUpdate(ctx, notificationID)
		if err != nil {
			return fmt.Errorf("failed to load notification %s: %w", notificationID, err)
		}

		if notification.Status == domain.StatusSent {
			logger.Info("notification already marked sent")
			return nil
		}

		notification.MarkSent(w.now().UTC())
		if err := w.notifications.Update(ctx, notification); err != nil {
			return fmt.Errorf("failed to mark notification %s sent: %w", notificationID, err)
		}

		logger.Info("push delivered",
			zap.String("type", notification.Type.String()),
			zap.String("userId", notification.UserID),
			zap.String("response", domain.Truncate(providerResponse, maxLoggedResponseLength)),
		)
		return nil
	})
}

// MarkAsFailure moves the notification to FAILED with cause as its error
// message. A missing notification is logged and ignored. A notification that
// is already SENT is never downgraded.
func (w *StatusWriter) MarkAsFailure(ctx context.Context, notificationID string, cause error) error {
	logger := observability.ContextLogger(ctx, w.logger).With(zap.String("notificationId", notificationID))

	return w.transactor.WithinNewTransaction(ctx, func(ctx context.Context) error {
		notification, err := w.notifications.GetByIDForUpdate(ctx, notificationID)
		if errors.Is(err, domain.ErrNotFound) {
			logger.Warn("notification not found while recording failure", zap.Error(cause))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to load notification %s: %w", notificationID, err)
		}

		if notification.Status == domain.StatusSent {
			logger.Warn("ignoring failure for notification already sent", zap.Error(cause))
			return nil
		}

		message := "unknown delivery error"
		if cause != nil {
			message = cause.Error()
		}

		notification.MarkFailed(w.now().UTC(), message)
		if err := w.notifications.Update(ctx, notification); err != nil {
			return fmt.Errorf("failed to mark notification %s failed: %w", notificationID, err)
		}

		fields := []zap.Field{
			zap.String("type", notification.Type.String()),
			zap.String("userId", notification.UserID),
			zap.Error(cause),
		}
		if code, ok := provider.ErrorCode(cause); ok {
			logger.Error("push delivery failed", append(fields, zap.String("errorCode", code))...)
		} else {
			logger.Error("push delivery failed with unexpected error", fields...)
		}
		return nil
	})
}
