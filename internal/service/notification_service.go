package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/beachcheck-push/internal/domain"
	"github.com/kursadbilgin/beachcheck-push/internal/observability"
	"github.com/kursadbilgin/beachcheck-push/internal/queue"
	"github.com/kursadbilgin/beachcheck-push/internal/repository"
	"go.uber.org/zap"
)

const defaultDirectDispatchGrace = 30 * time.Second

// SendRequest describes one push to one recipient.
type SendRequest struct {
	UserID         string
	RecipientToken string
	Content        domain.Content
}

// Stats is a snapshot of stored notifications and outbox events by status.
type Stats struct {
	Notifications map[string]int64 `json:"notifications"`
	OutboxEvents  map[string]int64 `json:"outboxEvents"`
}

type outboxPayload struct {
	Type          domain.NotificationType `json:"type"`
	CorrelationID string                  `json:"correlationId,omitempty"`
}

// NotificationService is the entry point business code uses to request a
// push. Every request is persisted together with its outbox event.
type NotificationService struct {
	notifications repository.NotificationRepository
	events        repository.OutboxEventRepository
	transactor    repository.Transactor
	publisher     queue.Publisher
	directGrace   time.Duration
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

func NewNotificationService(
	notifications repository.NotificationRepository,
	events repository.OutboxEventRepository,
	transactor repository.Transactor,
	publisher queue.Publisher,
	directGrace time.Duration,
	logger *zap.Logger,
) (*NotificationService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if events == nil {
		return nil, fmt.Errorf("outbox event repository is required")
	}
	if transactor == nil {
		return nil, fmt.Errorf("transactor is required")
	}
	if directGrace <= 0 {
		directGrace = defaultDirectDispatchGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &NotificationService{
		notifications: notifications,
		events:        events,
		transactor:    transactor,
		publisher:     publisher,
		directGrace:   directGrace,
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (s *NotificationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Enqueue stores a PENDING notification and an immediately due outbox event.
// If ctx carries a transaction both rows join it, so they commit or roll
// back with the caller's business write.
func (s *NotificationService) Enqueue(ctx context.Context, req SendRequest) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var created *domain.Notification
	err := s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		n, err := s.create(ctx, req, time.Time{})
		created = n
		return err
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// SendDirect stores the notification and asks a dispatch worker to deliver
// it right away. Its outbox event only becomes due after the grace period
// and picks the notification up if the direct attempt is lost or fails
// transiently. A publish failure is logged, not returned.
func (s *NotificationService) SendDirect(ctx context.Context, req SendRequest) (*domain.Notification, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var created *domain.Notification
	err := s.transactor.WithinNewTransaction(ctx, func(ctx context.Context) error {
		n, err := s.create(ctx, req, s.now().UTC().Add(s.directGrace))
		created = n
		return err
	})
	if err != nil {
		return nil, err
	}

	logger := observability.ContextLogger(ctx, s.logger).With(zap.String("notificationId", created.ID))
	if s.publisher == nil {
		logger.Warn("no dispatch publisher configured, notification left to the outbox")
		return created, nil
	}

	correlationID, ok := observability.CorrelationIDFromContext(ctx)
	if !ok {
		correlationID = observability.NewCorrelationID()
	}

	msg := queue.DispatchMessage{
		NotificationID: created.ID,
		CorrelationID:  correlationID,
	}
	if err := s.publisher.Publish(repository.WithoutTransaction(ctx), queue.DispatchQueue, msg); err != nil {
		logger.Warn("failed to publish direct dispatch, notification left to the outbox",
			zap.Duration("grace", s.directGrace),
			zap.Error(err),
		)
	}

	return created, nil
}

func (s *NotificationService) SendCongestionAlert(ctx context.Context, userID, token, beachName string, congestion int) (*domain.Notification, error) {
	return s.SendDirect(ctx, SendRequest{UserID: userID, RecipientToken: token, Content: domain.CongestionAlert(beachName, congestion)})
}

func (s *NotificationService) SendDateReminder(ctx context.Context, userID, token, beachName string) (*domain.Notification, error) {
	return s.SendDirect(ctx, SendRequest{UserID: userID, RecipientToken: token, Content: domain.DateReminder(beachName)})
}

func (s *NotificationService) SendFavoriteUpdateAlert(ctx context.Context, userID, token, beachName, changeInfo string) (*domain.Notification, error) {
	return s.SendDirect(ctx, SendRequest{UserID: userID, RecipientToken: token, Content: domain.FavoriteUpdateAlert(beachName, changeInfo)})
}

func (s *NotificationService) SendWeatherAlert(ctx context.Context, userID, token, beachName, warning string) (*domain.Notification, error) {
	return s.SendDirect(ctx, SendRequest{UserID: userID, RecipientToken: token, Content: domain.WeatherAlert(beachName, warning)})
}

func (s *NotificationService) SendTestNotification(ctx context.Context, userID, token, title, body string) (*domain.Notification, error) {
	return s.SendDirect(ctx, SendRequest{UserID: userID, RecipientToken: token, Content: domain.ProbeContent(title, body)})
}

// ListUserNotifications returns the user's notifications, newest first.
func (s *NotificationService) ListUserNotifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrValidation)
	}

	notifications, err := s.notifications.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// Stats counts stored rows by status and refreshes the outbox gauge.
func (s *NotificationService) Stats(ctx context.Context) (*Stats, error) {
	notificationCounts, err := s.notifications.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications: %w", err)
	}
	eventCounts, err := s.events.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox events: %w", err)
	}

	s.metrics.SetOutboxEventCounts(eventCounts)

	return &Stats{
		Notifications: notificationCounts,
		OutboxEvents:  eventCounts,
	}, nil
}

func (s *NotificationService) create(ctx context.Context, req SendRequest, firstAttemptAt time.Time) (*domain.Notification, error) {
	now := s.now().UTC()

	notification := &domain.Notification{
		ID:             uuid.NewString(),
		UserID:         strings.TrimSpace(req.UserID),
		RecipientToken: strings.TrimSpace(req.RecipientToken),
		Type:           req.Content.Type,
		Title:          req.Content.Title,
		Body:           req.Content.Body,
		Status:         domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := notification.Validate(); err != nil {
		return nil, err
	}
	if err := s.notifications.Create(ctx, notification); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	payload, err := encodeOutboxPayload(ctx, notification.Type)
	if err != nil {
		return nil, err
	}

	event := domain.NewPushOutboxEvent(notification.ID, payload)
	event.ID = uuid.NewString()
	event.NextRetryAt = firstAttemptAt
	event.OnCreate(now)
	if err := s.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to create outbox event: %w", err)
	}

	observability.ContextLogger(ctx, s.logger).Info("notification enqueued",
		zap.String("notificationId", notification.ID),
		zap.String("outboxEventId", event.ID),
		zap.String("type", notification.Type.String()),
		zap.Time("nextRetryAt", event.NextRetryAt),
	)

	return notification, nil
}

func encodeOutboxPayload(ctx context.Context, notificationType domain.NotificationType) (*string, error) {
	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	raw, err := json.Marshal(outboxPayload{Type: notificationType, CorrelationID: correlationID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode outbox payload: %w", err)
	}
	payload := string(raw)
	return &payload, nil
}
