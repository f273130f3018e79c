package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/kursadbilgin/beachcheck-push/internal/domain"
	"github.com/kursadbilgin/beachcheck-push/internal/observability"
	"github.com/kursadbilgin/beachcheck-push/internal/provider"
	"github.com/kursadbilgin/beachcheck-push/internal/ratelimit"
	"github.com/kursadbilgin/beachcheck-push/internal/repository"
	"go.uber.org/zap"
)

const defaultOutboxBatchSize = 10

// Per-event outcomes, used as the metric label.
const (
	OutcomeSent            = "sent"
	OutcomeSkipped         = "skipped"
	OutcomeAbandoned       = "abandoned"
	OutcomeRetryScheduled  = "retry_scheduled"
	OutcomeFailedPermanent = "failed_permanent"
	OutcomeDeferred        = "deferred"
	OutcomeIntegrityError  = "integrity_error"
	OutcomeBookkeeping     = "bookkeeping_error"
	OutcomeError           = "error"
)

type OutboxPublisherConfig struct {
	BatchSize int
	Retry     RetryPolicy
}

// OutboxPublisher delivers due outbox events one at a time, oldest first.
// Every event write runs in its own transaction and the gateway call runs
// outside any transaction.
type OutboxPublisher struct {
	events        repository.OutboxEventRepository
	notifications repository.NotificationRepository
	transactor    repository.Transactor
	statusWriter  *StatusWriter
	sender        *pushSender
	batchSize     int
	retry         RetryPolicy
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
	randIntn      func(n int) int
}

func NewOutboxPublisher(
	events repository.OutboxEventRepository,
	notifications repository.NotificationRepository,
	transactor repository.Transactor,
	statusWriter *StatusWriter,
	gateway provider.Gateway,
	cfg OutboxPublisherConfig,
	logger *zap.Logger,
) (*OutboxPublisher, error) {
	if events == nil {
		return nil, fmt.Errorf("outbox event repository is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if transactor == nil {
		return nil, fmt.Errorf("transactor is required")
	}
	if statusWriter == nil {
		return nil, fmt.Errorf("status writer is required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("push gateway is required")
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaultOutboxBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &OutboxPublisher{
		events:        events,
		notifications: notifications,
		transactor:    transactor,
		statusWriter:  statusWriter,
		batchSize:     cfg.BatchSize,
		retry:         cfg.Retry.withDefaults(),
		logger:        logger,
		now:           time.Now,
		randIntn:      rand.Intn,
	}
	p.sender = &pushSender{
		gateway:     gateway,
		rateLimiter: ratelimit.Unlimited{},
		now:         func() time.Time { return p.now() },
	}

	return p, nil
}

func (p *OutboxPublisher) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
	p.sender.metrics = metrics
}

func (p *OutboxPublisher) SetRateLimiter(limiter ratelimit.RateLimiter) {
	if p == nil || limiter == nil {
		return
	}
	p.sender.rateLimiter = limiter
}

// ProcessPendingOutboxEvents runs one poll cycle. Only a failure to read the
// batch is returned; per-event failures are logged and counted.
func (p *OutboxPublisher) ProcessPendingOutboxEvents(ctx context.Context) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	start := p.now()
	defer func() {
		p.metrics.ObserveOutboxPoll(p.now().Sub(start), err)
	}()

	events, err := p.events.FindDue(repository.WithoutTransaction(ctx), start.UTC(), p.batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch due outbox events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	p.logger.Debug("processing outbox batch", zap.Int("count", len(events)))

	for i := range events {
		if ctx.Err() != nil {
			p.logger.Info("outbox batch interrupted", zap.Int("remaining", len(events)-i))
			return nil
		}

		outcome := p.processEventSafely(ctx, events[i])
		p.metrics.IncOutboxEvent(outcome)
	}

	return nil
}

func (p *OutboxPublisher) processEventSafely(ctx context.Context, event domain.OutboxEvent) (outcome string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			p.logger.Error("outbox event processing panicked",
				zap.String("outboxEventId", event.ID),
				zap.String("notificationId", event.NotificationID),
				zap.Any("panic", recovered),
			)
			outcome = OutcomeError
		}
	}()

	return p.processEvent(ctx, event)
}

func (p *OutboxPublisher) processEvent(ctx context.Context, event domain.OutboxEvent) string {
	logger := p.logger.With(
		zap.String("outboxEventId", event.ID),
		zap.String("notificationId", event.NotificationID),
		zap.Int("retryCount", event.RetryCount),
	)
	ctx = repository.WithoutTransaction(ctx)

	notification, err := p.notifications.GetByID(ctx, event.NotificationID)
	if errors.Is(err, domain.ErrNotFound) {
		// Nothing can be delivered; close the event so it stops occupying the
		// head of every batch. The notification is not touched.
		logger.Error("outbox event references a missing notification",
			zap.Error(fmt.Errorf("%w: notification %s not found", domain.ErrDataIntegrity, event.NotificationID)),
		)
		event.MarkAsFailedPermanent(p.now().UTC())
		if err := p.saveEvent(ctx, &event); err != nil {
			logger.Error("failed to close outbox event with missing notification", zap.Error(err))
			return OutcomeError
		}
		return OutcomeIntegrityError
	}
	if err != nil {
		logger.Error("failed to load notification for outbox event", zap.Error(err))
		return OutcomeError
	}

	switch notification.Status {
	case domain.StatusSent:
		event.MarkAsSent(p.now().UTC())
		if err := p.saveEvent(ctx, &event); err != nil {
			logger.Error("failed to mark outbox event sent for delivered notification", zap.Error(err))
			return OutcomeError
		}
		logger.Info("notification already sent, outbox event closed without sending")
		return OutcomeSkipped
	case domain.StatusFailed:
		event.MarkAsFailedPermanent(p.now().UTC())
		if err := p.saveEvent(ctx, &event); err != nil {
			logger.Error("failed to close outbox event for failed notification", zap.Error(err))
			return OutcomeError
		}
		logger.Warn("notification already failed, outbox event closed without sending")
		return OutcomeAbandoned
	}

	resp, sendErr := p.sender.send(ctx, *notification, observability.PathOutbox)
	if errors.Is(sendErr, errThrottled) {
		logger.Warn("push send deferred by rate limiter", zap.Error(sendErr))
		return OutcomeDeferred
	}
	if sendErr != nil && ctx.Err() != nil {
		logger.Info("push send interrupted by shutdown, event left due", zap.Error(sendErr))
		return OutcomeDeferred
	}
	if errors.Is(sendErr, provider.ErrCircuitOpen) {
		return p.deferForOpenCircuit(ctx, logger, &event, sendErr)
	}

	if sendErr == nil {
		return p.recordSuccess(ctx, logger, &event, messageID(resp))
	}
	return p.recordFailure(ctx, logger, &event, sendErr)
}

func (p *OutboxPublisher) recordSuccess(ctx context.Context, logger *zap.Logger, event *domain.OutboxEvent, providerResponse string) string {
	p.metrics.IncNotificationSent(observability.PathOutbox)

	outcome := OutcomeSent
	if err := p.statusWriter.MarkAsSuccess(ctx, event.NotificationID, providerResponse); err != nil {
		p.reportBookkeeping(logger, event, StageNotificationSent, err)
		outcome = OutcomeBookkeeping
	}

	event.MarkAsSent(p.now().UTC())
	if err := p.saveEvent(ctx, event); err != nil {
		p.reportBookkeeping(logger, event, StageEventSent, err)
		outcome = OutcomeBookkeeping
	}

	return outcome
}

func (p *OutboxPublisher) recordFailure(ctx context.Context, logger *zap.Logger, event *domain.OutboxEvent, sendErr error) string {
	if p.retry.ShouldRetry(sendErr, event.RetryCount) {
		delay := p.retry.Delay(event.RetryCount, p.randIntn)
		event.MarkAsFailedRetriable(p.now().UTC(), delay)
		if err := p.saveEvent(ctx, event); err != nil {
			p.reportBookkeeping(logger, event, StageEventRetry, err)
			return OutcomeBookkeeping
		}

		logger.Warn("push send failed, retry scheduled",
			zap.Error(sendErr),
			zap.Int("attempt", event.RetryCount),
			zap.Duration("retryIn", delay),
			zap.Time("nextRetryAt", event.NextRetryAt),
		)
		return OutcomeRetryScheduled
	}

	retriesExhausted := provider.IsTransient(sendErr)
	p.metrics.IncNotificationFailed(observability.PathOutbox, failureReason(sendErr, retriesExhausted))

	outcome := OutcomeFailedPermanent
	if err := p.statusWriter.MarkAsFailure(ctx, event.NotificationID, sendErr); err != nil {
		p.reportBookkeeping(logger, event, StageNotificationFailed, err)
		outcome = OutcomeBookkeeping
	}

	event.MarkAsFailedPermanent(p.now().UTC())
	if err := p.saveEvent(ctx, event); err != nil {
		p.reportBookkeeping(logger, event, StageEventPermanent, err)
		outcome = OutcomeBookkeeping
	}

	if outcome == OutcomeFailedPermanent {
		logger.Error("push send failed permanently",
			zap.Error(sendErr),
			zap.Bool("retriesExhausted", retriesExhausted),
		)
	}
	return outcome
}

// deferForOpenCircuit pushes the event back by the delay of its current
// attempt. The gateway was not called, so no attempt is counted.
func (p *OutboxPublisher) deferForOpenCircuit(ctx context.Context, logger *zap.Logger, event *domain.OutboxEvent, sendErr error) string {
	delay := p.retry.Delay(event.RetryCount, p.randIntn)
	event.Reschedule(p.now().UTC().Add(delay))
	if err := p.saveEvent(ctx, event); err != nil {
		logger.Error("failed to reschedule outbox event behind open circuit", zap.Error(err))
		return OutcomeError
	}

	logger.Warn("push gateway circuit open, event rescheduled",
		zap.Error(sendErr),
		zap.Time("nextRetryAt", event.NextRetryAt),
	)
	return OutcomeDeferred
}

func (p *OutboxPublisher) saveEvent(ctx context.Context, event *domain.OutboxEvent) error {
	return p.transactor.WithinNewTransaction(ctx, func(ctx context.Context) error {
		return p.events.Update(ctx, event)
	})
}

func (p *OutboxPublisher) reportBookkeeping(logger *zap.Logger, event *domain.OutboxEvent, stage string, err error) {
	bookkeepingErr := &BookkeepingError{
		Stage:          stage,
		NotificationID: event.NotificationID,
		OutboxEventID:  event.ID,
		Err:            err,
	}
	p.metrics.IncBookkeepingFailure(observability.PathOutbox, stage)
	logger.Error("delivery outcome not recorded, manual reconciliation required", zap.Error(bookkeepingErr))
}
