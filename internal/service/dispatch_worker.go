package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/beachcheck-push/internal/domain"
	"github.com/kursadbilgin/beachcheck-push/internal/observability"
	"github.com/kursadbilgin/beachcheck-push/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const minWorkerConcurrency = 1

type dispatcher interface {
	Dispatch(ctx context.Context, notificationID string) error
}

// DispatchWorker consumes direct-dispatch requests and runs them through the
// single-notification path.
type DispatchWorker struct {
	consumer    queue.Consumer
	dispatcher  dispatcher
	concurrency int
	logger      *zap.Logger
}

func NewDispatchWorker(
	consumer queue.Consumer,
	dispatcher dispatcher,
	concurrency int,
	logger *zap.Logger,
) (*DispatchWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchWorker{
		consumer:    consumer,
		dispatcher:  dispatcher,
		concurrency: concurrency,
		logger:      logger,
	}, nil
}

// Start consumes the dispatch queue until ctx is cancelled.
func (w *DispatchWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("dispatch worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queue.DispatchQueue),
			)

			if err := w.consumer.Consume(groupCtx, queue.DispatchQueue, w.handle); err != nil {
				w.logger.Error("dispatch worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("dispatch worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

// handle returns an error only when the message should be redelivered.
func (w *DispatchWorker) handle(ctx context.Context, msg queue.DispatchMessage) error {
	ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)

	err := w.dispatcher.Dispatch(ctx, msg.NotificationID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound):
		observability.ContextLogger(ctx, w.logger).Warn("notification not found for dispatch, dropping message",
			zap.String("notificationId", msg.NotificationID),
		)
		return nil
	case IsBookkeepingError(err):
		// Already reported; redelivery would send the push again.
		return nil
	default:
		return err
	}
}
