package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/beachcheck-push/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// deliveryAction is what the consumer tells the broker about one delivery.
type deliveryAction int

const (
	actionAck deliveryAction = iota
	actionRequeue
	actionDeadLetter
)

func (a deliveryAction) String() string {
	switch a {
	case actionAck:
		return "ack"
	case actionRequeue:
		return "requeue"
	default:
		return "dead_letter"
	}
}

// RabbitMQConsumer feeds dispatch messages to a handler. A handler error
// requeues the message once; a redelivered message that fails again goes to
// the dead-letter queue, leaving the notification to its outbox event.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume blocks until ctx is cancelled, resubscribing after channel loss.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("dispatch subscription lost, resubscribing",
			zap.String("queue", queue),
			zap.Error(err),
			zap.Duration("backoff", wait),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = nextBackoff(wait)
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	action, msg := c.process(ctx, d, handler)

	var err error
	switch action {
	case actionAck:
		err = d.Ack(false)
	case actionRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Reject(false)
	}
	if err != nil {
		return fmt.Errorf("failed to %s delivery for notification %s: %w", action, msg.NotificationID, err)
	}
	return nil
}

func (c *RabbitMQConsumer) process(ctx context.Context, d amqp.Delivery, handler MessageHandler) (deliveryAction, DispatchMessage) {
	var msg DispatchMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("dead-lettering dispatch message: invalid JSON",
			zap.Error(err),
			zap.String("messageId", d.MessageId),
		)
		return actionDeadLetter, msg
	}
	if err := msg.Validate(); err != nil {
		c.logger.Warn("dead-lettering dispatch message: validation failed",
			zap.Error(err),
			zap.String("messageId", d.MessageId),
		)
		return actionDeadLetter, msg
	}

	err := handler(withDeliveryCorrelation(ctx, d, msg), msg)
	if err == nil {
		return actionAck, msg
	}

	if d.Redelivered {
		c.logger.Warn("dead-lettering dispatch message after redelivery failed, outbox will retry",
			zap.Error(err),
			zap.String("notificationId", msg.NotificationID),
		)
		return actionDeadLetter, msg
	}

	c.logger.Warn("requeueing dispatch message: handler failed",
		zap.Error(err),
		zap.String("notificationId", msg.NotificationID),
	)
	return actionRequeue, msg
}

// withDeliveryCorrelation prefers the correlation id carried in the body and
// falls back to the AMQP property.
func withDeliveryCorrelation(ctx context.Context, d amqp.Delivery, msg DispatchMessage) context.Context {
	correlationID := msg.CorrelationID
	if correlationID == "" {
		correlationID = d.CorrelationId
	}
	if correlationID == "" {
		return ctx
	}
	return observability.WithCorrelationID(ctx, correlationID)
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
