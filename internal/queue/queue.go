package queue

import (
	"context"
	"fmt"
	"strings"
)

const (
	// DispatchQueue carries direct-dispatch requests to the push workers.
	DispatchQueue = "push.dispatch"

	dlqPrefix = "dlq."
)

// DispatchMessage asks a worker to deliver one notification now.
type DispatchMessage struct {
	NotificationID string `json:"notificationId"`
	CorrelationID  string `json:"correlationId,omitempty"`
}

func (m DispatchMessage) Validate() error {
	if strings.TrimSpace(m.NotificationID) == "" {
		return fmt.Errorf("notificationId is required")
	}
	return nil
}

// Publisher publishes dispatch messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg DispatchMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg DispatchMessage) error

// Consumer consumes dispatch messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

// DLQName returns the dead-letter queue name for a work queue, e.g.
// dlq.push.dispatch.
func DLQName(queue string) string {
	return dlqPrefix + queue
}

// WorkQueueNames returns the work queues declared by the topology.
func WorkQueueNames() []string {
	return []string{DispatchQueue}
}
