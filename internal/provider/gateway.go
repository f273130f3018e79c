package provider

import (
	"context"
	"time"

	"github.com/kursadbilgin/beachcheck-push/internal/domain"
)

// Data payload keys read by the mobile clients.
const (
	DataKeyType      = "type"
	DataKeyUserID    = "userId"
	DataKeyTimestamp = "timestamp"
)

// Gateway is the outbound push delivery port. Send either returns the
// provider-assigned message id or a *DeliveryError.
type Gateway interface {
	Send(ctx context.Context, msg Message) (*Response, error)
}

// Message is a fully formed push message.
type Message struct {
	Token string
	Title string
	Body  string
	Data  map[string]string
}

// Response carries provider call metadata for logging.
type Response struct {
	MessageID  string
	StatusCode int
	Body       string
}

// NewMessage builds the push message for a notification. The data payload is
// for client-side background handling and is not shown to the user.
func NewMessage(n domain.Notification, now time.Time) Message {
	return Message{
		Token: n.RecipientToken,
		Title: n.Title,
		Body:  n.Body,
		Data: map[string]string{
			DataKeyType:      n.Type.String(),
			DataKeyUserID:    n.UserID,
			DataKeyTimestamp: now.UTC().Format(time.RFC3339Nano),
		},
	}
}

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

// WithTimeout bounds every Send of next. An expired call surfaces as
// context.DeadlineExceeded, which IsTransient treats as retriable.
func WithTimeout(next Gateway, timeout time.Duration) Gateway {
	if timeout <= 0 {
		return next
	}
	return &timeoutGateway{next: next, timeout: timeout}
}

func (g *timeoutGateway) Send(ctx context.Context, msg Message) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.Send(ctx, msg)
}
