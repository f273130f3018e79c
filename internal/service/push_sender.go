package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/beachcheck-push/internal/domain"
	"github.com/kursadbilgin/beachcheck-push/internal/observability"
	"github.com/kursadbilgin/beachcheck-push/internal/provider"
	"github.com/kursadbilgin/beachcheck-push/internal/ratelimit"
)

// errThrottled marks a send that never reached the gateway because the rate
// limiter refused or failed. It is not a delivery failure.
var errThrottled = errors.New("push send throttled")

// pushSender is the gateway call shared by the outbox and direct paths.
type pushSender struct {
	gateway     provider.Gateway
	rateLimiter ratelimit.RateLimiter
	metrics     *observability.Metrics
	now         func() time.Time
}

func (s *pushSender) send(ctx context.Context, n domain.Notification, path string) (*provider.Response, error) {
	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, ratelimit.ScopePush); err != nil {
			return nil, fmt.Errorf("%w: %w", errThrottled, err)
		}
	}

	start := s.now()
	resp, err := s.gateway.Send(ctx, provider.NewMessage(n, start))
	s.metrics.ObserveGatewaySend(path, s.now().Sub(start))

	return resp, err
}

func messageID(resp *provider.Response) string {
	if resp == nil {
		return ""
	}
	return resp.MessageID
}

func failureReason(err error, retriesExhausted bool) string {
	if retriesExhausted {
		return "retry_exhausted"
	}
	if code, ok := provider.ErrorCode(err); ok {
		return code
	}
	return "permanent_error"
}
