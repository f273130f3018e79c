package service

import (
	"time"

	"github.com/kursadbilgin/beachcheck-push/internal/provider"
)

const (
	defaultMaxAttempts    = 5
	defaultBaseRetryDelay = 2 * time.Second
	defaultMaxRetryDelay  = 5 * time.Minute
	maxRetryJitterMillis  = 250
)

// RetryPolicy decides whether a failed delivery attempt is retried and how
// long to wait before the next one.
type RetryPolicy struct {
	// MaxAttempts counts every gateway call, the first one included.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseRetryDelay,
		MaxDelay:    defaultMaxRetryDelay,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaultBaseRetryDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxRetryDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// ShouldRetry reports whether an event that has already been retried
// retryCount times gets another attempt after failing with err.
func (p RetryPolicy) ShouldRetry(err error, retryCount int) bool {
	if !provider.IsTransient(err) {
		return false
	}
	return retryCount+1 < p.withDefaults().MaxAttempts
}

// Delay returns BaseDelay * 2^retryCount capped at MaxDelay, plus up to
// 250ms of jitter drawn from randIntn.
func (p RetryPolicy) Delay(retryCount int, randIntn func(n int) int) time.Duration {
	p = p.withDefaults()
	if retryCount < 0 {
		retryCount = 0
	}

	delay := p.BaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}

	jitterMillis := 0
	if randIntn != nil {
		jitterMillis = randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}
