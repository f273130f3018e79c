package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultBreakerFailureThreshold = 5
	defaultBreakerOpenTimeout      = 30 * time.Second
)

// BreakerConfig tunes the circuit breaker placed in front of a gateway.
type BreakerConfig struct {
	Name string
	// ConsecutiveFailures opens the breaker after this many transient
	// failures in a row.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before letting a probe
	// request through.
	OpenTimeout   time.Duration
	OnStateChange func(name, from, to string)
}

// BreakerGateway stops calling an unhealthy gateway for a while. Rejected
// calls fail fast with a transient DeliveryError so they are retried later.
type BreakerGateway struct {
	next    Gateway
	breaker *gobreaker.CircuitBreaker
}

func NewBreakerGateway(next Gateway, cfg BreakerConfig) (*BreakerGateway, error) {
	if next == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if cfg.Name == "" {
		cfg.Name = "push-gateway"
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = defaultBreakerFailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = defaultBreakerOpenTimeout
	}

	threshold := cfg.ConsecutiveFailures
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A rejected token says nothing about gateway health.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
	}
	if cfg.OnStateChange != nil {
		onChange := cfg.OnStateChange
		settings.OnStateChange = func(name string, from gobreaker.State, to gobreaker.State) {
			onChange(name, from.String(), to.String())
		}
	}

	return &BreakerGateway{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}, nil
}

func (g *BreakerGateway) Send(ctx context.Context, msg Message) (*Response, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Send(ctx, msg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &DeliveryError{
				Code:      "CIRCUIT_OPEN",
				Message:   fmt.Sprintf("gateway %s is unavailable", g.breaker.Name()),
				Transient: true,
				Cause:     fmt.Errorf("%w: %w", ErrCircuitOpen, err),
			}
		}
		return nil, err
	}

	resp, _ := result.(*Response)
	return resp, nil
}

// State returns the breaker state name: "closed", "half-open" or "open".
func (g *BreakerGateway) State() string {
	return g.breaker.State().String()
}
