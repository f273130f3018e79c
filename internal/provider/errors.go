package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrCircuitOpen marks a send the circuit breaker refused without calling the
// gateway. It says nothing about the message itself.
var ErrCircuitOpen = errors.New("push gateway circuit open")

// DeliveryError is a gateway-reported send failure, classified as transient
// (worth retrying) or permanent.
type DeliveryError struct {
	// Code is the gateway's own error code, e.g. "UNREGISTERED".
	Code       string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *DeliveryError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 5)
	parts = append(parts, "delivery error")

	if code := strings.TrimSpace(e.Code); code != "" {
		parts = append(parts, "code="+code)
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *DeliveryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// ErrorCode returns the gateway error code carried by err, if any.
func ErrorCode(err error) (string, bool) {
	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) && deliveryErr.Code != "" {
		return deliveryErr.Code, true
	}
	return "", false
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var deliveryErr *DeliveryError
	if errors.As(err, &deliveryErr) {
		return deliveryErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
