package domain

import (
	"fmt"
	"strings"
	"time"
)

// OutboxStatus is the retry state of an outbox event.
type OutboxStatus string

const (
	OutboxStatusPending         OutboxStatus = "PENDING"
	OutboxStatusSent            OutboxStatus = "SENT"
	OutboxStatusFailedRetriable OutboxStatus = "FAILED_RETRIABLE"
	OutboxStatusFailedPermanent OutboxStatus = "FAILED_PERMANENT"
)

func (s OutboxStatus) String() string { return string(s) }

func (s OutboxStatus) IsValid() bool {
	switch s {
	case OutboxStatusPending, OutboxStatusSent, OutboxStatusFailedRetriable, OutboxStatusFailedPermanent:
		return true
	}
	return false
}

func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxStatusSent || s == OutboxStatusFailedPermanent
}

// CanTransitionTo describes the outbox state graph. The Mark* methods do not
// consult it; callers are expected to respect it.
func (s OutboxStatus) CanTransitionTo(next OutboxStatus) bool {
	switch s {
	case OutboxStatusPending, OutboxStatusFailedRetriable:
		switch next {
		case OutboxStatusSent, OutboxStatusFailedRetriable, OutboxStatusFailedPermanent:
			return true
		}
	}
	return false
}

func ParseOutboxStatusFromString(s string) (OutboxStatus, error) {
	st := OutboxStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid outbox status %q", ErrValidation, s)
	}
	return st, nil
}

// DueStatuses are the outbox states the publisher polls for.
var DueStatuses = []OutboxStatus{OutboxStatusPending, OutboxStatusFailedRetriable}

// EventType identifies the side effect an outbox event stands for.
type EventType string

const EventTypePushNotification EventType = "PUSH_NOTIFICATION"

// OutboxEvent is a durable work item asking for one delivery attempt of a
// notification. It carries its own retry state, separate from the
// notification's status.
type OutboxEvent struct {
	ID             string
	NotificationID string
	EventType      EventType
	Payload        *string
	Status         OutboxStatus
	RetryCount     int
	NextRetryAt    time.Time
	ProcessedAt    *time.Time
	CreatedAt      time.Time
}

// NewPushOutboxEvent returns a PENDING push event for the given notification.
// Timestamps are assigned by OnCreate.
func NewPushOutboxEvent(notificationID string, payload *string) *OutboxEvent {
	return &OutboxEvent{
		NotificationID: notificationID,
		EventType:      EventTypePushNotification,
		Payload:        payload,
		Status:         OutboxStatusPending,
	}
}

// OnCreate stamps creation time. A zero NextRetryAt becomes CreatedAt so the
// event is immediately due; an explicit one is kept.
func (e *OutboxEvent) OnCreate(now time.Time) {
	e.CreatedAt = now
	if e.NextRetryAt.IsZero() {
		e.NextRetryAt = e.CreatedAt
	}
	if e.Status == "" {
		e.Status = OutboxStatusPending
	}
	if e.EventType == "" {
		e.EventType = EventTypePushNotification
	}
}

func (e *OutboxEvent) MarkAsSent(now time.Time) {
	processedAt := now
	e.Status = OutboxStatusSent
	e.ProcessedAt = &processedAt
}

func (e *OutboxEvent) MarkAsFailedRetriable(now time.Time, delay time.Duration) {
	e.Status = OutboxStatusFailedRetriable
	e.RetryCount++
	e.NextRetryAt = now.Add(delay)
}

func (e *OutboxEvent) MarkAsFailedPermanent(now time.Time) {
	processedAt := now
	e.Status = OutboxStatusFailedPermanent
	e.ProcessedAt = &processedAt
}

// Reschedule moves the next attempt to at without counting an attempt. Status
// and retry count are unchanged.
func (e *OutboxEvent) Reschedule(at time.Time) {
	e.NextRetryAt = at
}

// IsDue reports whether the poller should pick the event up at now.
func (e *OutboxEvent) IsDue(now time.Time) bool {
	if e.Status != OutboxStatusPending && e.Status != OutboxStatusFailedRetriable {
		return false
	}
	return !e.NextRetryAt.After(now)
}

func (e *OutboxEvent) Validate() error {
	if strings.TrimSpace(e.NotificationID) == "" {
		return fmt.Errorf("%w: notificationId is required", ErrValidation)
	}
	if e.EventType != EventTypePushNotification {
		return fmt.Errorf("%w: invalid event type %q", ErrValidation, e.EventType)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("%w: invalid outbox status %q", ErrValidation, e.Status)
	}
	if e.RetryCount < 0 {
		return fmt.Errorf("%w: retry count must not be negative", ErrValidation)
	}
	return nil
}
