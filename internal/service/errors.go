package service

import (
	"errors"
	"fmt"
)

// Stages at which a local write can fail after the gateway outcome is known.
const (
	StageNotificationSent   = "notification_sent"
	StageNotificationFailed = "notification_failed"
	StageEventSent          = "event_sent"
	StageEventRetry         = "event_retry"
	StageEventPermanent     = "event_permanent"
)

// BookkeepingError reports that a gateway outcome was confirmed but could not
// be recorded locally. It is never a delivery failure and needs manual
// reconciliation.
type BookkeepingError struct {
	Stage          string
	NotificationID string
	OutboxEventID  string
	Err            error
}

func (e *BookkeepingError) Error() string {
	msg := fmt.Sprintf("bookkeeping failed at %s for notification %s", e.Stage, e.NotificationID)
	if e.OutboxEventID != "" {
		msg += fmt.Sprintf(" (outbox event %s)", e.OutboxEventID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *BookkeepingError) Unwrap() error {
	return e.Err
}

func IsBookkeepingError(err error) bool {
	var bookkeepingErr *BookkeepingError
	return errors.As(err, &bookkeepingErr)
}
