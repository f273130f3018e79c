package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Status represents the delivery state of a notification.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusSent, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further delivery should be attempted.
func (s Status) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// NotificationType tags what triggered a notification. Clients use it to route
// background handling.
type NotificationType string

const (
	TypePeakAvoid      NotificationType = "PEAK_AVOID"
	TypeDateReminder   NotificationType = "DATE_REMINDER"
	TypeFavoriteUpdate NotificationType = "FAVORITE_UPDATE"
	TypeWeatherAlert   NotificationType = "WEATHER_ALERT"
	TypeTest           NotificationType = "TEST"
)

func (t NotificationType) String() string { return string(t) }

func (t NotificationType) IsValid() bool {
	switch t {
	case TypePeakAvoid, TypeDateReminder, TypeFavoriteUpdate, TypeWeatherAlert, TypeTest:
		return true
	}
	return false
}

func ParseNotificationTypeFromString(s string) (NotificationType, error) {
	nt := NotificationType(strings.ToUpper(strings.TrimSpace(s)))
	if !nt.IsValid() {
		return "", fmt.Errorf("%w: invalid notification type %q", ErrValidation, s)
	}
	return nt, nil
}

// Column limits (in characters).
const (
	MaxRecipientTokenLength = 500
	MaxTitleLength          = 500
	MaxBodyLength           = 1000
	MaxErrorMessageLength   = 500
)

// Notification is the durable intent to deliver one push message to one
// recipient. Its status is independent of any outbox event pointing at it.
type Notification struct {
	ID             string
	UserID         string
	RecipientToken string
	Type           NotificationType
	Title          string
	Body           string
	Status         Status
	SentAt         *time.Time
	ErrorMessage   *string
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (n *Notification) Validate() error {
	if strings.TrimSpace(n.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrValidation)
	}
	if strings.TrimSpace(n.RecipientToken) == "" {
		return fmt.Errorf("%w: recipient token is required", ErrValidation)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(n.Body) == "" {
		return fmt.Errorf("%w: body is required", ErrValidation)
	}
	if !n.Type.IsValid() {
		return fmt.Errorf("%w: invalid notification type %q", ErrValidation, n.Type)
	}
	if n.Status != "" && !n.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, n.Status)
	}

	limits := []struct {
		field string
		value string
		max   int
	}{
		{field: "recipient token", value: n.RecipientToken, max: MaxRecipientTokenLength},
		{field: "title", value: n.Title, max: MaxTitleLength},
		{field: "body", value: n.Body, max: MaxBodyLength},
	}
	for _, l := range limits {
		if got := utf8.RuneCountInString(l.value); got > l.max {
			return fmt.Errorf("%w: %s exceeds %d characters (got %d)", ErrValidation, l.field, l.max, got)
		}
	}

	return nil
}

func (n *Notification) IsTerminal() bool {
	return n.Status.IsTerminal()
}

// MarkSent records a confirmed delivery. Any previous error is cleared.
func (n *Notification) MarkSent(now time.Time) {
	sentAt := now
	n.Status = StatusSent
	n.SentAt = &sentAt
	n.ErrorMessage = nil
	n.UpdatedAt = now
}

// MarkFailed records a confirmed delivery failure. The message is capped at
// MaxErrorMessageLength characters.
func (n *Notification) MarkFailed(now time.Time, message string) {
	msg := Truncate(message, MaxErrorMessageLength)
	n.Status = StatusFailed
	n.ErrorMessage = &msg
	n.UpdatedAt = now
}

// Truncate shortens s to at most max runes.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
