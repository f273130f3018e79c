package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid uppercase", input: "SENT", want: StatusSent},
		{name: "valid lowercase with spaces", input: " pending ", want: StatusPending},
		{name: "invalid", input: "queued", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseNotificationTypeFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseNotificationTypeFromString(" weather_alert ")
	if err != nil {
		t.Fatalf("ParseNotificationTypeFromString() unexpected error = %v", err)
	}
	if got != TypeWeatherAlert {
		t.Fatalf("ParseNotificationTypeFromString() = %s, want %s", got, TypeWeatherAlert)
	}

	_, err = ParseNotificationTypeFromString("promo")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseNotificationTypeFromString() error = %v, want ErrValidation", err)
	}
}

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	if StatusPending.IsTerminal() {
		t.Fatalf("PENDING must not be terminal")
	}
	if !StatusSent.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Fatalf("SENT and FAILED must be terminal")
	}
}

func TestNotificationValidate(t *testing.T) {
	t.Parallel()

	base := Notification{
		UserID:         "user-1",
		RecipientToken: "fcm-token",
		Type:           TypePeakAvoid,
		Title:          "Beach congestion alert",
		Body:           "Haeundae is crowded",
	}

	tests := []struct {
		name    string
		mutate  func(*Notification)
		wantErr bool
	}{
		{
			name:   "valid notification",
			mutate: func(n *Notification) {},
		},
		{
			name: "missing user",
			mutate: func(n *Notification) {
				n.UserID = " "
			},
			wantErr: true,
		},
		{
			name: "missing recipient token",
			mutate: func(n *Notification) {
				n.RecipientToken = ""
			},
			wantErr: true,
		},
		{
			name: "missing title",
			mutate: func(n *Notification) {
				n.Title = ""
			},
			wantErr: true,
		},
		{
			name: "missing body",
			mutate: func(n *Notification) {
				n.Body = ""
			},
			wantErr: true,
		},
		{
			name: "invalid type",
			mutate: func(n *Notification) {
				n.Type = NotificationType("PROMO")
			},
			wantErr: true,
		},
		{
			name: "invalid status",
			mutate: func(n *Notification) {
				n.Status = Status("QUEUED")
			},
			wantErr: true,
		},
		{
			name: "title over limit",
			mutate: func(n *Notification) {
				n.Title = strings.Repeat("a", MaxTitleLength+1)
			},
			wantErr: true,
		},
		{
			name: "body at limit with multibyte runes",
			mutate: func(n *Notification) {
				n.Body = strings.Repeat("해", MaxBodyLength)
			},
		},
		{
			name: "body over limit with multibyte runes",
			mutate: func(n *Notification) {
				n.Body = strings.Repeat("해", MaxBodyLength+1)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestNotificationMarkSentClearsError(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	msg := "previous failure"
	n := Notification{Status: StatusPending, ErrorMessage: &msg}

	n.MarkSent(now)

	if n.Status != StatusSent {
		t.Fatalf("status = %s, want %s", n.Status, StatusSent)
	}
	if n.SentAt == nil || !n.SentAt.Equal(now) {
		t.Fatalf("sentAt = %v, want %v", n.SentAt, now)
	}
	if n.ErrorMessage != nil {
		t.Fatalf("errorMessage = %q, want nil", *n.ErrorMessage)
	}
}

func TestNotificationMarkFailedTruncatesMessage(t *testing.T) {
	t.Parallel()

	n := Notification{Status: StatusPending}
	n.MarkFailed(time.Unix(1_700_000_000, 0), strings.Repeat("x", MaxErrorMessageLength+20))

	if n.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", n.Status, StatusFailed)
	}
	if n.ErrorMessage == nil {
		t.Fatalf("errorMessage = nil, want truncated message")
	}
	if got := len(*n.ErrorMessage); got != MaxErrorMessageLength {
		t.Fatalf("errorMessage length = %d, want %d", got, MaxErrorMessageLength)
	}
	if n.SentAt != nil {
		t.Fatalf("sentAt = %v, want nil", n.SentAt)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		max  int
		want string
	}{
		{in: "hello", max: 10, want: "hello"},
		{in: "hello", max: 3, want: "hel"},
		{in: "해변알림", max: 2, want: "해변"},
		{in: "hello", max: 0, want: ""},
	}

	for _, tt := range tests {
		if got := Truncate(tt.in, tt.max); got != tt.want {
			t.Fatalf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestContentBuilders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		content  Content
		wantType NotificationType
		contains string
	}{
		{name: "congestion", content: CongestionAlert("Haeundae", 85), wantType: TypePeakAvoid, contains: "85%"},
		{name: "reminder", content: DateReminder("Gwangalli"), wantType: TypeDateReminder, contains: "Gwangalli"},
		{name: "favorite", content: FavoriteUpdateAlert("Songjeong", "water quality"), wantType: TypeFavoriteUpdate, contains: "water quality"},
		{name: "weather", content: WeatherAlert("Haeundae", "High wave warning"), wantType: TypeWeatherAlert, contains: "High wave warning"},
		{name: "probe", content: ProbeContent("ping", "pong"), wantType: TypeTest, contains: "pong"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if tt.content.Type != tt.wantType {
				t.Fatalf("type = %s, want %s", tt.content.Type, tt.wantType)
			}
			if tt.content.Title == "" {
				t.Fatalf("title must not be empty")
			}
			if !strings.Contains(tt.content.Body, tt.contains) {
				t.Fatalf("body = %q, want it to contain %q", tt.content.Body, tt.contains)
			}
		})
	}
}
