package repository

import (
	"time"

	"github.com/kursadbilgin/beachcheck-push/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID             string                  `gorm:"type:uuid;primaryKey"`
	UserID         string                  `gorm:"type:varchar(64);not null"`
	RecipientToken string                  `gorm:"type:varchar(500);not null"`
	Type           domain.NotificationType `gorm:"type:varchar(20);not null"`
	Title          string                  `gorm:"type:varchar(500);not null"`
	Body           string                  `gorm:"type:varchar(1000);not null"`
	Status         domain.Status           `gorm:"type:varchar(20);not null"`
	SentAt         *time.Time              `gorm:"type:timestamptz"`
	ErrorMessage   *string                 `gorm:"type:varchar(500)"`
	Version        int                     `gorm:"not null;default:0"`
	CreatedAt      time.Time               `gorm:"type:timestamptz;not null"`
	UpdatedAt      time.Time               `gorm:"type:timestamptz;not null"`
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// OutboxEventModel is the persistence model for the outbox_events table.
type OutboxEventModel struct {
	ID             string              `gorm:"type:uuid;primaryKey"`
	NotificationID string              `gorm:"type:uuid;not null"`
	EventType      domain.EventType    `gorm:"type:varchar(50);not null"`
	Payload        *string             `gorm:"type:text"`
	Status         domain.OutboxStatus `gorm:"type:varchar(20);not null"`
	RetryCount     int                 `gorm:"not null;default:0"`
	NextRetryAt    time.Time           `gorm:"type:timestamptz;not null"`
	ProcessedAt    *time.Time          `gorm:"type:timestamptz"`
	CreatedAt      time.Time           `gorm:"type:timestamptz;not null;<-:create"`
}

func (OutboxEventModel) TableName() string {
	return "outbox_events"
}

// StatusCount is one row of a GROUP BY status aggregate.
type StatusCount struct {
	Status string `gorm:"column:status"`
	Count  int64  `gorm:"column:count"`
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:             n.ID,
		UserID:         n.UserID,
		RecipientToken: n.RecipientToken,
		Type:           n.Type,
		Title:          n.Title,
		Body:           n.Body,
		Status:         n.Status,
		SentAt:         n.SentAt,
		ErrorMessage:   n.ErrorMessage,
		Version:        n.Version,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:             m.ID,
		UserID:         m.UserID,
		RecipientToken: m.RecipientToken,
		Type:           m.Type,
		Title:          m.Title,
		Body:           m.Body,
		Status:         m.Status,
		SentAt:         m.SentAt,
		ErrorMessage:   m.ErrorMessage,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func outboxEventModelFromDomain(e *domain.OutboxEvent) *OutboxEventModel {
	if e == nil {
		return nil
	}

	return &OutboxEventModel{
		ID:             e.ID,
		NotificationID: e.NotificationID,
		EventType:      e.EventType,
		Payload:        e.Payload,
		Status:         e.Status,
		RetryCount:     e.RetryCount,
		NextRetryAt:    e.NextRetryAt,
		ProcessedAt:    e.ProcessedAt,
		CreatedAt:      e.CreatedAt,
	}
}

func outboxEventModelToDomain(m *OutboxEventModel) *domain.OutboxEvent {
	if m == nil {
		return nil
	}

	return &domain.OutboxEvent{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		EventType:      m.EventType,
		Payload:        m.Payload,
		Status:         m.Status,
		RetryCount:     m.RetryCount,
		NextRetryAt:    m.NextRetryAt,
		ProcessedAt:    m.ProcessedAt,
		CreatedAt:      m.CreatedAt,
	}
}

func countsToMap(rows []StatusCount) map[string]int64 {
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts
}
