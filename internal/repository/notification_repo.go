package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/beachcheck-push/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	// GetByIDForUpdate row-locks the notification. It must run inside a
	// transaction to hold the lock past the read.
	GetByIDForUpdate(ctx context.Context, id string) (*domain.Notification, error)
	// Update persists n if its Version still matches the stored row and bumps
	// the version. A stale version returns domain.ErrConflict.
	Update(ctx context.Context, n *domain.Notification) error
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := conn(ctx, r.db).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) GetByIDForUpdate(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) Update(ctx context.Context, n *domain.Notification) error {
	if n == nil {
		return errors.New("notification is required")
	}

	result := conn(ctx, r.db).
		Model(&NotificationModel{}).
		Where("id = ? AND version = ?", n.ID, n.Version).
		Updates(map[string]any{
			"status":        n.Status,
			"sent_at":       n.SentAt,
			"error_message": n.ErrorMessage,
			"updated_at":    n.UpdatedAt,
			"version":       gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, n.ID); err != nil {
			return err
		}
		return domain.ErrConflict
	}

	n.Version++
	return nil
}

func (r *GormNotificationRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit < 1 {
		limit = 50
	}
	limit = min(limit, 100)

	var models []NotificationModel
	err := conn(ctx, r.db).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, nil
}

func (r *GormNotificationRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []StatusCount
	err := conn(ctx, r.db).
		Model(&NotificationModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return countsToMap(rows), nil
}
