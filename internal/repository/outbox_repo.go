package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/beachcheck-push/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type OutboxEventRepository interface {
	Create(ctx context.Context, e *domain.OutboxEvent) error
	GetByID(ctx context.Context, id string) (*domain.OutboxEvent, error)
	// FindDue returns up to limit events in PENDING or FAILED_RETRIABLE whose
	// next_retry_at is not after now, oldest first.
	FindDue(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEvent, error)
	Update(ctx context.Context, e *domain.OutboxEvent) error
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type GormOutboxEventRepo struct {
	db *gorm.DB
}

func NewGormOutboxEventRepo(db *gorm.DB) *GormOutboxEventRepo {
	return &GormOutboxEventRepo{db: db}
}

func (r *GormOutboxEventRepo) Create(ctx context.Context, e *domain.OutboxEvent) error {
	model := outboxEventModelFromDomain(e)
	if err := conn(ctx, r.db).Create(model).Error; err != nil {
		return err
	}
	if e != nil {
		*e = *outboxEventModelToDomain(model)
	}
	return nil
}

func (r *GormOutboxEventRepo) GetByID(ctx context.Context, id string) (*domain.OutboxEvent, error) {
	var model OutboxEventModel
	err := conn(ctx, r.db).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return outboxEventModelToDomain(&model), nil
}

// FindDue skips rows locked by another transaction when called inside one.
func (r *GormOutboxEventRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.OutboxEvent, error) {
	if limit < 1 {
		return nil, nil
	}

	query := conn(ctx, r.db).
		Where("status IN ? AND next_retry_at <= ?", domain.DueStatuses, now).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit)
	if InTransaction(ctx) {
		query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}

	var models []OutboxEventModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	events := make([]domain.OutboxEvent, 0, len(models))
	for i := range models {
		events = append(events, *outboxEventModelToDomain(&models[i]))
	}

	return events, nil
}

func (r *GormOutboxEventRepo) Update(ctx context.Context, e *domain.OutboxEvent) error {
	if e == nil {
		return errors.New("outbox event is required")
	}

	result := conn(ctx, r.db).
		Model(&OutboxEventModel{}).
		Where("id = ?", e.ID).
		Updates(map[string]any{
			"status":        e.Status,
			"retry_count":   e.RetryCount,
			"next_retry_at": e.NextRetryAt,
			"processed_at":  e.ProcessedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormOutboxEventRepo) CountByStatus(ctx context.Context) (map[string]int64, error) {
	var rows []StatusCount
	err := conn(ctx, r.db).
		Model(&OutboxEventModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return countsToMap(rows), nil
}
