package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/beachcheck-push/internal/repository"
	"gorm.io/gorm"
)

func createOutboxEventsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_outbox_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.OutboxEventModel{}); err != nil {
				return err
			}
			indexes := []string{
				// Serves the due-event poll; terminal rows are excluded.
				`CREATE INDEX IF NOT EXISTS idx_outbox_events_due ON outbox_events (next_retry_at, created_at) WHERE status IN ('PENDING', 'FAILED_RETRIABLE')`,
				`CREATE INDEX IF NOT EXISTS idx_outbox_events_notification_id ON outbox_events (notification_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.OutboxEventModel{})
		},
	}
}
