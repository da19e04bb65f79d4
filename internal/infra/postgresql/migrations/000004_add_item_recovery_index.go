package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addItemRecoveryIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_add_item_recovery_index",
		Migrate: func(tx *gorm.DB) error {
			statements := []string{
				`CREATE INDEX IF NOT EXISTS idx_batch_items_stale ON batch_items (status, updated_at) WHERE status IN ('pending', 'processing')`,
			}
			for _, sql := range statements {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_batch_items_stale`).Error
		},
	}
}
