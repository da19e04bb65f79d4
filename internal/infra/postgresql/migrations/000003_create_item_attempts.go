package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"gorm.io/gorm"
)

func createItemAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_item_attempts",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.ItemAttemptModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ItemAttemptModel{})
		},
	}
}
