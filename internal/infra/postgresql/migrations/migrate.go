package migrations

import (
	"errors"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func all() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createBatchesTable(),
		createBatchItemsTable(),
		createItemAttemptsTable(),
		addItemRecoveryIndex(),
	}
}

func Migrate(db *gorm.DB) error {
	return gormigrate.New(db, gormigrate.DefaultOptions, all()).Migrate()
}

// RollbackLast undoes the most recently applied migration. It is a no-op when
// nothing has been applied.
func RollbackLast(db *gorm.DB) error {
	err := gormigrate.New(db, gormigrate.DefaultOptions, all()).RollbackLast()
	if errors.Is(err, gormigrate.ErrNoRunMigration) {
		return nil
	}
	return err
}
