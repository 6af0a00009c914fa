package database

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/rmitchellscott/holofleet/internal/logging"
)

// RunMigrations runs pending schema migrations using gormigrate, then an
// auto-migrate pass as a safety net for newly added columns.
func RunMigrations() error {
	logging.InfoWithComponent(logging.ComponentDatabase, "Running database migrations")

	m := gormigrate.New(DB, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "202508010000_initial_schema",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(GetAllModels()...)
			},
			Rollback: func(tx *gorm.DB) error {
				for _, model := range GetAllModels() {
					if err := tx.Migrator().DropTable(model); err != nil {
						return err
					}
				}
				return nil
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("gormigrate failed: %w", err)
	}

	if err := DB.AutoMigrate(GetAllModels()...); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	return nil
}
