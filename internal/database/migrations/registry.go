package migrations

import (
	"github.com/jmylchreest/recodarr/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order:
// - 001: Core schema (jobs, presets, cache_entries)
// - 002: folder_stats table for remote directory statistics
// - 003: Composite index for queue polling and cleanup queries
// - 004: codec column on cache_entries for skip-reencode lookups
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
		migration002FolderStats(),
		migration003JobsQueueIndex(),
		migration004CacheCodec(),
	}
}

// migration001Schema creates the core tables using GORM AutoMigrate.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create core tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Job{},
				&models.Preset{},
				&models.CacheEntry{},
			)
		},
		Down: func(tx *gorm.DB) error {
			tables := []string{
				"cache_entries",
				"presets",
				"jobs",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}

// migration002FolderStats adds the folder_stats table for cached
// remote directory statistics.
func migration002FolderStats() Migration {
	return Migration{
		Version:     "002",
		Description: "Add folder_stats table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.FolderStats{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable("folder_stats")
		},
	}
}
