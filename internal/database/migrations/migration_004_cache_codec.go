package migrations

import (
	"gorm.io/gorm"
)

// migration004CacheCodec adds the codec column to cache_entries so the
// skip-reencode check can consult the index without probing. Fresh
// installs get the column from migration 001; this upgrades databases
// created before it existed.
func migration004CacheCodec() Migration {
	return Migration{
		Version:     "004",
		Description: "Add codec column to cache_entries",
		Up: func(tx *gorm.DB) error {
			if !tx.Migrator().HasColumn("cache_entries", "codec") {
				if err := tx.Exec("ALTER TABLE cache_entries ADD COLUMN codec VARCHAR(32)").Error; err != nil {
					return err
				}
			}
			return tx.Exec("CREATE INDEX IF NOT EXISTS idx_cache_entries_codec ON cache_entries(codec)").Error
		},
		Down: func(tx *gorm.DB) error {
			// SQLite cannot drop columns without recreating the table;
			// dropping just the index is enough for a rollback.
			return tx.Exec("DROP INDEX IF EXISTS idx_cache_entries_codec").Error
		},
	}
}
