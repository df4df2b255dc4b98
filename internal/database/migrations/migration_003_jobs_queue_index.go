package migrations

import (
	"gorm.io/gorm"
)

// migration003JobsQueueIndex adds a composite index on (status,
// updated_at). The worker loop polls by status and the cleanup pass
// filters completed jobs by age; both hit this index.
func migration003JobsQueueIndex() Migration {
	return Migration{
		Version:     "003",
		Description: "Add composite index on jobs(status, updated_at)",
		Up: func(tx *gorm.DB) error {
			return tx.Exec("CREATE INDEX IF NOT EXISTS idx_jobs_status_updated_at ON jobs(status, updated_at)").Error
		},
		Down: func(tx *gorm.DB) error {
			return tx.Exec("DROP INDEX IF EXISTS idx_jobs_status_updated_at").Error
		},
	}
}
