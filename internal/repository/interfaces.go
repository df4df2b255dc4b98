// Package repository defines data access interfaces for recodarr
// entities. All database access goes through these interfaces, enabling
// easy testing and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/recodarr/internal/models"
)

// JobFilter narrows List results. Zero values mean no constraint.
type JobFilter struct {
	// Statuses limits results to the given statuses.
	Statuses []models.JobStatus
	// Limit caps the number of rows; 0 means no cap.
	Limit int
	// Offset skips rows for pagination.
	Offset int
}

// JobRepository defines operations for job persistence.
type JobRepository interface {
	// Create creates a new job. The assigned id is written back.
	Create(ctx context.Context, job *models.Job) error
	// GetByID retrieves a job by ID. Returns nil when not found.
	GetByID(ctx context.Context, id uint) (*models.Job, error)
	// GetByRemotePath retrieves a job by its unique remote path.
	// Returns nil when not found.
	GetByRemotePath(ctx context.Context, remotePath string) (*models.Job, error)
	// List retrieves jobs matching the filter, oldest first.
	List(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	// NextByStatus returns the oldest job in the given status, or nil
	// when none is queued.
	NextByStatus(ctx context.Context, status models.JobStatus) (*models.Job, error)
	// CountByStatus returns job counts grouped by status.
	CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error)
	// Update persists all fields of an existing job.
	Update(ctx context.Context, job *models.Job) error
	// Patch updates selected columns of a job without loading it.
	Patch(ctx context.Context, id uint, fields map[string]any) error
	// Delete removes a job row.
	Delete(ctx context.Context, id uint) error
	// DeleteCompletedBefore removes completed jobs that finished before
	// the given time. Returns the number of rows removed.
	DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error)
	// ResetInterrupted returns jobs left in an active state by a crash
	// to the status their worker resumes from, clearing per-phase
	// progress. Returns the number of rows reset.
	ResetInterrupted(ctx context.Context) (int64, error)
}

// CacheRepository defines operations for the mirrored library index
// and cached folder statistics.
type CacheRepository interface {
	// UpsertEntries inserts or refreshes index entries keyed by path.
	UpsertEntries(ctx context.Context, entries []*models.CacheEntry) error
	// GetByPath retrieves one entry. Returns nil when not found.
	GetByPath(ctx context.Context, path string) (*models.CacheEntry, error)
	// Search returns file entries whose name contains the query,
	// case-insensitive, capped at limit.
	Search(ctx context.Context, query string, limit int) ([]*models.CacheEntry, error)
	// ListDir returns the direct children of a directory.
	ListDir(ctx context.Context, dir string) ([]*models.CacheEntry, error)
	// SetCodec records the known video codec for a path.
	SetCodec(ctx context.Context, path, codec string) error
	// DeleteStale removes entries not confirmed since the given time.
	// Used for mark-and-sweep after a full index run.
	DeleteStale(ctx context.Context, olderThan time.Time) (int64, error)
	// DeleteSubtree removes the entry at path and everything under it.
	DeleteSubtree(ctx context.Context, path string) (int64, error)
	// Stats returns entry count and total file size of the index.
	Stats(ctx context.Context) (count int64, totalSize int64, err error)
	// LastSynced returns the newest synced_at in the index, zero when
	// the index is empty.
	LastSynced(ctx context.Context) (time.Time, error)
	// Clear removes the whole index.
	Clear(ctx context.Context) error

	// GetFolderStats retrieves cached stats for a directory. Returns
	// nil when not cached.
	GetFolderStats(ctx context.Context, path string) (*models.FolderStats, error)
	// UpsertFolderStats inserts or replaces stats for a directory.
	UpsertFolderStats(ctx context.Context, stats *models.FolderStats) error
	// InvalidateFolderStats drops cached stats for a directory.
	InvalidateFolderStats(ctx context.Context, path string) error
	// ClearFolderStats drops all cached folder stats.
	ClearFolderStats(ctx context.Context) error
}

// PresetRepository defines operations for preset persistence.
type PresetRepository interface {
	// Save creates the preset or replaces the settings of an existing
	// preset with the same name.
	Save(ctx context.Context, preset *models.Preset) error
	// GetByName retrieves a preset by name. Returns nil when not found.
	GetByName(ctx context.Context, name string) (*models.Preset, error)
	// GetAll retrieves all presets ordered by name.
	GetAll(ctx context.Context) ([]*models.Preset, error)
	// Delete removes a preset by name. Returns models.ErrPresetNotFound
	// when no such preset exists.
	Delete(ctx context.Context, name string) error
}
