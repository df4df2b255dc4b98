package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/recodarr/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// cacheRepo implements CacheRepository using GORM.
type cacheRepo struct {
	db *gorm.DB
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db *gorm.DB) *cacheRepo {
	return &cacheRepo{db: db}
}

// upsertBatchSize bounds the number of rows per insert statement.
// SQLite limits bound variables per statement.
const upsertBatchSize = 100

// UpsertEntries inserts or refreshes index entries keyed by path.
func (r *cacheRepo) UpsertEntries(ctx context.Context, entries []*models.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "parent_dir", "is_dir", "size", "mod_time",
			"synced_at", "updated_at",
		}),
	}).CreateInBatches(entries, upsertBatchSize).Error; err != nil {
		return fmt.Errorf("upserting cache entries: %w", err)
	}
	return nil
}

// GetByPath retrieves one entry.
func (r *cacheRepo) GetByPath(ctx context.Context, path string) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	if err := r.db.WithContext(ctx).Where("path = ?", path).First(&entry).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting cache entry: %w", err)
	}
	return &entry, nil
}

// Search returns file entries whose name contains the query,
// case-insensitive.
func (r *cacheRepo) Search(ctx context.Context, query string, limit int) ([]*models.CacheEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var entries []*models.CacheEntry
	if err := r.db.WithContext(ctx).
		Where("is_dir = ? AND name LIKE ?", false, "%"+query+"%").
		Order("path ASC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("searching cache entries: %w", err)
	}
	return entries, nil
}

// ListDir returns the direct children of a directory.
func (r *cacheRepo) ListDir(ctx context.Context, dir string) ([]*models.CacheEntry, error) {
	var entries []*models.CacheEntry
	if err := r.db.WithContext(ctx).
		Where("parent_dir = ?", dir).
		Order("is_dir DESC, name ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing cache dir: %w", err)
	}
	return entries, nil
}

// SetCodec records the known video codec for a path.
func (r *cacheRepo) SetCodec(ctx context.Context, path, codec string) error {
	result := r.db.WithContext(ctx).Model(&models.CacheEntry{}).
		Where("path = ?", path).
		UpdateColumn("codec", codec)

	if result.Error != nil {
		return fmt.Errorf("setting cache codec: %w", result.Error)
	}
	return nil
}

// DeleteStale removes entries not confirmed since the given time.
func (r *cacheRepo) DeleteStale(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("synced_at < ?", olderThan).
		Delete(&models.CacheEntry{})

	if result.Error != nil {
		return 0, fmt.Errorf("deleting stale cache entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteSubtree removes the entry at path and everything under it.
func (r *cacheRepo) DeleteSubtree(ctx context.Context, path string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("path = ? OR path LIKE ?", path, strings.TrimSuffix(path, "/")+"/%").
		Delete(&models.CacheEntry{})

	if result.Error != nil {
		return 0, fmt.Errorf("deleting cache subtree: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Stats returns entry count and total file size of the index.
func (r *cacheRepo) Stats(ctx context.Context) (int64, int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.CacheEntry{}).
		Where("is_dir = ?", false).
		Count(&count).Error; err != nil {
		return 0, 0, fmt.Errorf("counting cache entries: %w", err)
	}

	var totalSize int64
	if err := r.db.WithContext(ctx).Model(&models.CacheEntry{}).
		Where("is_dir = ?", false).
		Select("COALESCE(SUM(size), 0)").
		Scan(&totalSize).Error; err != nil {
		return 0, 0, fmt.Errorf("summing cache entry sizes: %w", err)
	}

	return count, totalSize, nil
}

// LastSynced returns the newest synced_at in the index.
func (r *cacheRepo) LastSynced(ctx context.Context) (time.Time, error) {
	var last *time.Time
	if err := r.db.WithContext(ctx).Model(&models.CacheEntry{}).
		Select("MAX(synced_at)").
		Scan(&last).Error; err != nil {
		return time.Time{}, fmt.Errorf("reading cache sync time: %w", err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

// Clear removes the whole index.
func (r *cacheRepo) Clear(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.CacheEntry{}).Error; err != nil {
		return fmt.Errorf("clearing cache entries: %w", err)
	}
	return nil
}

// GetFolderStats retrieves cached stats for a directory.
func (r *cacheRepo) GetFolderStats(ctx context.Context, path string) (*models.FolderStats, error) {
	var stats models.FolderStats
	if err := r.db.WithContext(ctx).Where("path = ?", path).First(&stats).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting folder stats: %w", err)
	}
	return &stats, nil
}

// UpsertFolderStats inserts or replaces stats for a directory.
func (r *cacheRepo) UpsertFolderStats(ctx context.Context, stats *models.FolderStats) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"size", "file_count", "avg_size", "mod_time",
			"calculated_at", "updated_at",
		}),
	}).Create(stats).Error; err != nil {
		return fmt.Errorf("upserting folder stats: %w", err)
	}
	return nil
}

// InvalidateFolderStats drops cached stats for a directory.
func (r *cacheRepo) InvalidateFolderStats(ctx context.Context, path string) error {
	if err := r.db.WithContext(ctx).Where("path = ?", path).Delete(&models.FolderStats{}).Error; err != nil {
		return fmt.Errorf("invalidating folder stats: %w", err)
	}
	return nil
}

// ClearFolderStats drops all cached folder stats.
func (r *cacheRepo) ClearFolderStats(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Where("1 = 1").Delete(&models.FolderStats{}).Error; err != nil {
		return fmt.Errorf("clearing folder stats: %w", err)
	}
	return nil
}

// Ensure cacheRepo implements CacheRepository at compile time.
var _ CacheRepository = (*cacheRepo)(nil)
