package models

import "time"

// BackupMetadata represents a database backup file's metadata.
// This is derived from filesystem scanning and companion metadata
// files, not stored in the database.
type BackupMetadata struct {
	Filename       string      `json:"filename"`        // e.g., "recodarr-backup-2026-08-25T03-00-00.db.gz"
	FilePath       string      `json:"file_path"`       // Full path to backup file
	CreatedAt      time.Time   `json:"created_at"`      // Extracted from filename
	FileSize       int64       `json:"file_size"`       // Size in bytes
	Checksum       string      `json:"checksum"`        // SHA256 hash for integrity verification
	AppVersion     string      `json:"app_version"`     // Version that created the backup (from metadata file)
	DatabaseSize   int64       `json:"database_size"`   // Uncompressed size
	CompressedSize int64       `json:"compressed_size"` // Gzip compressed size
	TableCounts    TableCounts `json:"table_counts"`    // Row counts per table
}

// TableCounts holds row counts for key tables in a backup.
type TableCounts struct {
	Jobs         int `json:"jobs"`
	Presets      int `json:"presets"`
	CacheEntries int `json:"cache_entries"`
	FolderStats  int `json:"folder_stats"`
}

// BackupMetadataFile is the structure stored in companion .meta.json files.
type BackupMetadataFile struct {
	AppVersion     string         `json:"app_version"`
	DatabaseSize   int64          `json:"database_size"`   // Uncompressed size
	CompressedSize int64          `json:"compressed_size"` // Gzip compressed size
	Checksum       string         `json:"checksum"`        // SHA256 of .db.gz file
	CreatedAt      time.Time      `json:"created_at"`
	TableCounts    map[string]int `json:"table_counts"` // Row counts per table
}

// ToTableCounts converts the map-based table counts to the structured
// TableCounts type.
func (m *BackupMetadataFile) ToTableCounts() TableCounts {
	return TableCounts{
		Jobs:         m.TableCounts["jobs"],
		Presets:      m.TableCounts["presets"],
		CacheEntries: m.TableCounts["cache_entries"],
		FolderStats:  m.TableCounts["folder_stats"],
	}
}

// BackupScheduleInfo represents the backup schedule configuration for
// API responses.
type BackupScheduleInfo struct {
	Enabled   bool   `json:"enabled"`
	Cron      string `json:"cron"`
	Retention int    `json:"retention"`
}
