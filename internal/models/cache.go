package models

import (
	"time"

	"gorm.io/gorm"
)

// CacheEntry is one remote file or directory in the locally mirrored
// library index. The index backs instant search and codec lookups
// without touching the remote.
type CacheEntry struct {
	BaseModel

	// Path is the full POSIX path on the remote library.
	Path string `gorm:"not null;uniqueIndex;size:1024" json:"path"`

	// Name is the base name, indexed for substring search.
	Name string `gorm:"not null;size:512;index" json:"name"`

	// ParentDir is the containing directory, indexed for listings.
	ParentDir string `gorm:"size:1024;index" json:"parent_dir"`

	// IsDir marks directories.
	IsDir bool `json:"is_dir"`

	// Size is the file size in bytes. Zero for directories.
	Size int64 `json:"size"`

	// ModTime is the remote modification time.
	ModTime time.Time `json:"mod_time"`

	// Codec is the last known video codec, filled in lazily from probe
	// results and the progress ledger.
	Codec string `gorm:"size:32;index" json:"codec,omitempty"`

	// SyncedAt is when this entry was last confirmed against the
	// remote listing.
	SyncedAt time.Time `json:"synced_at"`
}

// TableName returns the table name for CacheEntry.
func (CacheEntry) TableName() string {
	return "cache_entries"
}

// Validate performs basic validation on the cache entry.
func (e *CacheEntry) Validate() error {
	if e.Path == "" {
		return ErrFolderPathRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the entry.
func (e *CacheEntry) BeforeCreate(tx *gorm.DB) error {
	return e.Validate()
}

// FolderStats caches aggregate statistics for one remote directory.
// Entries are recomputed when the directory's modification time moves.
type FolderStats struct {
	BaseModel

	// Path is the remote directory path.
	Path string `gorm:"not null;uniqueIndex;size:1024" json:"path"`

	// Size is the total size of files directly in the directory.
	Size int64 `json:"size"`

	// FileCount is the number of files directly in the directory.
	FileCount int64 `json:"file_count"`

	// AvgSize is Size / FileCount, zero when the directory is empty.
	AvgSize int64 `json:"avg_size"`

	// ModTime is the remote modification time the stats were computed
	// against.
	ModTime time.Time `json:"mod_time"`

	// CalculatedAt is when the stats were computed.
	CalculatedAt time.Time `json:"calculated_at"`
}

// TableName returns the table name for FolderStats.
func (FolderStats) TableName() string {
	return "folder_stats"
}

// Stale returns true if the remote directory changed since the stats
// were computed.
func (f *FolderStats) Stale(remoteModTime time.Time) bool {
	return !f.ModTime.Equal(remoteModTime)
}

// Validate performs basic validation on the folder stats.
func (f *FolderStats) Validate() error {
	if f.Path == "" {
		return ErrFolderPathRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the stats row.
func (f *FolderStats) BeforeCreate(tx *gorm.DB) error {
	return f.Validate()
}
