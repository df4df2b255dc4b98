// Package backup creates, restores and prunes snapshots of the job
// database. A snapshot is a VACUUM INTO copy of the SQLite file,
// gzip-compressed and described by a companion .meta.json carrying the
// checksum, sizes and row counts, so an operator can verify a backup
// and move it between installations.
package backup

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shirou/gopsutil/v4/disk"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/internal/database"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/internal/version"
)

const (
	filePrefix      = "recodarr-backup-"
	timestampFormat = "2006-01-02T15-04-05.000"

	// minFreeSpace is the headroom required before a snapshot starts.
	minFreeSpace = 100 * 1024 * 1024
)

// countedTables are the tables whose row counts go into the metadata.
var countedTables = []string{"jobs", "presets", "cache_entries", "folder_stats"}

// Service snapshots and restores the database. Only the sqlite driver
// is supported; VACUUM INTO has no portable equivalent for the server
// drivers.
type Service struct {
	db     *database.DB
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	dir       string
	retention int
}

// New creates a backup service storing snapshots under cfg.Directory.
func New(db *database.DB, cfg config.BackupConfig, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:        db,
		logger:    logger.With(slog.String("component", "backup")),
		now:       time.Now,
		dir:       cfg.Directory,
		retention: cfg.Retention,
	}
}

// UpdateSettings applies a changed backup configuration. The directory
// and retention take effect on the next operation.
func (s *Service) UpdateSettings(cfg config.BackupConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir = cfg.Directory
	s.retention = cfg.Retention
}

// Directory returns the current backup storage directory.
func (s *Service) Directory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir
}

func (s *Service) settings() (dir string, retention int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dir, s.retention
}

// Create produces a new snapshot and returns its metadata.
func (s *Service) Create(ctx context.Context) (*models.BackupMetadata, error) {
	if s.db.Driver() != "sqlite" {
		return nil, fmt.Errorf("database backups require the sqlite driver, got %s", s.db.Driver())
	}

	dir, _ := s.settings()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	if err := s.checkDiskSpace(dir); err != nil {
		return nil, err
	}

	timestamp := s.now().UTC()
	baseName := filePrefix + timestamp.Format(timestampFormat)
	dbPath := filepath.Join(dir, baseName+".db")
	gzPath := filepath.Join(dir, baseName+".db.gz")
	metaPath := filepath.Join(dir, baseName+".meta.json")

	if _, err := os.Stat(gzPath); err == nil {
		return nil, fmt.Errorf("backup already exists: %s", filepath.Base(gzPath))
	}

	s.logger.Debug("snapshotting database", slog.String("path", dbPath))
	if err := s.db.WithContext(ctx).Exec("VACUUM INTO ?", dbPath).Error; err != nil {
		return nil, fmt.Errorf("vacuum into backup: %w", err)
	}

	dbInfo, err := os.Stat(dbPath)
	if err != nil {
		return nil, fmt.Errorf("stat backup db: %w", err)
	}
	uncompressedSize := dbInfo.Size()

	if err := compressFile(dbPath, gzPath); err != nil {
		os.Remove(dbPath)
		return nil, fmt.Errorf("compressing backup: %w", err)
	}
	os.Remove(dbPath)

	gzInfo, err := os.Stat(gzPath)
	if err != nil {
		return nil, fmt.Errorf("stat compressed backup: %w", err)
	}
	checksum, err := checksumFile(gzPath)
	if err != nil {
		return nil, fmt.Errorf("calculating checksum: %w", err)
	}

	tableCounts, err := s.tableCounts(ctx, s.db.DB)
	if err != nil {
		s.logger.Warn("cannot count table rows", slog.String("error", err.Error()))
		tableCounts = make(map[string]int)
	}

	metaFile := &models.BackupMetadataFile{
		AppVersion:     version.Version,
		DatabaseSize:   uncompressedSize,
		CompressedSize: gzInfo.Size(),
		Checksum:       checksum,
		CreatedAt:      timestamp,
		TableCounts:    tableCounts,
	}
	metaJSON, err := json.MarshalIndent(metaFile, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0o644); err != nil {
		return nil, fmt.Errorf("writing metadata: %w", err)
	}

	meta := &models.BackupMetadata{
		Filename:       filepath.Base(gzPath),
		FilePath:       gzPath,
		CreatedAt:      timestamp,
		FileSize:       gzInfo.Size(),
		Checksum:       checksum,
		AppVersion:     version.Version,
		DatabaseSize:   uncompressedSize,
		CompressedSize: gzInfo.Size(),
		TableCounts:    metaFile.ToTableCounts(),
	}

	s.logger.Info("backup created",
		slog.String("filename", meta.Filename),
		slog.Int64("size", meta.FileSize),
		slog.String("checksum", shortChecksum(meta.Checksum)))
	return meta, nil
}

// List returns every snapshot in the backup directory, newest first.
func (s *Service) List(ctx context.Context) ([]*models.BackupMetadata, error) {
	dir, _ := s.settings()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.BackupMetadata{}, nil
		}
		return nil, err
	}

	var backups []*models.BackupMetadata
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".db.gz") {
			continue
		}
		meta, err := s.loadMetadata(filepath.Join(dir, entry.Name()))
		if err != nil {
			s.logger.Warn("cannot load backup metadata",
				slog.String("filename", entry.Name()),
				slog.String("error", err.Error()))
			continue
		}
		backups = append(backups, meta)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// Get returns the metadata for one snapshot.
func (s *Service) Get(ctx context.Context, filename string) (*models.BackupMetadata, error) {
	if filepath.Base(filename) != filename {
		return nil, fmt.Errorf("invalid filename")
	}
	dir, _ := s.settings()
	return s.loadMetadata(filepath.Join(dir, filename))
}

// Delete removes a snapshot and its metadata file.
func (s *Service) Delete(ctx context.Context, filename string) error {
	if filepath.Base(filename) != filename {
		return fmt.Errorf("invalid filename")
	}
	dir, _ := s.settings()
	backupPath := filepath.Join(dir, filename)
	metaPath := strings.TrimSuffix(backupPath, ".db.gz") + ".meta.json"

	if err := os.Remove(backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing backup file: %w", err)
	}
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("cannot remove metadata file",
			slog.String("path", metaPath),
			slog.String("error", err.Error()))
	}

	s.logger.Info("backup deleted", slog.String("filename", filename))
	return nil
}

// Open opens a snapshot for reading, for download handlers.
func (s *Service) Open(ctx context.Context, filename string) (*os.File, error) {
	if filepath.Base(filename) != filename {
		return nil, fmt.Errorf("invalid filename")
	}
	dir, _ := s.settings()
	return os.Open(filepath.Join(dir, filename))
}

// Restore replaces the live database with the snapshot. A pre-restore
// snapshot is taken first so the swap can be undone. Open connections
// keep the old file; the caller must reconnect afterwards.
func (s *Service) Restore(ctx context.Context, filename string) error {
	if filepath.Base(filename) != filename {
		return fmt.Errorf("invalid filename")
	}
	if s.db.Driver() != "sqlite" {
		return fmt.Errorf("database restore requires the sqlite driver, got %s", s.db.Driver())
	}

	dir, _ := s.settings()
	backupPath := filepath.Join(dir, filename)
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}

	meta, err := s.loadMetadata(backupPath)
	if err != nil {
		return fmt.Errorf("loading backup metadata: %w", err)
	}
	if meta.Checksum != "" {
		checksum, err := checksumFile(backupPath)
		if err != nil {
			return fmt.Errorf("calculating checksum: %w", err)
		}
		if checksum != meta.Checksum {
			return models.NewPipelineError(models.ErrorKindIntegrityMismatch, "backup checksum mismatch, refusing to restore %s", filename)
		}
	} else {
		s.logger.Warn("backup has no recorded checksum, skipping verification",
			slog.String("filename", filename))
	}

	preRestore, err := s.Create(ctx)
	if err != nil {
		return fmt.Errorf("creating pre-restore backup: %w", err)
	}
	s.logger.Info("created pre-restore backup", slog.String("filename", preRestore.Filename))

	tempDB, err := os.CreateTemp(dir, "restore-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempDB.Name()
	tempDB.Close()

	if err := decompressFile(backupPath, tempPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("decompressing backup: %w", err)
	}
	if err := validateDatabase(tempPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("validating restored database: %w", err)
	}

	livePath := s.databasePath()
	if livePath == "" {
		os.Remove(tempPath)
		return fmt.Errorf("could not determine live database path")
	}

	oldPath := livePath + ".old"
	os.Remove(oldPath)
	if err := os.Rename(livePath, oldPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("setting aside live database: %w", err)
	}
	if err := os.Rename(tempPath, livePath); err != nil {
		os.Rename(oldPath, livePath)
		return fmt.Errorf("installing restored database: %w", err)
	}
	os.Remove(oldPath)

	// The database runs in WAL mode; a stale write-ahead log from the
	// replaced file must not be replayed into the restored one.
	os.Remove(livePath + "-wal")
	os.Remove(livePath + "-shm")

	s.logger.Info("database restored",
		slog.String("from_backup", filename),
		slog.String("pre_restore_backup", preRestore.Filename))
	return nil
}

// Prune removes snapshots beyond the retention count, oldest first.
// Retention zero keeps everything.
func (s *Service) Prune(ctx context.Context) (int, error) {
	_, retention := s.settings()
	if retention <= 0 {
		return 0, nil
	}

	backups, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= retention {
		return 0, nil
	}

	deleted := 0
	for i := retention; i < len(backups); i++ {
		if err := s.Delete(ctx, backups[i].Filename); err != nil {
			s.logger.Warn("cannot delete old backup",
				slog.String("filename", backups[i].Filename),
				slog.String("error", err.Error()))
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("pruned old backups", slog.Int("deleted", deleted))
	}
	return deleted, nil
}

// Import stores an uploaded snapshot so it can be restored on this
// installation. The file is validated as a gzipped SQLite database
// before it is accepted.
func (s *Service) Import(ctx context.Context, r io.Reader, filename string) (*models.BackupMetadata, error) {
	dir, _ := s.settings()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	if filepath.Base(filename) != filename {
		return nil, fmt.Errorf("invalid filename: must not contain path separators")
	}
	if !validBackupFilename(filename) {
		return nil, fmt.Errorf("invalid filename format: expected %sYYYY-MM-DDTHH-MM-SS.db.gz", filePrefix)
	}

	destPath := filepath.Join(dir, filename)
	if _, err := os.Stat(destPath); err == nil {
		return nil, fmt.Errorf("backup %s already exists", filename)
	}

	tempFile, err := os.CreateTemp(dir, "upload-*.db.gz")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()
	if _, err := io.Copy(tempFile, r); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return nil, fmt.Errorf("writing uploaded file: %w", err)
	}
	tempFile.Close()

	if err := s.validateSnapshot(tempPath); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("validating backup: %w", err)
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("moving backup into place: %w", err)
	}

	checksum, err := checksumFile(destPath)
	if err != nil {
		return nil, fmt.Errorf("calculating checksum: %w", err)
	}
	info, err := os.Stat(destPath)
	if err != nil {
		return nil, fmt.Errorf("stat imported backup: %w", err)
	}

	createdAt := timestampFromFilename(filename)
	if createdAt.IsZero() {
		createdAt = s.now().UTC()
	}

	metaFile := &models.BackupMetadataFile{
		AppVersion:     "imported",
		CompressedSize: info.Size(),
		Checksum:       checksum,
		CreatedAt:      createdAt,
		TableCounts:    make(map[string]int),
	}
	if dbSize, counts, err := s.inspectSnapshot(destPath); err == nil {
		metaFile.DatabaseSize = dbSize
		metaFile.TableCounts = counts
	}

	metaPath := strings.TrimSuffix(destPath, ".db.gz") + ".meta.json"
	metaJSON, err := json.MarshalIndent(metaFile, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0o644); err != nil {
		s.logger.Warn("cannot write metadata file", slog.String("error", err.Error()))
	}

	meta := &models.BackupMetadata{
		Filename:       filename,
		FilePath:       destPath,
		CreatedAt:      createdAt,
		FileSize:       info.Size(),
		Checksum:       checksum,
		AppVersion:     metaFile.AppVersion,
		DatabaseSize:   metaFile.DatabaseSize,
		CompressedSize: metaFile.CompressedSize,
		TableCounts:    metaFile.ToTableCounts(),
	}

	s.logger.Info("backup imported",
		slog.String("filename", meta.Filename),
		slog.Int64("size", meta.FileSize))
	return meta, nil
}

// checkDiskSpace refuses a snapshot when the backup filesystem is
// nearly full. A failed probe is logged, not fatal.
func (s *Service) checkDiskSpace(dir string) error {
	usage, err := disk.Usage(dir)
	if err != nil {
		s.logger.Warn("unable to check disk space", slog.String("error", err.Error()))
		return nil
	}
	if usage.Free < minFreeSpace {
		return models.NewPipelineError(models.ErrorKindInsufficientSpace,
			"insufficient disk space for backup: %d bytes available, %d required", usage.Free, uint64(minFreeSpace))
	}
	return nil
}

func (s *Service) tableCounts(ctx context.Context, db *gorm.DB) (map[string]int, error) {
	counts := make(map[string]int)
	for _, table := range countedTables {
		var count int64
		if err := db.WithContext(ctx).Table(table).Count(&count).Error; err != nil {
			continue
		}
		counts[table] = int(count)
	}
	return counts, nil
}

// loadMetadata builds the metadata view for one snapshot, tolerating a
// missing or unreadable companion file.
func (s *Service) loadMetadata(backupPath string) (*models.BackupMetadata, error) {
	info, err := os.Stat(backupPath)
	if err != nil {
		return nil, err
	}

	metaPath := strings.TrimSuffix(backupPath, ".db.gz") + ".meta.json"
	var metaFile models.BackupMetadataFile
	if metaData, err := os.ReadFile(metaPath); err == nil {
		if err := json.Unmarshal(metaData, &metaFile); err != nil {
			s.logger.Warn("cannot parse metadata file",
				slog.String("path", metaPath),
				slog.String("error", err.Error()))
		}
	}

	createdAt := metaFile.CreatedAt
	if createdAt.IsZero() {
		createdAt = timestampFromFilename(filepath.Base(backupPath))
		if createdAt.IsZero() {
			createdAt = info.ModTime()
		}
	}

	return &models.BackupMetadata{
		Filename:       filepath.Base(backupPath),
		FilePath:       backupPath,
		CreatedAt:      createdAt,
		FileSize:       info.Size(),
		Checksum:       metaFile.Checksum,
		AppVersion:     metaFile.AppVersion,
		DatabaseSize:   metaFile.DatabaseSize,
		CompressedSize: metaFile.CompressedSize,
		TableCounts:    metaFile.ToTableCounts(),
	}, nil
}

// validateSnapshot verifies that a file is a gzipped SQLite database
// that passes its integrity check.
func (s *Service) validateSnapshot(gzPath string) error {
	dir, _ := s.settings()
	tempFile, err := os.CreateTemp(dir, "validate-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()
	tempFile.Close()
	defer os.Remove(tempPath)

	if err := decompressFile(gzPath, tempPath); err != nil {
		return fmt.Errorf("decompressing: %w", err)
	}
	return validateDatabase(tempPath)
}

// inspectSnapshot decompresses a snapshot to read its uncompressed size
// and row counts.
func (s *Service) inspectSnapshot(gzPath string) (int64, map[string]int, error) {
	dir, _ := s.settings()
	tempFile, err := os.CreateTemp(dir, "inspect-*.db")
	if err != nil {
		return 0, nil, err
	}
	tempPath := tempFile.Name()
	tempFile.Close()
	defer os.Remove(tempPath)

	if err := decompressFile(gzPath, tempPath); err != nil {
		return 0, nil, err
	}
	info, err := os.Stat(tempPath)
	if err != nil {
		return 0, nil, err
	}

	db, err := gorm.Open(sqlite.Open(tempPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return info.Size(), nil, nil
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	counts, _ := s.tableCounts(context.Background(), db)
	return info.Size(), counts, nil
}

// databasePath asks SQLite for the live database file location, which
// survives whatever decorations the DSN carries.
func (s *Service) databasePath() string {
	sqlDB, err := s.db.DB.DB()
	if err != nil {
		return ""
	}
	var seq int
	var name, file string
	row := sqlDB.QueryRow("PRAGMA database_list")
	if err := row.Scan(&seq, &name, &file); err != nil {
		return ""
	}
	return file
}

func compressFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	gw := gzip.NewWriter(dstFile)
	defer gw.Close()

	_, err = io.Copy(gw, srcFile)
	return err
}

func decompressFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	gr, err := gzip.NewReader(srcFile)
	if err != nil {
		return err
	}
	defer gr.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, gr)
	return err
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

func validateDatabase(dbPath string) error {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting sql.DB: %w", err)
	}
	defer sqlDB.Close()

	var result string
	if err := db.Raw("PRAGMA integrity_check").Scan(&result).Error; err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database integrity check failed: %s", result)
	}
	return nil
}

var (
	timestampMillisRe = regexp.MustCompile(filePrefix + `(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}\.\d{3})\.db\.gz`)
	timestampPlainRe  = regexp.MustCompile(filePrefix + `(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2})\.db\.gz`)
)

// timestampFromFilename extracts the creation time from a snapshot
// filename, with or without the millisecond suffix.
func timestampFromFilename(filename string) time.Time {
	if m := timestampMillisRe.FindStringSubmatch(filename); len(m) == 2 {
		if t, err := time.Parse(timestampFormat, m[1]); err == nil {
			return t.UTC()
		}
	}
	if m := timestampPlainRe.FindStringSubmatch(filename); len(m) == 2 {
		if t, err := time.Parse("2006-01-02T15-04-05", m[1]); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// validBackupFilename reports whether a filename looks like one of our
// snapshot names with a parseable timestamp.
func validBackupFilename(filename string) bool {
	if !strings.HasPrefix(filename, filePrefix) || !strings.HasSuffix(filename, ".db.gz") {
		return false
	}
	return !timestampFromFilename(filename).IsZero()
}

// shortChecksum truncates a checksum for log lines.
func shortChecksum(checksum string) string {
	if len(checksum) > 23 {
		return checksum[:23] + "..."
	}
	return checksum
}
