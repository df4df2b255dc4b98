package storage

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/disk"

	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/internal/ffmpeg"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/pkg/format"
)

// Backup subdirectories under <local_backup>/<date>/.
const (
	backupDateLayout  = "2006-01-02"
	backupOriginals   = "originals"
	backupEncoded     = "encoded"
	defaultFreeBuffer = 15
)

// DiskStatus describes the filesystem backing the staging tree.
type DiskStatus struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// Staging owns the local working tree: <local_temp>/downloaded for
// in-flight downloads, <local_temp>/encoded for encoder output, and the
// dated backup tree under <local_backup>. It also answers disk-space
// admission checks before a download is allowed to start.
type Staging struct {
	mu     sync.RWMutex
	cfg    config.StorageConfig
	logger *slog.Logger
}

// NewStaging creates the staging service. Call EnsureLayout before first
// use so the roots exist.
func NewStaging(cfg config.StorageConfig, logger *slog.Logger) *Staging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Staging{
		cfg:    cfg,
		logger: logger.With("component", "staging"),
	}
}

// UpdateConfig swaps the storage roots. Files already staged under the
// old roots keep their recorded absolute paths.
func (s *Staging) UpdateConfig(cfg config.StorageConfig) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Staging) config() config.StorageConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// EnsureLayout creates the staging and backup roots.
func (s *Staging) EnsureLayout() error {
	cfg := s.config()
	for _, dir := range []string{cfg.DownloadedDir(), cfg.EncodedDir(), cfg.LocalBackup} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// DownloadedDir returns the directory holding in-flight downloads.
func (s *Staging) DownloadedDir() string {
	return s.config().DownloadedDir()
}

// EncodedDir returns the directory holding encoder output.
func (s *Staging) EncodedDir() string {
	return s.config().EncodedDir()
}

// DownloadPath maps a remote path to its local download location.
func (s *Staging) DownloadPath(remotePath string) string {
	return filepath.Join(s.config().DownloadedDir(), localName(remotePath))
}

// EncodedPath maps an encoded filename to its local staging location.
func (s *Staging) EncodedPath(name string) string {
	return filepath.Join(s.config().EncodedDir(), localName(name))
}

// localName reduces a remote POSIX path to a safe local basename.
func localName(remotePath string) string {
	name := path.Base(strings.ReplaceAll(remotePath, "\\", "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "unnamed"
	}
	return name
}

// BackupOriginal copies a downloaded original into the dated backup tree
// and returns the backup path.
func (s *Staging) BackupOriginal(src string, now time.Time) (string, error) {
	return s.backupCopy(src, now, backupOriginals)
}

// BackupEncoded copies an encoded file into the dated backup tree and
// returns the backup path.
func (s *Staging) BackupEncoded(src string, now time.Time) (string, error) {
	return s.backupCopy(src, now, backupEncoded)
}

func (s *Staging) backupCopy(src string, now time.Time, kind string) (string, error) {
	cfg := s.config()
	if cfg.LocalBackup == "" {
		return "", models.NewPipelineError(models.ErrorKindInvalidConfig, "storage.local_backup is not set")
	}

	box, err := NewSandbox(cfg.LocalBackup)
	if err != nil {
		return "", fmt.Errorf("opening backup root: %w", err)
	}

	rel := filepath.Join(now.Format(backupDateLayout), kind, localName(src))
	rel, err = s.uniqueBackupName(box, rel)
	if err != nil {
		return "", err
	}

	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening backup source: %w", err)
	}
	defer f.Close()

	if err := box.AtomicWriteReader(rel, f); err != nil {
		return "", fmt.Errorf("copying backup: %w", err)
	}

	dest := filepath.Join(cfg.LocalBackup, rel)
	s.logger.Info("local backup written", "source", filepath.Base(src), "backup", dest)
	return dest, nil
}

// uniqueBackupName suffixes the name when the same file was already
// backed up today.
func (s *Staging) uniqueBackupName(box *Sandbox, rel string) (string, error) {
	exists, err := box.Exists(rel)
	if err != nil {
		return "", err
	}
	if !exists {
		return rel, nil
	}

	ext := filepath.Ext(rel)
	stem := strings.TrimSuffix(rel, ext)
	for i := 1; i < 100; i++ {
		candidate := fmt.Sprintf("%s.%d%s", stem, i, ext)
		exists, err := box.Exists(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free backup name for %s", rel)
}

// CheckFree verifies the staging filesystem can hold need bytes plus the
// configured buffer percentage. Failures carry the InsufficientSpace kind
// so the queue fails the job instead of retrying.
func (s *Staging) CheckFree(need int64) error {
	cfg := s.config()
	buffer := cfg.MinFreeSpaceBufferPercent
	if buffer <= 0 {
		buffer = defaultFreeBuffer
	}

	usage, err := s.usage(cfg.LocalTemp)
	if err != nil {
		return fmt.Errorf("checking free space: %w", err)
	}

	required := uint64(need) + uint64(need)*uint64(buffer)/100
	if usage.Free < required {
		return models.NewPipelineError(models.ErrorKindInsufficientSpace,
			"need %s (+%d%% buffer) but only %s free on %s",
			format.Bytes(need), buffer, format.Bytes(int64(usage.Free)), cfg.LocalTemp)
	}
	return nil
}

// DiskStatus reports the staging filesystem for the health endpoint.
func (s *Staging) DiskStatus() (DiskStatus, error) {
	cfg := s.config()
	usage, err := s.usage(cfg.LocalTemp)
	if err != nil {
		return DiskStatus{}, err
	}
	return DiskStatus{
		Path:        cfg.LocalTemp,
		TotalBytes:  usage.Total,
		FreeBytes:   usage.Free,
		UsedBytes:   usage.Used,
		UsedPercent: usage.UsedPercent,
	}, nil
}

// usage walks up from dir until it finds an existing path to measure, so
// admission checks work before EnsureLayout has run.
func (s *Staging) usage(dir string) (*disk.UsageStat, error) {
	probe := dir
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}
	return disk.Usage(probe)
}

// Sentinels returns the absolute paths of encode-state sentinel files
// left in the encoded directory. A sentinel without a finished target
// marks an encode interrupted by a crash.
func (s *Staging) Sentinels() ([]string, error) {
	dir := s.config().EncodedDir()
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading encoded directory: %w", err)
	}

	var sentinels []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ffmpeg.IsSentinel(entry.Name()) {
			sentinels = append(sentinels, filepath.Join(dir, entry.Name()))
		}
	}
	return sentinels, nil
}

// StagedFiles returns the absolute paths of all regular files in the
// downloaded and encoded directories. The startup sweep cross-references
// these against jobs to find orphans.
func (s *Staging) StagedFiles() ([]string, error) {
	cfg := s.config()
	var files []string
	for _, dir := range []string{cfg.DownloadedDir(), cfg.EncodedDir()} {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	return files, nil
}

// RemoveArtifact deletes a staged file, tolerating paths that are already
// gone. Empty paths are ignored so callers can pass job fields directly.
func (s *Staging) RemoveArtifact(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// CopyFile copies src to dst through a temp sibling so a partially
// written destination never looks complete.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("copying: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing destination: %w", closeErr)
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing destination: %w", err)
	}
	return nil
}
