// Package cache maintains a local index of the remote library tree so
// browsing, search and codec lookups work without touching the remote.
// Index rows and per-directory statistics live in the job database;
// statistics are recomputed when a directory's modification time moves.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/recodarr/internal/events"
	"github.com/jmylchreest/recodarr/internal/ledger"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/internal/remote"
	"github.com/jmylchreest/recodarr/internal/repository"
)

// DurationSource resolves known durations for remote files. The
// progress ledger provides this for everything the pipeline encoded.
type DurationSource interface {
	Lookup(ctx context.Context, remotePath string) (ledger.Entry, bool, error)
}

// Service keeps the library index in sync with the remote tree.
type Service struct {
	repo      repository.CacheRepository
	remote    remote.Capability
	durations DurationSource
	bus       *events.Bus
	logger    *slog.Logger

	mu       sync.Mutex
	indexing bool

	watchDone chan struct{}
	watchSub  *events.Subscriber
}

// New creates the cache service. durations may be nil when no ledger is
// available; folder duration totals are then always zero.
func New(repo repository.CacheRepository, rc remote.Capability, durations DurationSource, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		remote:    rc,
		durations: durations,
		bus:       bus,
		logger:    logger.With("component", "cache"),
	}
}

// Start subscribes the service to job completions so the index learns
// codecs as the pipeline finishes files.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchSub != nil || s.bus == nil {
		return
	}
	s.watchSub = s.bus.Subscribe(events.TopicJobComplete)
	s.watchDone = make(chan struct{})
	go s.watchCompletions(s.watchSub, s.watchDone)
}

// Stop detaches the completion watcher.
func (s *Service) Stop() {
	s.mu.Lock()
	sub := s.watchSub
	done := s.watchDone
	s.watchSub = nil
	s.watchDone = nil
	s.mu.Unlock()

	if sub == nil {
		return
	}
	s.bus.Unsubscribe(sub.ID)
	<-done
}

// watchCompletions backfills codec and size for completed jobs. The
// subscriber channel closes on Unsubscribe.
func (s *Service) watchCompletions(sub *events.Subscriber, done chan struct{}) {
	defer close(done)
	for ev := range sub.Events {
		payload, ok := ev.Payload.(events.JobPayload)
		if !ok || payload.Job == nil {
			continue
		}
		job := payload.Job
		if job.CodecAfter == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.repo.SetCodec(ctx, job.RemotePath, job.CodecAfter); err != nil {
			s.logger.Warn("codec backfill failed", "path", job.RemotePath, "error", err)
		}
		cancel()
	}
}

// Stats summarises the index for the dashboard.
type Stats struct {
	Files      int64     `json:"files"`
	TotalSize  int64     `json:"total_size"`
	LastSynced time.Time `json:"last_synced"`
	Indexing   bool      `json:"indexing"`
}

// Stats reports file count, total size and the newest sync time.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	count, totalSize, err := s.repo.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	last, err := s.repo.LastSynced(ctx)
	if err != nil {
		return Stats{}, err
	}

	s.mu.Lock()
	indexing := s.indexing
	s.mu.Unlock()

	return Stats{Files: count, TotalSize: totalSize, LastSynced: last, Indexing: indexing}, nil
}

// NeedsRefresh reports whether the index is empty or older than maxAge.
// A non-positive maxAge only flags an empty index.
func (s *Service) NeedsRefresh(ctx context.Context, maxAge time.Duration) (bool, error) {
	last, err := s.repo.LastSynced(ctx)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return true, nil
	}
	if maxAge <= 0 {
		return false, nil
	}
	return time.Since(last) > maxAge, nil
}

// IndexResult reports what a full index run covered.
type IndexResult struct {
	Root    string        `json:"root"`
	Dirs    int           `json:"dirs"`
	Files   int           `json:"files"`
	Removed int64         `json:"removed"`
	Elapsed time.Duration `json:"elapsed"`
}

// FullIndex rebuilds the index by walking the remote tree from root.
// Entries confirmed by the walk are refreshed; entries the walk never
// saw are swept afterwards. The sweep only runs when the walk finished
// without error, so a flaky listing cannot silently drop subtrees. One
// run at a time.
func (s *Service) FullIndex(ctx context.Context, root string) (*IndexResult, error) {
	if root == "" || !strings.HasPrefix(root, "/") {
		return nil, models.NewPipelineError(models.ErrorKindInvalidConfig, "index root must be an absolute path, got %q", root)
	}
	if !s.remote.IsConnected() {
		return nil, models.NewPipelineError(models.ErrorKindNetworkFatal, "not connected to the remote library")
	}

	s.mu.Lock()
	if s.indexing {
		s.mu.Unlock()
		return nil, fmt.Errorf("an index run is already in progress")
	}
	s.indexing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.indexing = false
		s.mu.Unlock()
	}()

	start := time.Now()
	result := &IndexResult{Root: root}

	s.logger.Info("full index started", "root", root)
	err := remote.Walk(ctx, s.remote, root, func(dir string, entries []remote.Entry) error {
		result.Dirs++
		batch := entriesForDir(dir, entries, start)
		for _, e := range batch {
			if !e.IsDir {
				result.Files++
			}
		}
		if err := s.repo.UpsertEntries(ctx, batch); err != nil {
			return err
		}
		if result.Dirs%100 == 0 {
			s.logger.Info("indexing", "dirs", result.Dirs, "files", result.Files)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("full index: %w", err)
	}

	removed, err := s.repo.DeleteStale(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("sweeping stale entries: %w", err)
	}
	result.Removed = removed
	result.Elapsed = time.Since(start)

	s.logger.Info("full index finished",
		"root", root,
		"dirs", result.Dirs,
		"files", result.Files,
		"removed", removed,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// Sync refreshes the index rows for one directory, non-recursively.
// Children that vanished from the remote are dropped together with
// anything indexed beneath them. Returns the number of live entries.
func (s *Service) Sync(ctx context.Context, dir string) (int, error) {
	if dir == "" || !strings.HasPrefix(dir, "/") {
		return 0, models.NewPipelineError(models.ErrorKindInvalidConfig, "sync path must be an absolute path, got %q", dir)
	}
	if !s.remote.IsConnected() {
		return 0, models.NewPipelineError(models.ErrorKindNetworkFatal, "not connected to the remote library")
	}

	entries, err := s.remote.List(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("syncing %s: %w", dir, err)
	}

	now := time.Now()
	batch := entriesForDir(dir, entries, now)
	if err := s.repo.UpsertEntries(ctx, batch); err != nil {
		return 0, err
	}

	live := make(map[string]bool, len(batch))
	for _, e := range batch {
		live[e.Path] = true
	}
	cached, err := s.repo.ListDir(ctx, dir)
	if err != nil {
		return 0, err
	}
	for _, c := range cached {
		if live[c.Path] {
			continue
		}
		if _, err := s.repo.DeleteSubtree(ctx, c.Path); err != nil {
			return 0, err
		}
	}

	s.logger.Debug("directory synced", "dir", dir, "entries", len(batch))
	return len(batch), nil
}

// Directory lists the indexed children of a directory. A miss is filled
// from the remote when connected, so browsing works before any full
// index has run.
func (s *Service) Directory(ctx context.Context, dir string) ([]*models.CacheEntry, error) {
	entries, err := s.repo.ListDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 || !s.remote.IsConnected() {
		return entries, nil
	}

	if _, err := s.Sync(ctx, dir); err != nil {
		return nil, err
	}
	return s.repo.ListDir(ctx, dir)
}

// Entry returns the indexed record for a single path, nil when the path
// is not indexed. Admission uses this for codec hints.
func (s *Service) Entry(ctx context.Context, p string) (*models.CacheEntry, error) {
	return s.repo.GetByPath(ctx, p)
}

// Search returns indexed files whose name contains query. With
// videoOnly set, names without a video extension are dropped from the
// results.
func (s *Service) Search(ctx context.Context, query string, videoOnly bool, limit int) ([]*models.CacheEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query must not be empty")
	}

	entries, err := s.repo.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if !videoOnly {
		return entries, nil
	}

	videos := entries[:0]
	for _, e := range entries {
		if remote.IsVideoName(e.Name) {
			videos = append(videos, e)
		}
	}
	return videos, nil
}

// FolderReport carries directory statistics, optionally with the total
// known duration of the folder's videos.
type FolderReport struct {
	Path              string    `json:"path"`
	Size              int64     `json:"size"`
	FileCount         int64     `json:"file_count"`
	AvgSize           int64     `json:"avg_size"`
	ModTime           time.Time `json:"mod_time"`
	CalculatedAt      time.Time `json:"calculated_at"`
	TotalDurationSecs float64   `json:"total_duration_secs,omitempty"`
}

func reportFromStats(st *models.FolderStats) *FolderReport {
	return &FolderReport{
		Path:         st.Path,
		Size:         st.Size,
		FileCount:    st.FileCount,
		AvgSize:      st.AvgSize,
		ModTime:      st.ModTime,
		CalculatedAt: st.CalculatedAt,
	}
}

// FolderStats returns statistics for a remote directory. A cached row
// is served as long as the directory's modification time is unchanged;
// otherwise the stats are recomputed from a live listing. Disconnected,
// the cached row is served regardless of age.
func (s *Service) FolderStats(ctx context.Context, dir string) (*FolderReport, error) {
	cached, err := s.repo.GetFolderStats(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !s.remote.IsConnected() {
		if cached == nil {
			return nil, models.NewPipelineError(models.ErrorKindNetworkFatal, "not connected and no cached stats for %s", dir)
		}
		return reportFromStats(cached), nil
	}

	st, err := s.remote.Stat(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("statting %s: %w", dir, err)
	}
	if cached != nil && !cached.Stale(st.ModifiedAt) {
		return reportFromStats(cached), nil
	}

	return s.ComputeFolderStats(ctx, dir, false)
}

// ComputeFolderStats recalculates statistics for a directory from a
// live listing and caches the result. With includeDuration set, the
// durations the progress ledger knows for the folder's videos are
// summed in; files the pipeline never probed contribute nothing.
func (s *Service) ComputeFolderStats(ctx context.Context, dir string, includeDuration bool) (*FolderReport, error) {
	if !s.remote.IsConnected() {
		return nil, models.NewPipelineError(models.ErrorKindNetworkFatal, "not connected to the remote library")
	}

	st, err := s.remote.Stat(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("statting %s: %w", dir, err)
	}
	entries, err := s.remote.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	stats := &models.FolderStats{
		Path:         dir,
		ModTime:      st.ModifiedAt,
		CalculatedAt: time.Now(),
	}
	var duration float64
	for _, e := range entries {
		if e.IsDir() || e.IsHidden {
			continue
		}
		stats.Size += e.Size
		stats.FileCount++

		if includeDuration && s.durations != nil && remote.IsVideoName(e.Name) {
			entry, found, lerr := s.durations.Lookup(ctx, e.Path)
			if lerr != nil {
				return nil, fmt.Errorf("looking up duration: %w", lerr)
			}
			if found {
				duration += entry.DurationSecs
			}
		}
	}
	if stats.FileCount > 0 {
		stats.AvgSize = stats.Size / stats.FileCount
	}

	if err := s.repo.UpsertFolderStats(ctx, stats); err != nil {
		return nil, err
	}

	report := reportFromStats(stats)
	report.TotalDurationSecs = duration
	return report, nil
}

// Invalidate drops a path from the index, including anything beneath it
// and its cached folder stats.
func (s *Service) Invalidate(ctx context.Context, p string) error {
	if _, err := s.repo.DeleteSubtree(ctx, p); err != nil {
		return err
	}
	if err := s.repo.InvalidateFolderStats(ctx, p); err != nil {
		return err
	}
	s.logger.Debug("invalidated", "path", p)
	return nil
}

// Clear wipes the whole index and all cached folder stats.
func (s *Service) Clear(ctx context.Context) error {
	if err := s.repo.Clear(ctx); err != nil {
		return err
	}
	if err := s.repo.ClearFolderStats(ctx); err != nil {
		return err
	}
	s.logger.Info("index cleared")
	return nil
}

// entriesForDir converts a remote listing into index rows. Hidden
// entries never enter the index. path.Dir keeps the ParentDir column
// consistent when dir carries a trailing slash.
func entriesForDir(dir string, entries []remote.Entry, syncedAt time.Time) []*models.CacheEntry {
	parent := path.Clean(dir)
	batch := make([]*models.CacheEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsHidden {
			continue
		}
		batch = append(batch, &models.CacheEntry{
			Path:      e.Path,
			Name:      e.Name,
			ParentDir: parent,
			IsDir:     e.IsDir(),
			Size:      e.Size,
			ModTime:   e.ModifiedAt,
			SyncedAt:  syncedAt,
		})
	}
	return batch
}
