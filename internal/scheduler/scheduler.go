// Package scheduler runs the recurring maintenance work: purging
// finished jobs and stale progress entries, taking scheduled database
// snapshots and refreshing the library index when it goes stale. A
// single sync loop re-reads the live configuration on every pass, so
// schedule changes apply without a restart.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/recodarr/internal/cache"
	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/internal/models"
)

const (
	// cleanupSchedule is when job and progress retention runs.
	cleanupSchedule = "0 4 * * *"

	// refreshRetry is the minimum gap between index refresh attempts,
	// so a failing remote cannot be hammered every sync.
	refreshRetry = 10 * time.Minute

	defaultSyncInterval = time.Minute
)

// parser accepts standard five-field cron expressions plus the @every
// and @daily descriptors.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron reports whether expr is an acceptable schedule.
func ValidateCron(expr string) error {
	_, err := parser.Parse(expr)
	return err
}

// JobCleaner purges finished jobs past the configured retention.
type JobCleaner interface {
	CleanupOldJobs(ctx context.Context) (int64, error)
}

// ProgressLedger prunes per-file progress entries.
type ProgressLedger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// SnapshotService creates and prunes database backups.
type SnapshotService interface {
	Create(ctx context.Context) (*models.BackupMetadata, error)
	Prune(ctx context.Context) (int, error)
}

// LibraryIndex refreshes the cached view of the remote tree.
type LibraryIndex interface {
	NeedsRefresh(ctx context.Context, maxAge time.Duration) (bool, error)
	FullIndex(ctx context.Context, root string) (*cache.IndexResult, error)
}

// Remote reports whether the remote library is reachable.
type Remote interface {
	IsConnected() bool
}

// Scheduler fires the maintenance tasks. Each task runs one instance
// at a time; a task still busy when its schedule comes due again is
// skipped until the next pass.
type Scheduler struct {
	store   *config.Store
	queue   JobCleaner
	ledger  ProgressLedger
	backups SnapshotService
	index   LibraryIndex
	remote  Remote

	logger       *slog.Logger
	now          func() time.Time
	syncInterval time.Duration

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
	lastRun   map[string]time.Time
	active    map[string]bool
}

// New creates a scheduler over the maintenance collaborators.
func New(store *config.Store, queue JobCleaner, ledger ProgressLedger, backups SnapshotService, index LibraryIndex, remote Remote, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:        store,
		queue:        queue,
		ledger:       ledger,
		backups:      backups,
		index:        index,
		remote:       remote,
		logger:       logger.With(slog.String("component", "scheduler")),
		now:          time.Now,
		syncInterval: defaultSyncInterval,
		lastRun:      make(map[string]time.Time),
		active:       make(map[string]bool),
	}
}

// WithSyncInterval overrides how often schedules are checked.
func (s *Scheduler) WithSyncInterval(d time.Duration) *Scheduler {
	if d > 0 {
		s.syncInterval = d
	}
	return s
}

// Start begins the sync loop. The first pass runs immediately, which
// rebuilds an empty index on a fresh install.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.startedAt = s.now()

	s.wg.Add(1)
	go s.loop(s.ctx)

	s.logger.Info("scheduler started",
		slog.Duration("sync_interval", s.syncInterval))
	return nil
}

// Stop cancels running tasks and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.sync(ctx)

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sync(ctx)
		}
	}
}

// sync checks every task against the live configuration and launches
// the ones that have come due.
func (s *Scheduler) sync(ctx context.Context) {
	cfg := s.store.Config()

	if s.cronDue("cleanup", cleanupSchedule) {
		s.launch(ctx, "cleanup", s.runCleanup)
	}

	if cfg.Backup.Enabled && s.cronDue("backup", cfg.Backup.Cron) {
		s.launch(ctx, "backup", s.runBackup)
	}

	if hours := cfg.Cache.AutoRefreshHours; hours > 0 {
		s.maybeRefreshIndex(ctx, cfg.Remote.Path, time.Duration(hours)*time.Hour)
	}
}

// cronDue reports whether a schedule has come due since the task last
// ran. The scheduler start time is the baseline for the first fire, so
// a nightly schedule does not trigger at boot.
func (s *Scheduler) cronDue(name, expr string) bool {
	schedule, err := parser.Parse(expr)
	if err != nil {
		s.logger.Warn("invalid schedule",
			slog.String("task", name),
			slog.String("cron", expr),
			slog.Any("error", err))
		return false
	}

	s.mu.Lock()
	last := s.lastRun[name]
	if last.IsZero() {
		last = s.startedAt
	}
	s.mu.Unlock()

	return !s.now().Before(schedule.Next(last))
}

// launch runs a task in its own goroutine unless an instance is still
// active, and records the fire time for the next due calculation.
func (s *Scheduler) launch(ctx context.Context, name string, fn func(context.Context) error) {
	s.mu.Lock()
	if s.active[name] {
		s.mu.Unlock()
		s.logger.Debug("task still running, skipping", slog.String("task", name))
		return
	}
	s.active[name] = true
	s.lastRun[name] = s.now()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.active[name] = false
			s.mu.Unlock()
		}()

		start := time.Now()
		if err := fn(ctx); err != nil {
			s.logger.Error("maintenance task failed",
				slog.String("task", name),
				slog.Any("error", err))
			return
		}
		s.logger.Debug("maintenance task finished",
			slog.String("task", name),
			slog.Duration("elapsed", time.Since(start)))
	}()
}

// runCleanup purges finished jobs and progress entries past their
// retention windows.
func (s *Scheduler) runCleanup(ctx context.Context) error {
	if _, err := s.queue.CleanupOldJobs(ctx); err != nil {
		return err
	}

	days := s.store.Config().Advanced.CleanupOldProgressDays
	if days <= 0 {
		return nil
	}
	cutoff := s.now().AddDate(0, 0, -days)
	removed, err := s.ledger.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purging progress entries: %w", err)
	}
	if removed > 0 {
		s.logger.Info("purged progress entries",
			slog.Int("removed", removed),
			slog.Time("cutoff", cutoff))
	}
	return nil
}

// runBackup takes a scheduled snapshot and prunes old ones.
func (s *Scheduler) runBackup(ctx context.Context) error {
	meta, err := s.backups.Create(ctx)
	if err != nil {
		return fmt.Errorf("scheduled backup: %w", err)
	}
	s.logger.Info("scheduled backup created", slog.String("filename", meta.Filename))

	if _, err := s.backups.Prune(ctx); err != nil {
		return fmt.Errorf("pruning backups: %w", err)
	}
	return nil
}

// maybeRefreshIndex starts a full index run when the index is older
// than the staleness window. Nothing happens while disconnected, and a
// failed run waits refreshRetry before the next attempt.
func (s *Scheduler) maybeRefreshIndex(ctx context.Context, root string, maxAge time.Duration) {
	if !s.remote.IsConnected() {
		return
	}

	s.mu.Lock()
	last := s.lastRun["index-refresh"]
	s.mu.Unlock()
	if !last.IsZero() && s.now().Sub(last) < refreshRetry {
		return
	}

	stale, err := s.index.NeedsRefresh(ctx, maxAge)
	if err != nil {
		s.logger.Error("checking index staleness", slog.Any("error", err))
		return
	}
	if !stale {
		return
	}

	s.launch(ctx, "index-refresh", func(ctx context.Context) error {
		result, err := s.index.FullIndex(ctx, root)
		if err != nil {
			return fmt.Errorf("refreshing index: %w", err)
		}
		s.logger.Info("index refreshed",
			slog.Int("dirs", result.Dirs),
			slog.Int("files", result.Files),
			slog.Int64("removed", result.Removed),
			slog.Duration("elapsed", result.Elapsed))
		return nil
	})
}
