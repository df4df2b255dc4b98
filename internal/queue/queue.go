// Package queue contains the pipeline orchestrator. It owns the three
// processing lanes (download, encode, upload), drives every job through
// the state machine in internal/models, and fans activity out on the
// event bus. The Job Store is the single source of truth; the
// orchestrator holds only live progress and lane bookkeeping in memory.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/recodarr/internal/codec"
	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/internal/events"
	"github.com/jmylchreest/recodarr/internal/ffmpeg"
	"github.com/jmylchreest/recodarr/internal/ledger"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/internal/remote"
	"github.com/jmylchreest/recodarr/internal/repository"
	"github.com/jmylchreest/recodarr/internal/storage"
)

// defaultPollInterval is how long an idle lane sleeps before checking
// the store again. Phase handoff latency is bounded by it.
const defaultPollInterval = time.Second

// Transcoder is the slice of the encoder surface the orchestrator
// needs. *ffmpeg.Encoder satisfies it.
type Transcoder interface {
	Probe(ctx context.Context, path string) (*ffmpeg.MediaInfo, error)
	Family() codec.Family
	Encode(ctx context.Context, input, output string, onProgress ffmpeg.ProgressFunc) (*ffmpeg.Result, error)
	UpdateConfig(cfg config.FFmpegConfig)
	Kill()
}

// CompletionLog records finished replacements. *ledger.Service
// satisfies it.
type CompletionLog interface {
	RecordCompletion(ctx context.Context, facts ledger.Entry) error
}

// Status is the orchestrator run state reported to callers.
type Status struct {
	IsRunning bool `json:"is_running"`
	IsPaused  bool `json:"is_paused"`
}

// liveProgress is the in-memory progress of an active phase. It is
// flushed to the job row only on phase transitions.
type liveProgress struct {
	Percent    float64
	FPS        float64
	Speed      float64
	ETASeconds int64
	ElapsedMS  int64
}

// activeJob tracks a job currently held by a lane.
type activeJob struct {
	lane   laneKind
	cancel context.CancelFunc
}

// Orchestrator advances jobs through download, encode and upload. At
// most one job is active per lane; state transitions serialise on the
// orchestrator mutex and persist through the job repository.
type Orchestrator struct {
	jobs    repository.JobRepository
	remote  remote.Capability
	encoder Transcoder
	staging *storage.Staging
	ledger  CompletionLog
	bus     *events.Bus
	logger  *slog.Logger

	pollInterval time.Duration

	cfgMu sync.RWMutex
	cfg   *config.Config

	mu                sync.Mutex
	running           bool
	paused            bool
	pauseAfterCurrent bool
	cancel            context.CancelFunc
	wg                sync.WaitGroup

	active      map[uint]*activeJob
	retryAt     map[uint]time.Time
	pauseWanted map[uint]bool
	// removeWanted marks active jobs to delete once their lane lets go.
	// The value selects whether local artefacts go too.
	removeWanted map[uint]bool

	progressMu sync.RWMutex
	live       map[uint]liveProgress
}

// New creates a stopped orchestrator. Call Start to begin processing.
func New(cfg *config.Config, jobs repository.JobRepository, rc remote.Capability, enc Transcoder, staging *storage.Staging, log CompletionLog, bus *events.Bus, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		jobs:         jobs,
		remote:       rc,
		encoder:      enc,
		staging:      staging,
		ledger:       log,
		bus:          bus,
		logger:       logger.With("component", "queue"),
		pollInterval: defaultPollInterval,
		cfg:          cfg,
		active:       make(map[uint]*activeJob),
		retryAt:      make(map[uint]time.Time),
		pauseWanted:  make(map[uint]bool),
		removeWanted: make(map[uint]bool),
		live:         make(map[uint]liveProgress),
	}
}

// config returns the current configuration snapshot. Callers must not
// mutate it.
func (o *Orchestrator) config() *config.Config {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg
}

// UpdateSettings swaps in a new configuration snapshot and pushes the
// encoder and storage sections to their owners. Takes effect for the
// next phase each job enters; running phases finish on the old values.
func (o *Orchestrator) UpdateSettings(cfg *config.Config) {
	o.cfgMu.Lock()
	o.cfg = cfg
	o.cfgMu.Unlock()

	o.encoder.UpdateConfig(cfg.FFmpeg)
	o.staging.UpdateConfig(cfg.Storage)
	o.logger.Info("queue settings updated")
}

// Start spawns the three lanes. Starting a running orchestrator is a
// no-op.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}

	if err := o.staging.EnsureLayout(); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("preparing staging directories: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.running = true

	for _, lane := range []laneKind{laneDownload, laneEncode, laneUpload} {
		o.wg.Add(1)
		go o.runLane(ctx, lane)
	}
	o.mu.Unlock()

	o.logger.Info("queue started")
	o.emitStatus()
	return nil
}

// Stop cancels the lanes and waits for them to unwind. Active jobs are
// returned to the state preceding their phase; a running encode is
// killed, transfers are aborted.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	cancel := o.cancel
	o.cancel = nil
	o.running = false
	o.mu.Unlock()

	cancel()
	o.encoder.Kill()
	o.wg.Wait()

	o.logger.Info("queue stopped")
	o.emitStatus()
}

// Pause stops the lanes from claiming new work. Phases already running
// finish normally.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	if o.paused {
		o.mu.Unlock()
		return
	}
	o.paused = true
	o.mu.Unlock()

	o.logger.Info("queue paused")
	o.emitStatus()
}

// Resume lets the lanes claim work again and clears any pending
// pause-after-current request.
func (o *Orchestrator) Resume() {
	o.mu.Lock()
	wasPaused := o.paused
	hadFlag := o.pauseAfterCurrent
	o.paused = false
	o.pauseAfterCurrent = false
	o.mu.Unlock()

	if hadFlag {
		o.bus.Publish(events.TopicPauseAfterCurrentChange, events.PauseAfterCurrentPayload{Enabled: false})
	}
	if wasPaused || hadFlag {
		o.logger.Info("queue resumed")
		o.emitStatus()
	}
}

// SetPauseAfterCurrent arms or disarms the pause-after-current flag.
// While armed no new job is admitted into the pipeline; once the job
// currently in flight reaches a terminal state the queue pauses and
// the flag clears. Arming an idle queue pauses it immediately.
func (o *Orchestrator) SetPauseAfterCurrent(enabled bool) {
	o.mu.Lock()
	if o.pauseAfterCurrent == enabled {
		o.mu.Unlock()
		return
	}
	o.pauseAfterCurrent = enabled
	engaged := enabled && len(o.active) == 0
	if engaged {
		o.pauseAfterCurrent = false
		o.paused = true
	}
	o.mu.Unlock()

	o.bus.Publish(events.TopicPauseAfterCurrentChange, events.PauseAfterCurrentPayload{Enabled: enabled})
	if engaged {
		o.logger.Info("queue paused, nothing in flight")
		o.bus.Publish(events.TopicPauseAfterCurrentChange, events.PauseAfterCurrentPayload{Enabled: false})
		o.emitStatus()
	}
}

// GetPauseAfterCurrent reports whether the flag is armed.
func (o *Orchestrator) GetPauseAfterCurrent() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pauseAfterCurrent
}

// GetStatus reports the orchestrator run state.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{IsRunning: o.running, IsPaused: o.paused}
}

// GetStats returns job counts grouped by status.
func (o *Orchestrator) GetStats(ctx context.Context) (map[models.JobStatus]int64, error) {
	return o.jobs.CountByStatus(ctx)
}

// GetJobs lists jobs with live progress overlaid on active ones.
func (o *Orchestrator) GetJobs(ctx context.Context, filter repository.JobFilter) ([]*models.Job, error) {
	jobs, err := o.jobs.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		o.overlayProgress(job)
	}
	return jobs, nil
}

// GetJob fetches one job with live progress overlaid.
func (o *Orchestrator) GetJob(ctx context.Context, id uint) (*models.Job, error) {
	job, err := o.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, models.ErrJobNotFound
	}
	o.overlayProgress(job)
	return job, nil
}

// CleanupOldJobs purges completed jobs older than the configured
// retention. Returns the number of rows removed.
func (o *Orchestrator) CleanupOldJobs(ctx context.Context) (int64, error) {
	days := o.config().Advanced.CleanupOldJobsDays
	if days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	removed, err := o.jobs.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging completed jobs: %w", err)
	}
	if removed > 0 {
		o.logger.Info("purged completed jobs", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}

// storeProgress records the live progress of an active phase and
// publishes it. The job row is untouched until the phase ends.
func (o *Orchestrator) storeProgress(jobID uint, phase models.JobStatus, p liveProgress) {
	o.progressMu.Lock()
	o.live[jobID] = p
	o.progressMu.Unlock()

	o.bus.Publish(events.TopicProgress, events.ProgressPayload{
		JobID:      jobID,
		Phase:      string(phase),
		Percent:    p.Percent,
		FPS:        p.FPS,
		Speed:      p.Speed,
		ETASeconds: p.ETASeconds,
		ElapsedMS:  p.ElapsedMS,
	})
}

// flushProgress copies live progress into the job struct ahead of a
// persisted transition, then drops the live entry.
func (o *Orchestrator) flushProgress(job *models.Job) {
	o.progressMu.Lock()
	p, ok := o.live[job.ID]
	delete(o.live, job.ID)
	o.progressMu.Unlock()

	if ok {
		job.Percent = p.Percent
		job.FPS = p.FPS
		job.Speed = p.Speed
		job.ETASeconds = p.ETASeconds
	}
}

// overlayProgress applies live progress to a job copy handed to a
// caller.
func (o *Orchestrator) overlayProgress(job *models.Job) {
	o.progressMu.RLock()
	p, ok := o.live[job.ID]
	o.progressMu.RUnlock()

	if ok {
		job.Percent = p.Percent
		job.FPS = p.FPS
		job.Speed = p.Speed
		job.ETASeconds = p.ETASeconds
	}
}

// dropProgress discards the live entry for a job that left its phase.
func (o *Orchestrator) dropProgress(jobID uint) {
	o.progressMu.Lock()
	delete(o.live, jobID)
	o.progressMu.Unlock()
}

func (o *Orchestrator) emitStatus() {
	o.mu.Lock()
	payload := events.StatusChangePayload{IsRunning: o.running, IsPaused: o.paused}
	o.mu.Unlock()
	o.bus.Publish(events.TopicStatusChange, payload)
}

// emitJobUpdate publishes a snapshot of the job so later mutations by
// the lane cannot race the bus consumers.
func (o *Orchestrator) emitJobUpdate(job *models.Job) {
	snapshot := *job
	o.bus.Publish(events.TopicJobUpdate, events.JobPayload{Job: &snapshot})
}

func (o *Orchestrator) emitJobComplete(job *models.Job) {
	snapshot := *job
	o.bus.Publish(events.TopicJobComplete, events.JobPayload{Job: &snapshot})
}

func (o *Orchestrator) emitError(jobID uint, kind models.ErrorKind, message string) {
	o.bus.Publish(events.TopicError, events.ErrorPayload{JobID: jobID, Kind: kind, Message: message})
}
