package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmylchreest/recodarr/internal/events"
	"github.com/jmylchreest/recodarr/internal/ffmpeg"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/internal/repository"
)

// errNoJobs signals an idle poll; the lane sleeps instead of logging.
var errNoJobs = errors.New("no jobs available")

// claimWindow bounds how many queued rows a lane inspects when the
// oldest ones are held back by a retry backoff.
const claimWindow = 25

// laneKind identifies one of the three processing lanes.
type laneKind string

const (
	laneDownload laneKind = "download"
	laneEncode   laneKind = "encode"
	laneUpload   laneKind = "upload"
)

// sourceStatus is the resting status a lane claims jobs from. It is
// also where a transient failure re-queues them.
func (l laneKind) sourceStatus() models.JobStatus {
	switch l {
	case laneDownload:
		return models.JobStatusWaiting
	case laneEncode:
		return models.JobStatusReadyEncode
	default:
		return models.JobStatusReadyUpload
	}
}

// activeStatus is the status a lane moves a claimed job into.
func (l laneKind) activeStatus() models.JobStatus {
	switch l {
	case laneDownload:
		return models.JobStatusDownloading
	case laneEncode:
		return models.JobStatusEncoding
	default:
		return models.JobStatusUploading
	}
}

// fallbackKind classifies failures that reach the lane unclassified.
func (l laneKind) fallbackKind() models.ErrorKind {
	if l == laneEncode {
		return models.ErrorKindEncoderFailed
	}
	return models.ErrorKindNetworkFatal
}

// runLane polls the store for work until the orchestrator stops. One
// goroutine per lane keeps the at-most-one-job-per-phase guarantee
// structural.
func (o *Orchestrator) runLane(ctx context.Context, lane laneKind) {
	defer o.wg.Done()

	logger := o.logger.With("lane", string(lane))
	logger.Debug("lane started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("lane stopped")
			return
		default:
		}

		err := o.step(ctx, lane)
		if err == nil {
			continue
		}
		if err != errNoJobs && ctx.Err() == nil {
			logger.Error("lane step failed", "error", err)
		}

		select {
		case <-ctx.Done():
		case <-time.After(o.pollInterval):
		}
	}
}

// step claims the next eligible job, runs its phase and settles the
// outcome. Returns errNoJobs when there was nothing to do.
func (o *Orchestrator) step(ctx context.Context, lane laneKind) error {
	job, jobCtx, cancel, err := o.claim(ctx, lane)
	if err != nil {
		return err
	}
	defer cancel()

	o.logger.Info("job claimed",
		"lane", string(lane),
		"job_id", job.ID,
		"file", job.FileName,
	)
	o.emitJobUpdate(job)

	runErr := o.runPhase(jobCtx, lane, job)
	o.settle(lane, job, jobCtx, runErr)
	return nil
}

// claim picks the oldest eligible job for the lane and moves it into
// the lane's active status. Admission gates (queue pause, prefetch
// bounds) are evaluated here under the orchestrator mutex.
func (o *Orchestrator) claim(ctx context.Context, lane laneKind) (*models.Job, context.Context, context.CancelFunc, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.paused {
		return nil, nil, nil, errNoJobs
	}

	if lane == laneDownload {
		if err := o.downloadGate(ctx); err != nil {
			return nil, nil, nil, err
		}
	}

	job, err := o.nextEligible(ctx, lane.sourceStatus())
	if err != nil {
		return nil, nil, nil, err
	}
	if job == nil {
		return nil, nil, nil, errNoJobs
	}

	if err := job.Transition(lane.activeStatus()); err != nil {
		return nil, nil, nil, err
	}
	job.MarkStarted()
	job.ResetProgress()
	delete(o.retryAt, job.ID)

	if err := o.jobs.Update(ctx, job); err != nil {
		return nil, nil, nil, fmt.Errorf("claiming job %d: %w", job.ID, err)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	o.active[job.ID] = &activeJob{lane: lane, cancel: cancel}
	return job, jobCtx, cancel, nil
}

// downloadGate holds back new admissions while pause-after-current is
// armed, downloads are disabled, or enough files are already staged
// ahead of the encoder. Called with the orchestrator mutex held.
func (o *Orchestrator) downloadGate(ctx context.Context) error {
	if o.pauseAfterCurrent {
		return errNoJobs
	}

	cfg := o.config()
	if cfg.Advanced.MaxConcurrentDownloads < 1 {
		return errNoJobs
	}

	limit := cfg.Advanced.MaxPrefetchFiles
	if limit < 1 {
		limit = 1
	}
	counts, err := o.jobs.CountByStatus(ctx)
	if err != nil {
		return err
	}
	staged := counts[models.JobStatusDownloading] + counts[models.JobStatusReadyEncode]
	if staged >= int64(limit) {
		return errNoJobs
	}
	return nil
}

// nextEligible returns the oldest job in status whose retry backoff,
// if any, has elapsed. Called with the orchestrator mutex held.
func (o *Orchestrator) nextEligible(ctx context.Context, status models.JobStatus) (*models.Job, error) {
	jobs, err := o.jobs.List(ctx, repository.JobFilter{
		Statuses: []models.JobStatus{status},
		Limit:    claimWindow,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, job := range jobs {
		if at, ok := o.retryAt[job.ID]; ok && now.Before(at) {
			continue
		}
		return job, nil
	}
	return nil, nil
}

// runPhase dispatches to the lane's phase implementation.
func (o *Orchestrator) runPhase(ctx context.Context, lane laneKind, job *models.Job) error {
	switch lane {
	case laneDownload:
		return o.runDownload(ctx, job)
	case laneEncode:
		return o.runEncode(ctx, job)
	default:
		return o.runUpload(ctx, job)
	}
}

// settle releases the lane's hold on the job and resolves the phase
// outcome: success, deferred user actions, cancellation or failure.
// Only this lane's own registration is released; a job that already
// advanced into the next lane belongs to that lane.
func (o *Orchestrator) settle(lane laneKind, job *models.Job, jobCtx context.Context, runErr error) {
	o.mu.Lock()
	if a, ok := o.active[job.ID]; ok && a.lane == lane {
		delete(o.active, job.ID)
	}
	wantPause := o.pauseWanted[job.ID]
	delete(o.pauseWanted, job.ID)
	withArtifacts, wantRemove := o.removeWanted[job.ID]
	delete(o.removeWanted, job.ID)
	o.mu.Unlock()

	switch {
	case wantRemove:
		o.finishRemove(job, withArtifacts)
		return
	case runErr == nil:
		if wantPause {
			o.applyDeferredPause(job)
		}
	case jobCtx.Err() != nil:
		if wantPause {
			o.applyKilledPause(job)
		} else {
			o.resetToRestart(job)
		}
	default:
		o.failJob(lane, job, runErr)
	}

	if job.IsFinished() {
		o.engagePauseAfterCurrent()
	}
}

// failJob applies the failure policy: transient errors within the
// retry budget re-queue with backoff, everything else marks the job
// failed.
func (o *Orchestrator) failJob(lane laneKind, job *models.Job, runErr error) {
	o.flushProgress(job)

	cfg := o.config()
	if models.IsTransient(runErr) && job.CanRetry(cfg.Advanced.RetryAttempts) {
		delay := job.NextBackoff()
		job.RetryCount++
		if terr := job.Transition(lane.sourceStatus()); terr == nil {
			job.ResetProgress()
			o.mu.Lock()
			o.retryAt[job.ID] = time.Now().Add(delay)
			o.mu.Unlock()
			o.persist(job)

			o.logger.Warn("transient failure, retrying",
				"job_id", job.ID,
				"retry", job.RetryCount,
				"backoff", delay,
				"error", runErr,
			)
			o.emitError(job.ID, models.KindOf(runErr), runErr.Error())
			o.emitJobUpdate(job)
			return
		}
	}

	kind := models.KindOf(runErr)
	if kind == "" {
		kind = lane.fallbackKind()
	}

	// An oversize encode is only worth keeping on disk when the keep
	// flag asks for it; the remote was never touched.
	if kind == models.ErrorKindOutputLargerThanInput && !cfg.Advanced.KeepEncoded && job.LocalEncoded != "" {
		if err := o.staging.RemoveArtifact(job.LocalEncoded); err != nil {
			o.logger.Warn("removing oversize encode", "job_id", job.ID, "error", err)
		} else {
			job.LocalEncoded = ""
		}
	}

	if err := job.MarkFailed(kind, runErr); err != nil {
		o.logger.Error("marking job failed", "job_id", job.ID, "error", err)
		return
	}
	o.persist(job)

	o.logger.Error("job failed",
		"job_id", job.ID,
		"file", job.FileName,
		"kind", string(kind),
		"error", runErr,
	)
	if job.NeedsManualIntervention() {
		o.logger.Error("manual intervention required, remote backup left in place",
			"job_id", job.ID,
			"remote_backup", job.RemoteBackup,
		)
	}
	o.emitError(job.ID, kind, runErr.Error())
	o.emitJobUpdate(job)
}

// resetToRestart returns a cancelled job to the queue position its
// phase started from.
func (o *Orchestrator) resetToRestart(job *models.Job) {
	o.dropProgress(job.ID)

	target := job.Status.RestartTarget()
	if err := job.Transition(target); err != nil {
		o.logger.Error("resetting cancelled job", "job_id", job.ID, "error", err)
		return
	}
	job.ResetProgress()
	o.persist(job)

	o.logger.Info("job returned to queue", "job_id", job.ID, "status", string(target))
	o.emitJobUpdate(job)
}

// applyDeferredPause pauses a job whose phase was allowed to finish
// first. A job that finished the whole pipeline meanwhile stays done;
// one that was already claimed by the next lane keeps the request
// armed so that lane's boundary honours it.
func (o *Orchestrator) applyDeferredPause(job *models.Job) {
	if job.IsFinished() {
		o.logger.Debug("pause requested but job already finished", "job_id", job.ID)
		return
	}

	o.mu.Lock()
	if _, held := o.active[job.ID]; held {
		o.pauseWanted[job.ID] = true
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if err := job.Pause(); err != nil {
		o.logger.Error("pausing job", "job_id", job.ID, "error", err)
		return
	}
	o.persist(job)
	o.logger.Info("job paused", "job_id", job.ID, "resumes_at", string(job.PrePauseStatus))
	o.emitJobUpdate(job)
}

// applyKilledPause pauses a job whose phase was killed on request. The
// in-flight work is discarded, so the resume point is the phase start.
func (o *Orchestrator) applyKilledPause(job *models.Job) {
	o.dropProgress(job.ID)

	if err := job.Pause(); err != nil {
		o.logger.Error("pausing job", "job_id", job.ID, "error", err)
		return
	}
	job.ResetProgress()
	o.persist(job)

	o.logger.Info("job paused", "job_id", job.ID, "resumes_at", string(job.PrePauseStatus))
	o.emitJobUpdate(job)
}

// finishRemove deletes a job whose removal was requested while a lane
// held it.
func (o *Orchestrator) finishRemove(job *models.Job, withArtifacts bool) {
	o.dropProgress(job.ID)

	if withArtifacts {
		o.removeArtifacts(job)
	}
	if err := o.jobs.Delete(context.Background(), job.ID); err != nil {
		o.logger.Error("removing job", "job_id", job.ID, "error", err)
		return
	}
	o.logger.Info("job removed", "job_id", job.ID, "file", job.FileName)
}

// removeArtifacts deletes the job's local working files. Dated backup
// copies are kept; they exist to survive exactly this.
func (o *Orchestrator) removeArtifacts(job *models.Job) {
	for _, p := range []string{job.LocalDownload, job.LocalEncoded} {
		if err := o.staging.RemoveArtifact(p); err != nil {
			o.logger.Warn("removing artifact", "path", p, "error", err)
		}
	}
	if job.LocalEncoded != "" {
		if err := o.staging.RemoveArtifact(ffmpeg.SentinelPath(job.LocalEncoded)); err != nil {
			o.logger.Warn("removing sentinel", "path", job.LocalEncoded, "error", err)
		}
	}
}

// engagePauseAfterCurrent pauses the queue if the flag is armed. Called
// after a job reaches a terminal state.
func (o *Orchestrator) engagePauseAfterCurrent() {
	o.mu.Lock()
	if !o.pauseAfterCurrent {
		o.mu.Unlock()
		return
	}
	o.pauseAfterCurrent = false
	o.paused = true
	o.mu.Unlock()

	o.logger.Info("pause after current engaged")
	o.bus.Publish(events.TopicPauseAfterCurrentChange, events.PauseAfterCurrentPayload{Enabled: false})
	o.emitStatus()
}

// advance moves a job to its next resting status and persists it. Used
// by phases for forward transitions. A pause requested while the phase
// ran is applied here, before the next lane can claim the job.
func (o *Orchestrator) advance(ctx context.Context, job *models.Job, to models.JobStatus) error {
	o.dropProgress(job.ID)

	if err := job.Transition(to); err != nil {
		return err
	}
	job.ResetProgress()

	o.mu.Lock()
	pauseHere := o.pauseWanted[job.ID]
	delete(o.pauseWanted, job.ID)
	o.mu.Unlock()
	if pauseHere {
		if err := job.Pause(); err != nil {
			return err
		}
	}

	if err := o.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("persisting %s: %w", job.Status, err)
	}
	if pauseHere {
		o.logger.Info("job paused", "job_id", job.ID, "resumes_at", string(job.PrePauseStatus))
	}
	o.emitJobUpdate(job)
	return nil
}

// persist writes the job row outside a phase context, surviving
// orchestrator shutdown.
func (o *Orchestrator) persist(job *models.Job) {
	if err := o.jobs.Update(context.Background(), job); err != nil {
		o.logger.Error("persisting job", "job_id", job.ID, "error", err)
	}
}
