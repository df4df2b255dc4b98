package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jmylchreest/recodarr/internal/codec"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/internal/repository"
)

// AddRequest describes a remote file to queue. Size comes from the
// remote listing; the codec fields are optional hints from the library
// index and are confirmed by the post-download probe.
type AddRequest struct {
	RemotePath   string  `json:"remote_path"`
	Size         int64   `json:"size"`
	Codec        string  `json:"codec,omitempty"`
	Container    string  `json:"container,omitempty"`
	Resolution   string  `json:"resolution,omitempty"`
	DurationSecs float64 `json:"duration_secs,omitempty"`
	Bitrate      int64   `json:"bitrate,omitempty"`
}

// Add queues a remote file. Adding a path that is already queued
// returns the existing job with added=false instead of an error.
//
// When the source codec is already known to match the target family
// and skipping is enabled, the job short-circuits straight to
// ready_upload with codec_after equal to codec_before; the upload lane
// completes it without touching the remote.
func (o *Orchestrator) Add(ctx context.Context, req AddRequest) (job *models.Job, added bool, err error) {
	if req.RemotePath == "" || !strings.HasPrefix(req.RemotePath, "/") || strings.HasSuffix(req.RemotePath, "/") {
		return nil, false, models.NewPipelineError(models.ErrorKindInvalidConfig,
			"remote path must be an absolute file path, got %q", req.RemotePath)
	}
	if !o.remote.IsConnected() {
		return nil, false, models.NewPipelineError(models.ErrorKindNetworkFatal,
			"not connected to the remote library")
	}

	existing, err := o.jobs.GetByRemotePath(ctx, req.RemotePath)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		o.logger.Debug("job already queued", "job_id", existing.ID, "remote_path", req.RemotePath)
		return existing, false, nil
	}

	job = models.NewJob(req.RemotePath, req.Size)
	job.Container = req.Container
	job.Resolution = req.Resolution
	job.DurationSecs = req.DurationSecs
	job.Bitrate = req.Bitrate
	if req.Codec != "" {
		job.CodecBefore = codec.Normalize(req.Codec)
	}

	cfg := o.config()
	if cfg.Advanced.SkipAlreadyTargetCodec && job.CodecBefore != "" && o.encoder.Family().Matches(job.CodecBefore) {
		job.Status = models.JobStatusReadyUpload
		job.CodecAfter = job.CodecBefore
		job.CompressedSize = job.OriginalSize
		job.ComputeRatio()
		o.logger.Info("source already in target codec, encode skipped",
			"remote_path", req.RemotePath,
			"codec", job.CodecBefore,
		)
	} else if err := o.staging.CheckFree(req.Size); err != nil {
		return nil, false, err
	}

	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, false, fmt.Errorf("creating job: %w", err)
	}

	o.logger.Info("job added",
		"job_id", job.ID,
		"remote_path", job.RemotePath,
		"size", job.OriginalSize,
		"status", string(job.Status),
	)
	o.emitJobUpdate(job)
	return job, true, nil
}

// PauseJob suspends a job. A job resting between phases pauses
// immediately. A job held by a lane pauses at its next safe boundary;
// a running encode is killed right away since its partial output is
// discarded anyway.
func (o *Orchestrator) PauseJob(ctx context.Context, id uint) (*models.Job, error) {
	o.mu.Lock()
	job, err := o.getJob(ctx, id)
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}

	if a, ok := o.active[id]; ok {
		o.pauseWanted[id] = true
		if a.lane == laneEncode {
			a.cancel()
		}
		o.mu.Unlock()
		o.logger.Info("pause requested", "job_id", id, "lane", string(a.lane))
		return job, nil
	}

	// Pause and persist under the mutex so no lane claims the job in
	// between.
	if err := job.Pause(); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	if err := o.jobs.Update(ctx, job); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.mu.Unlock()

	o.logger.Info("job paused", "job_id", id, "resumes_at", string(job.PrePauseStatus))
	o.emitJobUpdate(job)
	return job, nil
}

// ResumeJob returns a paused job to its pre-pause status.
func (o *Orchestrator) ResumeJob(ctx context.Context, id uint) (*models.Job, error) {
	job, err := o.getJob(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := job.Resume(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	delete(o.retryAt, id)
	o.mu.Unlock()

	if err := o.jobs.Update(ctx, job); err != nil {
		return nil, err
	}
	o.logger.Info("job resumed", "job_id", id, "status", string(job.Status))
	o.emitJobUpdate(job)
	return job, nil
}

// RetryJob requeues a failed job at the earliest phase whose inputs
// are still on disk. The automatic retry budget starts over.
func (o *Orchestrator) RetryJob(ctx context.Context, id uint) (*models.Job, error) {
	job, err := o.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusFailed {
		return nil, fmt.Errorf("job %d is %s, only failed jobs can be retried", id, job.Status)
	}
	if job.NeedsManualIntervention() {
		return nil, fmt.Errorf("job %d requires manual intervention: %s", id, job.ErrorMessage)
	}

	target := models.JobStatusWaiting
	switch {
	case fileExists(job.LocalEncoded):
		target = models.JobStatusReadyUpload
	case fileExists(job.LocalDownload):
		target = models.JobStatusReadyEncode
	}

	job.ClearError()
	job.RetryCount = 0
	if err := job.Transition(target); err != nil {
		return nil, err
	}
	job.ResetProgress()

	o.mu.Lock()
	delete(o.retryAt, id)
	o.mu.Unlock()

	if err := o.jobs.Update(ctx, job); err != nil {
		return nil, err
	}
	o.logger.Info("job requeued", "job_id", id, "status", string(target))
	o.emitJobUpdate(job)
	return job, nil
}

// ApproveJob releases a job held in awaiting_approval to the upload
// lane.
func (o *Orchestrator) ApproveJob(ctx context.Context, id uint) (*models.Job, error) {
	job, err := o.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusAwaitingApproval {
		return nil, fmt.Errorf("job %d is %s, not awaiting approval", id, job.Status)
	}

	if err := job.Transition(models.JobStatusReadyUpload); err != nil {
		return nil, err
	}
	if err := o.jobs.Update(ctx, job); err != nil {
		return nil, err
	}
	o.logger.Info("job approved", "job_id", id, "file", job.FileName)
	o.emitJobUpdate(job)
	return job, nil
}

// RejectJob fails a job held in awaiting_approval. Local artefacts are
// kept so the decision can be revisited with a retry.
func (o *Orchestrator) RejectJob(ctx context.Context, id uint) (*models.Job, error) {
	job, err := o.getJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusAwaitingApproval {
		return nil, fmt.Errorf("job %d is %s, not awaiting approval", id, job.Status)
	}

	cause := errors.New("rejected before upload")
	if err := job.MarkFailed(models.ErrorKindUserRejected, cause); err != nil {
		return nil, err
	}
	if err := o.jobs.Update(ctx, job); err != nil {
		return nil, err
	}
	o.logger.Info("job rejected", "job_id", id, "file", job.FileName)
	o.emitError(id, models.ErrorKindUserRejected, cause.Error())
	o.emitJobUpdate(job)
	return job, nil
}

// RemoveJob drops a job from the queue, keeping its local files.
func (o *Orchestrator) RemoveJob(ctx context.Context, id uint) error {
	return o.remove(ctx, id, false)
}

// DeleteJob drops a job and its local working files. Dated backup
// copies are kept.
func (o *Orchestrator) DeleteJob(ctx context.Context, id uint) error {
	return o.remove(ctx, id, true)
}

func (o *Orchestrator) remove(ctx context.Context, id uint, withArtifacts bool) error {
	o.mu.Lock()
	job, err := o.getJob(ctx, id)
	if err != nil {
		o.mu.Unlock()
		return err
	}

	if a, ok := o.active[id]; ok {
		o.removeWanted[id] = withArtifacts
		a.cancel()
		o.mu.Unlock()
		o.logger.Info("removal requested", "job_id", id, "lane", string(a.lane))
		return nil
	}

	// Delete the row under the mutex so no lane claims the job in
	// between.
	delete(o.retryAt, id)
	if err := o.jobs.Delete(ctx, id); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	if withArtifacts {
		o.removeArtifacts(job)
	}
	o.dropProgress(id)
	o.logger.Info("job removed", "job_id", id, "file", job.FileName)
	return nil
}

// Clear removes every job not currently held by a lane. Local files
// are kept. Returns the number of jobs removed.
func (o *Orchestrator) Clear(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	jobs, err := o.jobs.List(ctx, repository.JobFilter{})
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, job := range jobs {
		if _, held := o.active[job.ID]; held {
			continue
		}
		if err := o.jobs.Delete(ctx, job.ID); err != nil {
			o.logger.Error("clearing job", "job_id", job.ID, "error", err)
			continue
		}
		delete(o.retryAt, job.ID)
		removed++
	}

	o.logger.Info("queue cleared", "removed", removed)
	return removed, nil
}

// getJob fetches a job or reports models.ErrJobNotFound.
func (o *Orchestrator) getJob(ctx context.Context, id uint) (*models.Job, error) {
	job, err := o.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, models.ErrJobNotFound
	}
	return job, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
