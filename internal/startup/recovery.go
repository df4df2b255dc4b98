// Package startup runs the one-shot crash-recovery sweep that puts the
// staging tree and the job table back into a consistent state before the
// pipeline workers start.
package startup

import (
	"context"
	"log/slog"
	"os"

	"github.com/jmylchreest/recodarr/internal/ffmpeg"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/internal/repository"
	"github.com/jmylchreest/recodarr/internal/storage"
)

// Report summarises what the recovery sweep found and fixed.
type Report struct {
	// SentinelsCleared counts interrupted encodes whose partial output
	// and sentinel were removed.
	SentinelsCleared int `json:"sentinels_cleared"`

	// JobsReset counts jobs moved out of an active status back to the
	// status their worker resumes from.
	JobsReset int64 `json:"jobs_reset"`

	// OrphansRemoved counts staged files no job references.
	OrphansRemoved int `json:"orphans_removed"`
}

// Recovery owns the startup sweep. Workers must not be running while it
// executes: it treats every active-status job as a crash leftover.
type Recovery struct {
	jobs    repository.JobRepository
	staging *storage.Staging
	logger  *slog.Logger
}

// New creates the recovery sweep.
func New(jobs repository.JobRepository, staging *storage.Staging, logger *slog.Logger) *Recovery {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recovery{
		jobs:    jobs,
		staging: staging,
		logger:  logger.With("component", "startup"),
	}
}

// Run executes the sweep: clear encode sentinels and their partial
// outputs, reset jobs stranded in an active status, then drop staged
// files no job references. Sentinels are handled first so their owning
// jobs leave the encoding status with the output field cleared rather
// than through the generic reset.
func (r *Recovery) Run(ctx context.Context) (Report, error) {
	var report Report

	cleared, err := r.sweepSentinels(ctx)
	report.SentinelsCleared = cleared
	if err != nil {
		return report, err
	}

	reset, err := r.jobs.ResetInterrupted(ctx)
	report.JobsReset = reset
	if err != nil {
		return report, err
	}

	removed, err := r.sweepOrphans(ctx)
	report.OrphansRemoved = removed
	if err != nil {
		return report, err
	}

	if report.SentinelsCleared > 0 || report.JobsReset > 0 || report.OrphansRemoved > 0 {
		r.logger.Info("crash recovery finished",
			"sentinels_cleared", report.SentinelsCleared,
			"jobs_reset", report.JobsReset,
			"orphans_removed", report.OrphansRemoved,
		)
	}
	return report, nil
}

// sweepSentinels removes partial encoder outputs left behind by a crash.
// The sentinel names its output file; the output is deleted before the
// sentinel so a failure between the two never leaves an untracked
// partial.
func (r *Recovery) sweepSentinels(ctx context.Context) (int, error) {
	sentinels, err := r.staging.Sentinels()
	if err != nil {
		return 0, err
	}

	var cleared int
	for _, sentinel := range sentinels {
		target := ffmpeg.TargetFromSentinel(sentinel)
		if err := r.staging.RemoveArtifact(target); err != nil {
			r.logger.Warn("failed to remove partial encode output",
				"path", target,
				"error", err,
			)
			continue
		}
		if err := r.staging.RemoveArtifact(sentinel); err != nil {
			r.logger.Warn("failed to remove encode sentinel",
				"path", sentinel,
				"error", err,
			)
			continue
		}
		cleared++
		r.logger.Info("cleared interrupted encode", "output", target)

		if err := r.resetEncodeJob(ctx, target); err != nil {
			r.logger.Warn("failed to reset job for interrupted encode",
				"output", target,
				"error", err,
			)
		}
	}
	return cleared, nil
}

// resetEncodeJob returns the job owning an interrupted encode output to
// the queue. The job re-encodes from its download when that still
// exists, otherwise it re-downloads first.
func (r *Recovery) resetEncodeJob(ctx context.Context, target string) error {
	encoding, err := r.jobs.List(ctx, repository.JobFilter{
		Statuses: []models.JobStatus{models.JobStatusEncoding},
	})
	if err != nil {
		return err
	}

	for _, job := range encoding {
		if job.LocalEncoded != target {
			continue
		}

		fields := map[string]any{
			"local_encoded": "",
			"percent":       0,
			"fps":           0,
			"speed":         0,
			"eta_seconds":   0,
		}
		status := models.JobStatusReadyEncode
		if job.LocalDownload == "" || !fileExists(job.LocalDownload) {
			status = models.JobStatusWaiting
			fields["local_download"] = ""
		}
		fields["status"] = status

		if err := r.jobs.Patch(ctx, job.ID, fields); err != nil {
			return err
		}
		r.logger.Info("returned interrupted encode to queue",
			"job_id", job.ID,
			"remote_path", job.RemotePath,
			"status", status,
		)
		return nil
	}
	return nil
}

// sweepOrphans removes staged files no job references. It runs after the
// status resets so the reference set reflects the recovered rows;
// partial downloads stay referenced by their waiting jobs and resume.
func (r *Recovery) sweepOrphans(ctx context.Context) (int, error) {
	staged, err := r.staging.StagedFiles()
	if err != nil {
		return 0, err
	}
	if len(staged) == 0 {
		return 0, nil
	}

	jobs, err := r.jobs.List(ctx, repository.JobFilter{})
	if err != nil {
		return 0, err
	}

	referenced := make(map[string]struct{}, len(jobs)*2)
	for _, job := range jobs {
		for _, path := range []string{job.LocalDownload, job.LocalEncoded} {
			if path != "" {
				referenced[path] = struct{}{}
			}
		}
	}

	var removed int
	for _, path := range staged {
		if _, ok := referenced[path]; ok {
			continue
		}
		if err := r.staging.RemoveArtifact(path); err != nil {
			r.logger.Warn("failed to remove orphaned staging file",
				"path", path,
				"error", err,
			)
			continue
		}
		r.logger.Info("removed orphaned staging file", "path", path)
		removed++
	}
	return removed, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
