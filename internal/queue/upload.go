package queue

import (
	"context"
	"os"
	"time"

	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/internal/ledger"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/internal/remote"
	"github.com/jmylchreest/recodarr/pkg/format"
)

// runUpload replaces the remote original with the encoded file:
//
//  1. copy the local source into the dated backup tree,
//  2. rename the remote original to its .bak name (the point of no
//     return; a failure before this leaves the remote untouched),
//  3. stream the encoded file to the original path via .part + rename,
//  4. on success drop the remote .bak, record the ledger entry and
//     tidy local files per the keep flags,
//  5. on failure after the rename, put the .bak back; if even that
//     fails the job needs manual intervention and nothing local is
//     deleted.
//
// Jobs that skipped the encode complete here without remote changes.
func (o *Orchestrator) runUpload(ctx context.Context, job *models.Job) error {
	cfg := o.config()

	if job.LocalEncoded == "" && job.CodecAfter != "" && job.CodecAfter == job.CodecBefore {
		return o.completeSkipped(ctx, job)
	}

	info, err := os.Stat(job.LocalEncoded)
	if err != nil || !info.Mode().IsRegular() {
		return models.NewPipelineError(models.ErrorKindNotFound,
			"encoded file missing for %s", job.FileName)
	}
	job.CompressedSize = info.Size()
	job.ComputeRatio()

	// The encode lane applies the same guard, but a manual retry can
	// route a failed job straight here with its oversize output intact.
	// The original must not be replaced by a larger file.
	if cfg.Advanced.BlockLargerEncoded && job.CompressedSize >= job.OriginalSize {
		return models.NewPipelineError(models.ErrorKindOutputLargerThanInput,
			"encoded file is %s, original is %s",
			format.Bytes(job.CompressedSize), format.Bytes(job.OriginalSize))
	}

	if (cfg.Advanced.CreateBackups || cfg.Advanced.KeepOriginal) && job.LocalDownload != "" && job.LocalOriginalBackup == "" {
		backup, err := o.staging.BackupOriginal(job.LocalDownload, time.Now())
		if err != nil {
			return models.WrapPipelineError(models.ErrorKindBackupFailed, err,
				"local backup of %s", job.FileName)
		}
		job.LocalOriginalBackup = backup
		if err := o.jobs.Update(ctx, job); err != nil {
			return err
		}
	}

	// A backup path carried over from an aborted attempt means the
	// original is already renamed away; don't rename again.
	if cfg.Advanced.CreateBackups && job.RemoteBackup == "" {
		backup, renamed, err := remote.BackupRemote(ctx, o.remote, job.RemotePath)
		if err != nil {
			return err
		}
		if renamed {
			job.RemoteBackup = backup
			if err := o.jobs.Update(ctx, job); err != nil {
				return err
			}
		}
	}

	o.logger.Info("upload started",
		"job_id", job.ID,
		"remote_path", job.RemotePath,
		"size", format.Bytes(job.CompressedSize),
	)
	if err := o.remote.Upload(ctx, job.LocalEncoded, job.RemotePath, o.transferProgress(job.ID, models.JobStatusUploading)); err != nil {
		return o.rollback(ctx, job, err)
	}

	return o.finalize(ctx, job, cfg)
}

// rollback puts the remote original back after a failed replacement.
// The original upload error is returned so retry classification sees
// it; a rollback failure supersedes it since the remote is then in an
// inconsistent state.
func (o *Orchestrator) rollback(ctx context.Context, job *models.Job, cause error) error {
	if job.RemoteBackup == "" {
		return cause
	}
	if ctx.Err() != nil {
		// Killed, not failed. The .bak stays put and the next attempt
		// resumes the replacement without renaming again.
		return cause
	}

	if err := remote.RestoreRemote(context.Background(), o.remote, job.RemotePath); err != nil {
		o.logger.Error("rollback failed, remote backup left in place",
			"job_id", job.ID,
			"remote_backup", job.RemoteBackup,
			"upload_error", cause,
		)
		return err
	}

	job.RemoteBackup = ""
	o.logger.Warn("upload failed, remote original restored", "job_id", job.ID, "error", cause)
	return cause
}

// finalize completes a successful replacement: remote .bak removal,
// ledger entry, local tidy-up, terminal transition and events.
func (o *Orchestrator) finalize(ctx context.Context, job *models.Job, cfg *config.Config) error {
	if job.RemoteBackup != "" {
		err := remote.RemoveBackup(ctx, o.remote, job.RemotePath)
		if err != nil && ctx.Err() == nil {
			// A transient blip right after a long upload is common
			// enough to warrant one more attempt before giving up.
			err = remote.RemoveBackup(ctx, o.remote, job.RemotePath)
		}
		if err != nil {
			// RemoteBackup stays on the job record so the stray .bak
			// remains findable.
			o.logger.Warn("stale remote backup left behind",
				"job_id", job.ID,
				"remote_backup", job.RemoteBackup,
				"error", err,
			)
		} else {
			job.RemoteBackup = ""
		}
	}

	o.dropProgress(job.ID)
	if err := job.MarkCompleted(); err != nil {
		return err
	}

	if err := o.ledger.RecordCompletion(ctx, ledger.EntryFromJob(job)); err != nil {
		o.logger.Warn("ledger update failed", "job_id", job.ID, "error", err)
	}

	o.cleanupLocalFiles(job, cfg)
	o.persist(job)

	o.logger.Info("job complete",
		"job_id", job.ID,
		"file", job.FileName,
		"saved", format.Bytes(job.OriginalSize-job.CompressedSize),
		"ratio", format.Ratio(job.CompressionRatio),
	)
	o.emitJobComplete(job)
	o.emitJobUpdate(job)
	return nil
}

// completeSkipped finishes a job whose source already carried the
// target codec. The remote file is left untouched; the ledger entry
// records the file as processed so scans stop suggesting it.
func (o *Orchestrator) completeSkipped(ctx context.Context, job *models.Job) error {
	o.dropProgress(job.ID)
	if err := job.MarkCompleted(); err != nil {
		return err
	}

	if err := o.ledger.RecordCompletion(ctx, ledger.EntryFromJob(job)); err != nil {
		o.logger.Warn("ledger update failed", "job_id", job.ID, "error", err)
	}

	if job.LocalDownload != "" {
		if err := o.staging.RemoveArtifact(job.LocalDownload); err != nil {
			o.logger.Warn("removing downloaded file", "job_id", job.ID, "error", err)
		} else {
			job.LocalDownload = ""
		}
	}
	o.persist(job)

	o.logger.Info("job complete, source already in target codec",
		"job_id", job.ID,
		"file", job.FileName,
	)
	o.emitJobComplete(job)
	o.emitJobUpdate(job)
	return nil
}

// cleanupLocalFiles applies the keep flags after a successful
// replacement. The encoded file is archived into the dated backup tree
// when kept; staging copies never outlive the job.
func (o *Orchestrator) cleanupLocalFiles(job *models.Job, cfg *config.Config) {
	if job.LocalEncoded != "" {
		if cfg.Advanced.KeepEncoded {
			archived, err := o.staging.BackupEncoded(job.LocalEncoded, time.Now())
			if err != nil {
				o.logger.Warn("archiving encoded file, staging copy kept",
					"job_id", job.ID, "error", err)
			} else {
				if err := o.staging.RemoveArtifact(job.LocalEncoded); err != nil {
					o.logger.Warn("removing staged encode", "job_id", job.ID, "error", err)
				}
				job.LocalEncoded = archived
			}
		} else {
			if err := o.staging.RemoveArtifact(job.LocalEncoded); err != nil {
				o.logger.Warn("removing staged encode", "job_id", job.ID, "error", err)
			} else {
				job.LocalEncoded = ""
			}
		}
	}

	if job.LocalDownload != "" {
		if err := o.staging.RemoveArtifact(job.LocalDownload); err != nil {
			o.logger.Warn("removing downloaded file", "job_id", job.ID, "error", err)
		} else {
			job.LocalDownload = ""
		}
	}

	if !cfg.Advanced.KeepOriginal && job.LocalOriginalBackup != "" {
		if err := o.staging.RemoveArtifact(job.LocalOriginalBackup); err != nil {
			o.logger.Warn("removing local backup", "job_id", job.ID, "error", err)
		} else {
			job.LocalOriginalBackup = ""
		}
	}
}
