package queue

import (
	"context"
	"time"

	"github.com/jmylchreest/recodarr/internal/ffmpeg"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/internal/remote"
	"github.com/jmylchreest/recodarr/pkg/format"
)

// runDownload stages the remote source locally, probes it, and hands
// the job to the encode lane. A source found to already carry the
// target codec skips straight to the upload lane, which completes it
// without remote changes.
func (o *Orchestrator) runDownload(ctx context.Context, job *models.Job) error {
	cfg := o.config()

	// A codec hint from the library index can spare the transfer
	// entirely when skipping is enabled after admission.
	if cfg.Advanced.SkipAlreadyTargetCodec && job.CodecBefore != "" && o.encoder.Family().Matches(job.CodecBefore) {
		o.markSkipped(job)
		return o.advance(ctx, job, models.JobStatusReadyUpload)
	}

	if err := o.staging.CheckFree(job.OriginalSize); err != nil {
		return err
	}

	local := o.staging.DownloadPath(job.RemotePath)
	start := time.Now()

	o.logger.Info("download started",
		"job_id", job.ID,
		"remote_path", job.RemotePath,
		"size", format.Bytes(job.OriginalSize),
	)
	if err := o.remote.Download(ctx, job.RemotePath, local, o.transferProgress(job.ID, models.JobStatusDownloading)); err != nil {
		return err
	}
	job.LocalDownload = local
	o.logger.Info("download complete",
		"job_id", job.ID,
		"file", job.FileName,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	info, err := o.encoder.Probe(ctx, local)
	if err != nil {
		return err
	}
	applyProbe(job, info)

	if cfg.Advanced.SkipAlreadyTargetCodec && o.encoder.Family().Matches(job.CodecBefore) {
		o.markSkipped(job)
		return o.advance(ctx, job, models.JobStatusReadyUpload)
	}
	return o.advance(ctx, job, models.JobStatusReadyEncode)
}

// markSkipped records the no-encode outcome: the output codec equals
// the input codec and the sizes match, so the ratio computes to zero.
func (o *Orchestrator) markSkipped(job *models.Job) {
	job.CodecAfter = job.CodecBefore
	job.CompressedSize = job.OriginalSize
	job.ComputeRatio()
	o.logger.Info("source already in target codec, encode skipped",
		"job_id", job.ID,
		"codec", job.CodecBefore,
	)
}

// applyProbe copies source facts from the probe into the job. The
// probed size supersedes the listing size; the listing can be stale.
func applyProbe(job *models.Job, info *ffmpeg.MediaInfo) {
	job.CodecBefore = info.VideoCodec
	job.Container = info.Container
	job.Resolution = info.Resolution()
	job.DurationSecs = info.DurationSecs
	job.Bitrate = info.Bitrate
	job.AudioTracks = len(info.AudioTracks)
	job.AudioCodec = info.PrimaryAudioCodec()
	job.SubtitleTracks = len(info.SubtitleTracks)
	if info.Size > 0 {
		job.OriginalSize = info.Size
	}
}

// transferProgress adapts transfer snapshots into live job progress.
func (o *Orchestrator) transferProgress(jobID uint, phase models.JobStatus) remote.ProgressFunc {
	return func(p remote.Progress) {
		o.storeProgress(jobID, phase, liveProgress{
			Percent:    p.Percent,
			Speed:      p.Speed,
			ETASeconds: int64(p.ETA / time.Second),
			ElapsedMS:  p.Elapsed.Milliseconds(),
		})
	}
}
