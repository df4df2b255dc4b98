package queue

import (
	"context"
	"time"

	"github.com/jmylchreest/recodarr/internal/ffmpeg"
	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/pkg/format"
)

// runEncode transcodes the staged source and routes the result onwards:
// to the approval gate when pause-before-upload is set, otherwise to
// the upload lane. An output at least as large as the source fails the
// job when blocking is enabled, before any remote change.
func (o *Orchestrator) runEncode(ctx context.Context, job *models.Job) error {
	cfg := o.config()

	if !fileExists(job.LocalDownload) {
		return models.NewPipelineError(models.ErrorKindNotFound,
			"downloaded source missing for %s", job.FileName)
	}

	family := o.encoder.Family()
	output := o.staging.EncodedPath(ffmpeg.EncodedName(job.FileName, family, cfg.Advanced.ReleaseTag))
	start := time.Now()

	res, err := o.encoder.Encode(ctx, job.LocalDownload, output, o.encodeProgress(job.ID, start))
	if err != nil {
		return err
	}

	job.LocalEncoded = res.OutputPath
	job.CodecAfter = string(family)
	job.CompressedSize = res.OutputSize
	job.ComputeRatio()

	o.logger.Info("encode finished",
		"job_id", job.ID,
		"file", job.FileName,
		"encoder", res.Encoder,
		"original", format.Bytes(job.OriginalSize),
		"encoded", format.Bytes(job.CompressedSize),
		"ratio", format.Ratio(job.CompressionRatio),
		"elapsed", res.Elapsed.Round(time.Second),
	)

	if cfg.Advanced.BlockLargerEncoded && job.CompressedSize >= job.OriginalSize {
		return models.NewPipelineError(models.ErrorKindOutputLargerThanInput,
			"encoded file is %s, original is %s",
			format.Bytes(job.CompressedSize), format.Bytes(job.OriginalSize))
	}

	if cfg.Advanced.PauseBeforeUpload {
		o.logger.Info("holding for approval", "job_id", job.ID, "file", job.FileName)
		return o.advance(ctx, job, models.JobStatusAwaitingApproval)
	}
	return o.advance(ctx, job, models.JobStatusReadyUpload)
}

// encodeProgress adapts encoder snapshots into live job progress.
func (o *Orchestrator) encodeProgress(jobID uint, start time.Time) ffmpeg.ProgressFunc {
	return func(p ffmpeg.ProgressUpdate) {
		o.storeProgress(jobID, models.JobStatusEncoding, liveProgress{
			Percent:    p.Percent,
			FPS:        p.FPS,
			Speed:      p.Speed,
			ETASeconds: p.ETASeconds,
			ElapsedMS:  time.Since(start).Milliseconds(),
		})
	}
}
