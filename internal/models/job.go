package models

import (
	"path"
	"time"

	"gorm.io/gorm"
)

// JobStatus represents the pipeline state of a job.
type JobStatus string

const (
	// JobStatusWaiting indicates the job is queued and no phase has
	// claimed it yet.
	JobStatusWaiting JobStatus = "waiting"
	// JobStatusDownloading indicates the download worker is streaming
	// the source file to local storage.
	JobStatusDownloading JobStatus = "downloading"
	// JobStatusReadyEncode indicates the source file is on disk and the
	// job is waiting for the encode worker.
	JobStatusReadyEncode JobStatus = "ready_encode"
	// JobStatusEncoding indicates the transcoder process is running.
	JobStatusEncoding JobStatus = "encoding"
	// JobStatusAwaitingApproval indicates the encode finished and the
	// job is held until an explicit approve or reject call.
	JobStatusAwaitingApproval JobStatus = "awaiting_approval"
	// JobStatusReadyUpload indicates the encoded file is on disk and
	// the job is waiting for the upload worker.
	JobStatusReadyUpload JobStatus = "ready_upload"
	// JobStatusUploading indicates the upload worker is replacing the
	// remote file.
	JobStatusUploading JobStatus = "uploading"
	// JobStatusCompleted indicates the remote file was replaced and the
	// ledger was updated. Terminal.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job stopped with a classified
	// error. Retryable by the user.
	JobStatusFailed JobStatus = "failed"
	// JobStatusPaused indicates the user suspended the job. The
	// pre-pause status records where it resumes.
	JobStatusPaused JobStatus = "paused"
)

// jobTransitions is the pipeline state machine. A job may only move to
// a status listed for its current one; everything else is a bug.
//
// Active states (downloading, encoding, uploading) are entered only by
// their worker and leave either forward, back to their restart point
// when the operation is killed, or to waiting for a transient retry.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusWaiting:          {JobStatusDownloading, JobStatusReadyEncode, JobStatusReadyUpload, JobStatusPaused, JobStatusFailed},
	JobStatusDownloading:      {JobStatusReadyEncode, JobStatusReadyUpload, JobStatusWaiting, JobStatusPaused, JobStatusFailed},
	JobStatusReadyEncode:      {JobStatusEncoding, JobStatusWaiting, JobStatusPaused, JobStatusFailed},
	JobStatusEncoding:         {JobStatusAwaitingApproval, JobStatusReadyUpload, JobStatusReadyEncode, JobStatusWaiting, JobStatusPaused, JobStatusFailed},
	JobStatusAwaitingApproval: {JobStatusReadyUpload, JobStatusPaused, JobStatusFailed},
	JobStatusReadyUpload:      {JobStatusUploading, JobStatusWaiting, JobStatusPaused, JobStatusFailed},
	JobStatusUploading:        {JobStatusCompleted, JobStatusReadyUpload, JobStatusWaiting, JobStatusPaused, JobStatusFailed},
	JobStatusCompleted:        nil,
	JobStatusFailed:           {JobStatusWaiting, JobStatusReadyEncode, JobStatusReadyUpload, JobStatusPaused},
	JobStatusPaused:           {JobStatusWaiting, JobStatusReadyEncode, JobStatusAwaitingApproval, JobStatusReadyUpload, JobStatusFailed},
}

// Valid returns true if s is a known job status.
func (s JobStatus) Valid() bool {
	_, ok := jobTransitions[s]
	return ok
}

// CanTransitionTo returns true if the state machine allows moving from
// s to the given status.
func (s JobStatus) CanTransitionTo(to JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsActive returns true for states where a worker holds the job and an
// external process or transfer is in flight.
func (s JobStatus) IsActive() bool {
	return s == JobStatusDownloading || s == JobStatusEncoding || s == JobStatusUploading
}

// RestartTarget returns the status a job in state s should resume from
// after its in-flight work is discarded: active states map back to the
// queue position their worker picks up from, all others map to
// themselves. SFTP downloads resume from the partial file, so a killed
// download restarts cheaply from waiting.
func (s JobStatus) RestartTarget() JobStatus {
	switch s {
	case JobStatusDownloading:
		return JobStatusWaiting
	case JobStatusEncoding:
		return JobStatusReadyEncode
	case JobStatusUploading:
		return JobStatusReadyUpload
	default:
		return s
	}
}

// Job represents one remote video file moving through the
// download, encode, replace pipeline.
type Job struct {
	BaseModel

	// RemotePath is the POSIX path of the source file on the remote
	// library. Unique: adding the same path again returns the existing
	// job instead of creating a duplicate.
	RemotePath string `gorm:"not null;uniqueIndex;size:1024" json:"remote_path"`

	// FileName is the base name of the remote path, kept denormalised
	// for listings.
	FileName string `gorm:"not null;size:512" json:"file_name"`

	// OriginalSize is the source file size in bytes, from the remote
	// listing at admission.
	OriginalSize int64 `json:"original_size"`

	// CodecBefore is the canonical video codec of the source, filled in
	// after the post-download probe (or from the library cache).
	CodecBefore string `gorm:"size:32" json:"codec_before,omitempty"`

	// Container is the source container format, e.g. "matroska".
	Container string `gorm:"size:64" json:"container,omitempty"`

	// Resolution is the source video resolution, e.g. "1920x1080".
	Resolution string `gorm:"size:32" json:"resolution,omitempty"`

	// DurationSecs is the source duration in seconds, from the probe.
	DurationSecs float64 `json:"duration_secs,omitempty"`

	// Bitrate is the source overall bitrate in bits per second.
	Bitrate int64 `json:"bitrate,omitempty"`

	// AudioTracks is the number of audio streams in the source.
	AudioTracks int `json:"audio_tracks,omitempty"`

	// AudioCodec is the codec of the first audio stream.
	AudioCodec string `gorm:"size:32" json:"audio_codec,omitempty"`

	// SubtitleTracks is the number of subtitle streams in the source.
	SubtitleTracks int `json:"subtitle_tracks,omitempty"`

	// Status is the current pipeline state.
	Status JobStatus `gorm:"not null;default:'waiting';size:20;index" json:"status"`

	// PrePauseStatus records where a paused job resumes. Empty unless
	// Status is paused.
	PrePauseStatus JobStatus `gorm:"size:20" json:"pre_pause_status,omitempty"`

	// Percent is the progress of the current phase, 0-100.
	Percent float64 `json:"percent"`

	// FPS is the encoder frame rate while encoding.
	FPS float64 `json:"fps,omitempty"`

	// Speed is bytes per second during transfers and the realtime
	// factor while encoding.
	Speed float64 `json:"speed,omitempty"`

	// ETASeconds is the estimated remaining time of the current phase.
	ETASeconds int64 `json:"eta_seconds,omitempty"`

	// CodecAfter is the canonical video codec of the encoded output.
	// Equal to CodecBefore when encoding was skipped.
	CodecAfter string `gorm:"size:32" json:"codec_after,omitempty"`

	// CompressedSize is the encoded file size in bytes.
	CompressedSize int64 `json:"compressed_size,omitempty"`

	// CompressionRatio is 1 - compressed/original, set once both sizes
	// are known.
	CompressionRatio float64 `json:"compression_ratio,omitempty"`

	// ErrorKind classifies the failure when Status is failed.
	ErrorKind ErrorKind `gorm:"size:40" json:"error_kind,omitempty"`

	// ErrorMessage is the human-readable failure detail.
	ErrorMessage string `gorm:"size:2048" json:"error_message,omitempty"`

	// StartedAt is when the first phase claimed the job.
	StartedAt *Time `json:"started_at,omitempty"`

	// FinishedAt is when the job reached completed or failed.
	FinishedAt *Time `json:"finished_at,omitempty"`

	// RetryCount is the number of automatic transient retries so far.
	RetryCount int `gorm:"default:0" json:"retry_count"`

	// LocalDownload is the path of the downloaded source file.
	LocalDownload string `gorm:"size:1024" json:"local_download,omitempty"`

	// LocalEncoded is the path of the encoded output file.
	LocalEncoded string `gorm:"size:1024" json:"local_encoded,omitempty"`

	// LocalOriginalBackup is the dated local copy of the source made
	// before upload, when keep_original is enabled.
	LocalOriginalBackup string `gorm:"size:1024" json:"local_original_backup,omitempty"`

	// RemoteBackup is the remote .bak path while an upload is in
	// progress or failed. Cleared after completion or rollback.
	RemoteBackup string `gorm:"size:1024" json:"remote_backup,omitempty"`
}

// TableName returns the table name for Job.
func (Job) TableName() string {
	return "jobs"
}

// NewJob creates a job for a remote file in the waiting state.
func NewJob(remotePath string, size int64) *Job {
	return &Job{
		RemotePath:   remotePath,
		FileName:     path.Base(remotePath),
		OriginalSize: size,
		Status:       JobStatusWaiting,
	}
}

// IsFinished returns true if the job reached completed or failed.
func (j *Job) IsFinished() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// IsActive returns true if a worker currently holds the job.
func (j *Job) IsActive() bool {
	return j.Status.IsActive()
}

// NeedsManualIntervention returns true if the job failed leaving the
// remote in an inconsistent state that the pipeline will not touch.
func (j *Job) NeedsManualIntervention() bool {
	return j.Status == JobStatusFailed && j.ErrorKind.Critical()
}

// CanRetry returns true if the job may be retried automatically within
// the given attempt budget.
func (j *Job) CanRetry(maxAttempts int) bool {
	return j.RetryCount < maxAttempts
}

// Transition moves the job to the given status, enforcing the state
// machine. Callers remain responsible for persisting the change.
func (j *Job) Transition(to JobStatus) error {
	if !j.Status.CanTransitionTo(to) {
		return TransitionError{From: j.Status, To: to}
	}
	j.Status = to
	return nil
}

// MarkStarted records the first time a worker claims the job.
func (j *Job) MarkStarted() {
	if j.StartedAt == nil {
		now := Now()
		j.StartedAt = &now
	}
}

// MarkCompleted transitions the job to completed and stamps the finish
// time.
func (j *Job) MarkCompleted() error {
	if err := j.Transition(JobStatusCompleted); err != nil {
		return err
	}
	now := Now()
	j.FinishedAt = &now
	j.Percent = 100
	j.ErrorKind = ""
	j.ErrorMessage = ""
	return nil
}

// MarkFailed transitions the job to failed with a classified error.
// Calling it on an already failed job only updates the error fields.
func (j *Job) MarkFailed(kind ErrorKind, err error) error {
	if j.Status != JobStatusFailed {
		if terr := j.Transition(JobStatusFailed); terr != nil {
			return terr
		}
	}
	now := Now()
	j.FinishedAt = &now
	j.ErrorKind = kind
	if err != nil {
		j.ErrorMessage = err.Error()
	}
	return nil
}

// ClearError resets failure state ahead of a retry.
func (j *Job) ClearError() {
	j.ErrorKind = ""
	j.ErrorMessage = ""
	j.FinishedAt = nil
}

// Pause suspends the job, recording the restart target so Resume knows
// where to continue. Completed jobs cannot be paused.
func (j *Job) Pause() error {
	if j.Status == JobStatusPaused {
		return nil
	}
	target := j.Status.RestartTarget()
	if err := j.Transition(JobStatusPaused); err != nil {
		return err
	}
	j.PrePauseStatus = target
	return nil
}

// Resume returns a paused job to its pre-pause status.
func (j *Job) Resume() error {
	if j.Status != JobStatusPaused {
		return TransitionError{From: j.Status, To: j.PrePauseStatus}
	}
	target := j.PrePauseStatus
	if target == "" {
		target = JobStatusWaiting
	}
	if err := j.Transition(target); err != nil {
		return err
	}
	j.PrePauseStatus = ""
	return nil
}

// ComputeRatio sets CompressionRatio from the recorded sizes. A no-op
// until both sizes are known.
func (j *Job) ComputeRatio() {
	if j.OriginalSize <= 0 || j.CompressedSize <= 0 {
		return
	}
	j.CompressionRatio = 1 - float64(j.CompressedSize)/float64(j.OriginalSize)
}

// ResetProgress zeroes the per-phase progress fields when a new phase
// begins.
func (j *Job) ResetProgress() {
	j.Percent = 0
	j.FPS = 0
	j.Speed = 0
	j.ETASeconds = 0
}

// NextBackoff returns the delay before the next automatic retry.
// Exponential: 30s * 2^retryCount, capped at 1 hour.
func (j *Job) NextBackoff() time.Duration {
	const (
		baseDelay = 30 * time.Second
		maxDelay  = time.Hour
	)

	retries := j.RetryCount
	if retries < 0 {
		retries = 0
	}
	if retries > 7 {
		return maxDelay
	}

	backoff := baseDelay * time.Duration(1<<retries)
	if backoff > maxDelay {
		return maxDelay
	}
	return backoff
}

// Validate performs basic validation on the job.
func (j *Job) Validate() error {
	if j.RemotePath == "" {
		return ErrRemotePathRequired
	}
	if j.Status != "" && !j.Status.Valid() {
		return ErrValidation{Field: "status", Message: "unknown status " + string(j.Status)}
	}
	return nil
}

// BeforeCreate is a GORM hook that fills defaults and validates.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.Status == "" {
		j.Status = JobStatusWaiting
	}
	if j.FileName == "" && j.RemotePath != "" {
		j.FileName = path.Base(j.RemotePath)
	}
	return j.Validate()
}

// BeforeUpdate is a GORM hook that validates the job before update.
func (j *Job) BeforeUpdate(tx *gorm.DB) error {
	return j.Validate()
}
