package events

import "github.com/jmylchreest/recodarr/internal/models"

// ProgressPayload reports transfer or encode progress for one job.
type ProgressPayload struct {
	JobID      uint    `json:"job_id"`
	Phase      string  `json:"phase"`
	Percent    float64 `json:"percent"`
	FPS        float64 `json:"fps,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	ETASeconds int64   `json:"eta_seconds,omitempty"`
	ElapsedMS  int64   `json:"elapsed_ms,omitempty"`
}

// StatusChangePayload reports a change to the orchestrator run state.
type StatusChangePayload struct {
	IsRunning bool `json:"is_running"`
	IsPaused  bool `json:"is_paused"`
}

// JobPayload wraps a job snapshot for jobUpdate and jobComplete events.
type JobPayload struct {
	Job *models.Job `json:"job"`
}

// PauseAfterCurrentPayload reports the pause-after-current flag state.
type PauseAfterCurrentPayload struct {
	Enabled bool `json:"enabled"`
}

// ErrorPayload reports a pipeline failure. JobID is zero for errors not
// tied to a specific job.
type ErrorPayload struct {
	JobID   uint             `json:"job_id,omitempty"`
	Kind    models.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// ConfigChangedPayload lists the configuration keys that were mutated.
type ConfigChangedPayload struct {
	Keys []string `json:"keys"`
}
