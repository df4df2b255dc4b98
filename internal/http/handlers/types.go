// Package handlers provides the HTTP API handlers for recodarr.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/recodarr/internal/models"
)

// MessageResponse is the generic acknowledgement body for actions that
// have no richer result.
type MessageResponse struct {
	Message string `json:"message"`
}

// JobResponse is the wire form of a job.
type JobResponse struct {
	ID         uint   `json:"id"`
	RemotePath string `json:"remote_path"`
	FileName   string `json:"file_name"`

	OriginalSize   int64   `json:"original_size"`
	CodecBefore    string  `json:"codec_before,omitempty"`
	Container      string  `json:"container,omitempty"`
	Resolution     string  `json:"resolution,omitempty"`
	DurationSecs   float64 `json:"duration_secs,omitempty"`
	Bitrate        int64   `json:"bitrate,omitempty"`
	AudioTracks    int     `json:"audio_tracks,omitempty"`
	AudioCodec     string  `json:"audio_codec,omitempty"`
	SubtitleTracks int     `json:"subtitle_tracks,omitempty"`

	Status         string `json:"status"`
	PrePauseStatus string `json:"pre_pause_status,omitempty"`

	Percent    float64 `json:"percent"`
	FPS        float64 `json:"fps,omitempty"`
	Speed      float64 `json:"speed,omitempty"`
	ETASeconds int64   `json:"eta_seconds,omitempty"`

	CodecAfter       string  `json:"codec_after,omitempty"`
	CompressedSize   int64   `json:"compressed_size,omitempty"`
	CompressionRatio float64 `json:"compression_ratio,omitempty"`

	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt  string `json:"created_at"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
	RetryCount int    `json:"retry_count"`
}

// JobFromModel converts a job row to its wire form.
func JobFromModel(j *models.Job) JobResponse {
	resp := JobResponse{
		ID:               j.ID,
		RemotePath:       j.RemotePath,
		FileName:         j.FileName,
		OriginalSize:     j.OriginalSize,
		CodecBefore:      j.CodecBefore,
		Container:        j.Container,
		Resolution:       j.Resolution,
		DurationSecs:     j.DurationSecs,
		Bitrate:          j.Bitrate,
		AudioTracks:      j.AudioTracks,
		AudioCodec:       j.AudioCodec,
		SubtitleTracks:   j.SubtitleTracks,
		Status:           string(j.Status),
		PrePauseStatus:   string(j.PrePauseStatus),
		Percent:          j.Percent,
		FPS:              j.FPS,
		Speed:            j.Speed,
		ETASeconds:       j.ETASeconds,
		CodecAfter:       j.CodecAfter,
		CompressedSize:   j.CompressedSize,
		CompressionRatio: j.CompressionRatio,
		ErrorKind:        string(j.ErrorKind),
		ErrorMessage:     j.ErrorMessage,
		RetryCount:       j.RetryCount,
		CreatedAt:        j.CreatedAt.UTC().Format(time.RFC3339),
	}
	if j.StartedAt != nil {
		resp.StartedAt = j.StartedAt.UTC().Format(time.RFC3339)
	}
	if j.FinishedAt != nil {
		resp.FinishedAt = j.FinishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

// mapPipelineError translates a pipeline failure into the HTTP status a
// collaborator can act on. Non-pipeline errors become a 500 with the
// given summary.
func mapPipelineError(err error, summary string) error {
	if errors.Is(err, models.ErrJobNotFound) || errors.Is(err, models.ErrPresetNotFound) {
		return huma.Error404NotFound(err.Error())
	}
	var terr models.TransitionError
	if errors.As(err, &terr) {
		return huma.Error409Conflict(err.Error())
	}
	var perr *models.PipelineError
	if !errors.As(err, &perr) {
		return huma.Error500InternalServerError(summary, err)
	}
	switch perr.Kind {
	case models.ErrorKindInvalidConfig:
		return huma.Error400BadRequest(perr.Message)
	case models.ErrorKindAuthFailed:
		return huma.Error401Unauthorized(perr.Message)
	case models.ErrorKindNotFound:
		return huma.Error404NotFound(perr.Message)
	case models.ErrorKindInsufficientSpace:
		return huma.NewError(http.StatusInsufficientStorage, perr.Message)
	case models.ErrorKindNetworkFatal, models.ErrorKindNetworkTransient:
		return huma.Error503ServiceUnavailable(perr.Message)
	case models.ErrorKindProtocolCapabilityMissing:
		return huma.Error502BadGateway(perr.Message)
	case models.ErrorKindIntegrityMismatch:
		return huma.Error422UnprocessableEntity(perr.Message)
	default:
		return huma.Error500InternalServerError(summary, err)
	}
}
