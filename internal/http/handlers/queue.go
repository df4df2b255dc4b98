package handlers

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/internal/queue"
)

// QueueControl is the slice of the orchestrator surface the queue
// control endpoints use. *queue.Orchestrator satisfies it.
type QueueControl interface {
	Start() error
	Stop()
	Pause()
	Resume()
	SetPauseAfterCurrent(enabled bool)
	GetPauseAfterCurrent() bool
	GetStatus() queue.Status
	GetStats(ctx context.Context) (map[models.JobStatus]int64, error)
	Clear(ctx context.Context) (int, error)
}

// QueueHandler handles the queue control endpoints.
type QueueHandler struct {
	queue QueueControl
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(q QueueControl) *QueueHandler {
	return &QueueHandler{queue: q}
}

// Register registers the queue routes with the API.
func (h *QueueHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "startQueue",
		Method:      "POST",
		Path:        "/api/v1/queue/start",
		Summary:     "Start the pipeline workers",
		Tags:        []string{"Queue"},
	}, h.Start)

	huma.Register(api, huma.Operation{
		OperationID: "stopQueue",
		Method:      "POST",
		Path:        "/api/v1/queue/stop",
		Summary:     "Stop the pipeline workers",
		Description: "Aborts active transfers, kills a running encode, and returns affected jobs to the state preceding their phase",
		Tags:        []string{"Queue"},
	}, h.Stop)

	huma.Register(api, huma.Operation{
		OperationID: "pauseQueue",
		Method:      "POST",
		Path:        "/api/v1/queue/pause",
		Summary:     "Pause the queue",
		Description: "Stops new jobs from being picked up; active phases run to their boundary",
		Tags:        []string{"Queue"},
	}, h.Pause)

	huma.Register(api, huma.Operation{
		OperationID: "resumeQueue",
		Method:      "POST",
		Path:        "/api/v1/queue/resume",
		Summary:     "Resume the queue",
		Tags:        []string{"Queue"},
	}, h.Resume)

	huma.Register(api, huma.Operation{
		OperationID: "setPauseAfterCurrent",
		Method:      "PUT",
		Path:        "/api/v1/queue/pause-after-current",
		Summary:     "Arm or disarm pause-after-current",
		Description: "When armed, the queue pauses once the active job reaches a terminal state",
		Tags:        []string{"Queue"},
	}, h.SetPauseAfterCurrent)

	huma.Register(api, huma.Operation{
		OperationID: "getPauseAfterCurrent",
		Method:      "GET",
		Path:        "/api/v1/queue/pause-after-current",
		Summary:     "Get the pause-after-current flag",
		Tags:        []string{"Queue"},
	}, h.GetPauseAfterCurrent)

	huma.Register(api, huma.Operation{
		OperationID: "clearQueue",
		Method:      "POST",
		Path:        "/api/v1/queue/clear",
		Summary:     "Clear the queue",
		Description: "Removes every job not currently held by a worker lane; local files are kept",
		Tags:        []string{"Queue"},
	}, h.Clear)

	huma.Register(api, huma.Operation{
		OperationID: "getQueueStats",
		Method:      "GET",
		Path:        "/api/v1/queue/stats",
		Summary:     "Job counts by state",
		Tags:        []string{"Queue"},
	}, h.Stats)

	huma.Register(api, huma.Operation{
		OperationID: "getQueueStatus",
		Method:      "GET",
		Path:        "/api/v1/queue/status",
		Summary:     "Queue run state",
		Tags:        []string{"Queue"},
	}, h.Status)
}

// QueueActionInput is the empty input for queue actions.
type QueueActionInput struct{}

// QueueStatusOutput reports the orchestrator run state.
type QueueStatusOutput struct {
	Body queue.Status
}

// Start launches the worker lanes.
func (h *QueueHandler) Start(ctx context.Context, input *QueueActionInput) (*QueueStatusOutput, error) {
	if err := h.queue.Start(); err != nil {
		return nil, huma.Error500InternalServerError("failed to start queue", err)
	}
	return &QueueStatusOutput{Body: h.queue.GetStatus()}, nil
}

// Stop halts the worker lanes.
func (h *QueueHandler) Stop(ctx context.Context, input *QueueActionInput) (*QueueStatusOutput, error) {
	h.queue.Stop()
	return &QueueStatusOutput{Body: h.queue.GetStatus()}, nil
}

// Pause stops new jobs from being claimed.
func (h *QueueHandler) Pause(ctx context.Context, input *QueueActionInput) (*QueueStatusOutput, error) {
	h.queue.Pause()
	return &QueueStatusOutput{Body: h.queue.GetStatus()}, nil
}

// Resume lets the lanes claim jobs again.
func (h *QueueHandler) Resume(ctx context.Context, input *QueueActionInput) (*QueueStatusOutput, error) {
	h.queue.Resume()
	return &QueueStatusOutput{Body: h.queue.GetStatus()}, nil
}

// PauseAfterCurrentInput sets the pause-after-current flag.
type PauseAfterCurrentInput struct {
	Body struct {
		Enabled bool `json:"enabled"`
	}
}

// PauseAfterCurrentOutput reports the pause-after-current flag.
type PauseAfterCurrentOutput struct {
	Body struct {
		Enabled bool `json:"enabled"`
	}
}

// SetPauseAfterCurrent arms or disarms the flag.
func (h *QueueHandler) SetPauseAfterCurrent(ctx context.Context, input *PauseAfterCurrentInput) (*PauseAfterCurrentOutput, error) {
	h.queue.SetPauseAfterCurrent(input.Body.Enabled)
	resp := &PauseAfterCurrentOutput{}
	resp.Body.Enabled = h.queue.GetPauseAfterCurrent()
	return resp, nil
}

// GetPauseAfterCurrent reads the flag.
func (h *QueueHandler) GetPauseAfterCurrent(ctx context.Context, input *QueueActionInput) (*PauseAfterCurrentOutput, error) {
	resp := &PauseAfterCurrentOutput{}
	resp.Body.Enabled = h.queue.GetPauseAfterCurrent()
	return resp, nil
}

// ClearQueueOutput reports how many jobs were removed.
type ClearQueueOutput struct {
	Body struct {
		Removed int    `json:"removed"`
		Message string `json:"message"`
	}
}

// Clear removes every idle job.
func (h *QueueHandler) Clear(ctx context.Context, input *QueueActionInput) (*ClearQueueOutput, error) {
	removed, err := h.queue.Clear(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to clear queue", err)
	}
	resp := &ClearQueueOutput{}
	resp.Body.Removed = removed
	resp.Body.Message = fmt.Sprintf("%d jobs removed", removed)
	return resp, nil
}

// QueueStatsOutput reports job counts keyed by state.
type QueueStatsOutput struct {
	Body struct {
		Counts map[string]int64 `json:"counts"`
		Total  int64            `json:"total"`
	}
}

// Stats returns job counts by state.
func (h *QueueHandler) Stats(ctx context.Context, input *QueueActionInput) (*QueueStatsOutput, error) {
	counts, err := h.queue.GetStats(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get queue stats", err)
	}

	resp := &QueueStatsOutput{}
	resp.Body.Counts = make(map[string]int64, len(counts))
	for status, n := range counts {
		resp.Body.Counts[string(status)] = n
		resp.Body.Total += n
	}
	return resp, nil
}

// Status returns the orchestrator run state.
func (h *QueueHandler) Status(ctx context.Context, input *QueueActionInput) (*QueueStatusOutput, error) {
	return &QueueStatusOutput{Body: h.queue.GetStatus()}, nil
}
