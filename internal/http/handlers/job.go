package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/recodarr/internal/models"
	"github.com/jmylchreest/recodarr/internal/queue"
	"github.com/jmylchreest/recodarr/internal/repository"
)

// JobQueue is the slice of the orchestrator surface the job endpoints
// use. *queue.Orchestrator satisfies it.
type JobQueue interface {
	Add(ctx context.Context, req queue.AddRequest) (*models.Job, bool, error)
	GetJob(ctx context.Context, id uint) (*models.Job, error)
	GetJobs(ctx context.Context, filter repository.JobFilter) ([]*models.Job, error)
	PauseJob(ctx context.Context, id uint) (*models.Job, error)
	ResumeJob(ctx context.Context, id uint) (*models.Job, error)
	RetryJob(ctx context.Context, id uint) (*models.Job, error)
	ApproveJob(ctx context.Context, id uint) (*models.Job, error)
	RejectJob(ctx context.Context, id uint) (*models.Job, error)
	RemoveJob(ctx context.Context, id uint) error
	DeleteJob(ctx context.Context, id uint) error
}

// JobHandler handles the job lifecycle endpoints.
type JobHandler struct {
	queue JobQueue
}

// NewJobHandler creates a new job handler.
func NewJobHandler(q JobQueue) *JobHandler {
	return &JobHandler{queue: q}
}

// Register registers the job routes with the API.
func (h *JobHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "addJob",
		Method:      "POST",
		Path:        "/api/v1/jobs",
		Summary:     "Queue a remote file",
		Description: "Queues a remote file for transcoding. Adding a path that is already queued returns the existing job.",
		Tags:        []string{"Jobs"},
	}, h.Add)

	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      "GET",
		Path:        "/api/v1/jobs",
		Summary:     "List jobs",
		Description: "Returns jobs, optionally filtered by status, oldest first",
		Tags:        []string{"Jobs"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      "GET",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Get job",
		Tags:        []string{"Jobs"},
	}, h.GetByID)

	huma.Register(api, huma.Operation{
		OperationID: "removeJob",
		Method:      "DELETE",
		Path:        "/api/v1/jobs/{id}",
		Summary:     "Remove job",
		Description: "Removes the job row, leaving local artifacts in place",
		Tags:        []string{"Jobs"},
	}, h.Remove)

	huma.Register(api, huma.Operation{
		OperationID: "deleteJob",
		Method:      "DELETE",
		Path:        "/api/v1/jobs/{id}/artefacts",
		Summary:     "Delete job and artifacts",
		Description: "Removes the job row together with its local downloaded, encoded and backup files",
		Tags:        []string{"Jobs"},
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "pauseJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{id}/pause",
		Summary:     "Pause job",
		Tags:        []string{"Jobs"},
	}, h.Pause)

	huma.Register(api, huma.Operation{
		OperationID: "resumeJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{id}/resume",
		Summary:     "Resume job",
		Tags:        []string{"Jobs"},
	}, h.Resume)

	huma.Register(api, huma.Operation{
		OperationID: "retryJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{id}/retry",
		Summary:     "Retry job",
		Description: "Clears the error and restarts from the earliest phase whose inputs are still valid",
		Tags:        []string{"Jobs"},
	}, h.Retry)

	huma.Register(api, huma.Operation{
		OperationID: "approveJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{id}/approve",
		Summary:     "Approve job for upload",
		Description: "Advances a job waiting in awaiting_approval to ready_upload",
		Tags:        []string{"Jobs"},
	}, h.Approve)

	huma.Register(api, huma.Operation{
		OperationID: "rejectJob",
		Method:      "POST",
		Path:        "/api/v1/jobs/{id}/reject",
		Summary:     "Reject job",
		Description: "Fails a job waiting in awaiting_approval without touching the remote",
		Tags:        []string{"Jobs"},
	}, h.Reject)
}

// AddJobInput is the input for queueing a file.
type AddJobInput struct {
	Body queue.AddRequest
}

// AddJobOutput is the output for queueing a file.
type AddJobOutput struct {
	Body struct {
		Job   JobResponse `json:"job"`
		Added bool        `json:"added" doc:"False when the path was already queued and the existing job is returned"`
	}
}

// Add queues a remote file for transcoding.
func (h *JobHandler) Add(ctx context.Context, input *AddJobInput) (*AddJobOutput, error) {
	job, added, err := h.queue.Add(ctx, input.Body)
	if err != nil {
		return nil, mapPipelineError(err, "failed to add job")
	}

	resp := &AddJobOutput{}
	resp.Body.Job = JobFromModel(job)
	resp.Body.Added = added
	return resp, nil
}

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct {
	Status string `query:"status" doc:"Filter by status" enum:"waiting,downloading,ready_encode,encoding,awaiting_approval,ready_upload,uploading,completed,failed,paused,"`
	Limit  int    `query:"limit" default:"0" minimum:"0" maximum:"1000" doc:"Maximum rows, 0 for all"`
	Offset int    `query:"offset" default:"0" minimum:"0" doc:"Rows to skip"`
}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs []JobResponse `json:"jobs"`
	}
}

// List returns jobs matching the filter.
func (h *JobHandler) List(ctx context.Context, input *ListJobsInput) (*ListJobsOutput, error) {
	filter := repository.JobFilter{Limit: input.Limit, Offset: input.Offset}
	if input.Status != "" {
		filter.Statuses = []models.JobStatus{models.JobStatus(input.Status)}
	}

	jobs, err := h.queue.GetJobs(ctx, filter)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list jobs", err)
	}

	resp := &ListJobsOutput{}
	resp.Body.Jobs = make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp.Body.Jobs = append(resp.Body.Jobs, JobFromModel(j))
	}
	return resp, nil
}

// JobIDInput identifies a job by its path parameter.
type JobIDInput struct {
	ID uint `path:"id" doc:"Job ID"`
}

// JobOutput wraps a single job.
type JobOutput struct {
	Body JobResponse
}

// GetByID returns one job.
func (h *JobHandler) GetByID(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
	job, err := h.queue.GetJob(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to get job", err)
	}
	if job == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("job %d not found", input.ID))
	}
	return &JobOutput{Body: JobFromModel(job)}, nil
}

// RemoveJobOutput is the output for removing a job.
type RemoveJobOutput struct {
	Body MessageResponse
}

// Remove removes a job row, leaving local artifacts alone.
func (h *JobHandler) Remove(ctx context.Context, input *JobIDInput) (*RemoveJobOutput, error) {
	if err := h.queue.RemoveJob(ctx, input.ID); err != nil {
		return nil, mapPipelineError(err, "failed to remove job")
	}
	return &RemoveJobOutput{Body: MessageResponse{Message: fmt.Sprintf("job %d removed", input.ID)}}, nil
}

// Delete removes a job row and its local artifacts.
func (h *JobHandler) Delete(ctx context.Context, input *JobIDInput) (*RemoveJobOutput, error) {
	if err := h.queue.DeleteJob(ctx, input.ID); err != nil {
		return nil, mapPipelineError(err, "failed to delete job")
	}
	return &RemoveJobOutput{Body: MessageResponse{Message: fmt.Sprintf("job %d deleted", input.ID)}}, nil
}

// Pause suspends a job.
func (h *JobHandler) Pause(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
	return h.mutate(input.ID, func(ctx context.Context) (*models.Job, error) {
		return h.queue.PauseJob(ctx, input.ID)
	}, ctx, "failed to pause job")
}

// Resume returns a paused job to its pre-pause state.
func (h *JobHandler) Resume(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
	return h.mutate(input.ID, func(ctx context.Context) (*models.Job, error) {
		return h.queue.ResumeJob(ctx, input.ID)
	}, ctx, "failed to resume job")
}

// Retry restarts a failed job.
func (h *JobHandler) Retry(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
	return h.mutate(input.ID, func(ctx context.Context) (*models.Job, error) {
		return h.queue.RetryJob(ctx, input.ID)
	}, ctx, "failed to retry job")
}

// Approve advances an awaiting_approval job to ready_upload.
func (h *JobHandler) Approve(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
	return h.mutate(input.ID, func(ctx context.Context) (*models.Job, error) {
		return h.queue.ApproveJob(ctx, input.ID)
	}, ctx, "failed to approve job")
}

// Reject fails an awaiting_approval job without remote modification.
func (h *JobHandler) Reject(ctx context.Context, input *JobIDInput) (*JobOutput, error) {
	return h.mutate(input.ID, func(ctx context.Context) (*models.Job, error) {
		return h.queue.RejectJob(ctx, input.ID)
	}, ctx, "failed to reject job")
}

func (h *JobHandler) mutate(id uint, fn func(context.Context) (*models.Job, error), ctx context.Context, summary string) (*JobOutput, error) {
	job, err := fn(ctx)
	if err != nil {
		msg := err.Error()
		if strings.Contains(msg, "awaiting approval") ||
			strings.Contains(msg, "can be retried") ||
			strings.Contains(msg, "manual intervention") {
			return nil, huma.Error409Conflict(msg)
		}
		return nil, mapPipelineError(err, summary)
	}
	if job == nil {
		return nil, huma.Error404NotFound(fmt.Sprintf("job %d not found", id))
	}
	return &JobOutput{Body: JobFromModel(job)}, nil
}
