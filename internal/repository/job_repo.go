package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/recodarr/internal/models"
	"gorm.io/gorm"
)

// jobRepo implements JobRepository using GORM.
type jobRepo struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *jobRepo {
	return &jobRepo{db: db}
}

// Create creates a new job.
func (r *jobRepo) Create(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by ID.
func (r *jobRepo) GetByID(ctx context.Context, id uint) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job by ID: %w", err)
	}
	return &job, nil
}

// GetByRemotePath retrieves a job by its unique remote path.
func (r *jobRepo) GetByRemotePath(ctx context.Context, remotePath string) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("remote_path = ?", remotePath).First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting job by remote path: %w", err)
	}
	return &job, nil
}

// List retrieves jobs matching the filter, oldest first.
func (r *jobRepo) List(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	query := r.db.WithContext(ctx).Order("created_at ASC, id ASC")

	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var jobs []*models.Job
	if err := query.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// NextByStatus returns the oldest job in the given status.
func (r *jobRepo) NextByStatus(ctx context.Context, status models.JobStatus) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC, id ASC").
		First(&job).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting next job by status: %w", err)
	}
	return &job, nil
}

// CountByStatus returns job counts grouped by status.
func (r *jobRepo) CountByStatus(ctx context.Context) (map[models.JobStatus]int64, error) {
	type statusCount struct {
		Status models.JobStatus
		Count  int64
	}

	var rows []statusCount
	if err := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("counting jobs by status: %w", err)
	}

	counts := make(map[models.JobStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// Update persists all fields of an existing job.
func (r *jobRepo) Update(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Save(job).Error; err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return nil
}

// Patch updates selected columns of a job. Uses UpdateColumns to skip
// hooks (BeforeUpdate validation requires a full model), so updated_at
// is set explicitly.
func (r *jobRepo) Patch(ctx context.Context, id uint, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	cols := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		cols[k] = v
	}
	cols["updated_at"] = models.Now()

	result := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ?", id).
		UpdateColumns(cols)
	if result.Error != nil {
		return fmt.Errorf("patching job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return models.ErrJobNotFound
	}
	return nil
}

// Delete removes a job row.
func (r *jobRepo) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Job{}).Error; err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	return nil
}

// DeleteCompletedBefore removes completed jobs that finished before the
// given time.
func (r *jobRepo) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND finished_at < ?", models.JobStatusCompleted, before).
		Delete(&models.Job{})

	if result.Error != nil {
		return 0, fmt.Errorf("deleting completed jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ResetInterrupted returns jobs a crash left in an active state to the
// status their worker resumes from, clearing per-phase progress. Runs
// once at boot before the lanes start.
func (r *jobRepo) ResetInterrupted(ctx context.Context) (int64, error) {
	var total int64
	now := models.Now()

	for _, status := range []models.JobStatus{
		models.JobStatusDownloading,
		models.JobStatusEncoding,
		models.JobStatusUploading,
	} {
		result := r.db.WithContext(ctx).
			Model(&models.Job{}).
			Where("status = ?", status).
			UpdateColumns(map[string]any{
				"status":      status.RestartTarget(),
				"percent":     0,
				"fps":         0,
				"speed":       0,
				"eta_seconds": 0,
				"updated_at":  now,
			})
		if result.Error != nil {
			return total, fmt.Errorf("resetting interrupted %s jobs: %w", status, result.Error)
		}
		total += result.RowsAffected
	}
	return total, nil
}

// Ensure jobRepo implements JobRepository at compile time.
var _ JobRepository = (*jobRepo)(nil)
