package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/constrain-resolution/internal/models"
)

var (
	// ErrNotFound is returned when a job is not found
	ErrNotFound = errors.New("job not found")
	// ErrNotCancelable is returned when a job has already left the queue
	ErrNotCancelable = errors.New("job cannot be canceled (already processing or finished)")
	// ErrNotRunnable is returned when a worker picks up a job that already finished
	ErrNotRunnable = errors.New("job is already finished")
)

const jobColumns = `id, status, original_key, processed_key, original_name, content_type,
	file_size, params, result, error, progress, worker_id, created_at, updated_at,
	started_at, completed_at, processing_time_ms, delete_at`

// JobRepository handles job database operations
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job into the database
func (r *JobRepository) Create(ctx context.Context, job *models.Job) (err error) {
	defer func(start time.Time) { r.db.observe("create_job", start, err) }(time.Now())
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := job.MarshalColumns(); err != nil {
		return fmt.Errorf("failed to marshal job columns: %w", err)
	}

	query := `
		INSERT INTO jobs (id, status, original_key, original_name, content_type, file_size, params, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.ExecContext(ctx, query,
		job.ID,
		job.Status,
		job.OriginalKey,
		job.OriginalName,
		job.ContentType,
		job.FileSize,
		job.ParamsJSON,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its ID
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (job *models.Job, err error) {
	defer func(start time.Time) { r.db.observe("get_job", start, err) }(time.Now())
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err = scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List retrieves a page of jobs, newest first, optionally filtered by status
func (r *JobRepository) List(ctx context.Context, status models.JobStatus, page, pageSize int) (jobs []*models.Job, total int, err error) {
	defer func(start time.Time) { r.db.observe("list_jobs", start, err) }(time.Now())
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize

	where, args := "", []any{}
	if status != "" {
		where, args = " WHERE status = $1", append(args, status)
	}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, len(args)+1, len(args)+2)
	jobs, err = r.queryJobs(ctx, query, append(args, pageSize, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, total, nil
}

// UpdateStatus updates the status of a job
func (r *JobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) (err error) {
	defer func(start time.Time) { r.db.observe("update_status", start, err) }(time.Now())
	result, err := r.db.ExecContext(ctx, `UPDATE jobs SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return expectRow(result, ErrNotFound)
}

// UpdateProgress updates the progress of a job
func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) (err error) {
	defer func(start time.Time) { r.db.observe("update_progress", start, err) }(time.Now())
	_, err = r.db.ExecContext(ctx, `UPDATE jobs SET progress = $1, updated_at = NOW() WHERE id = $2`, progress, id)
	return err
}

// StartProcessing marks a job as processing and records the worker ID.
// A job already processing is taken over, since its message was redelivered
// after a failed attempt or a dead worker.
func (r *JobRepository) StartProcessing(ctx context.Context, id uuid.UUID, workerID string) (err error) {
	defer func(start time.Time) { r.db.observe("start_processing", start, err) }(time.Now())
	query := `
		UPDATE jobs
		SET status = $1, worker_id = $2, started_at = NOW(), updated_at = NOW()
		WHERE id = $3 AND status IN ($4, $5, $1)
	`
	result, err := r.db.ExecContext(ctx, query,
		models.JobStatusProcessing, workerID, id,
		models.JobStatusPending, models.JobStatusQueued,
	)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	return expectRow(result, ErrNotRunnable)
}

// CompleteJob stores the result of a job and schedules it for deletion after retention
func (r *JobRepository) CompleteJob(ctx context.Context, id uuid.UUID, processedKey string, res *models.JobResult, retention time.Duration) (err error) {
	defer func(start time.Time) { r.db.observe("complete_job", start, err) }(time.Now())
	if res == nil {
		return errors.New("complete job: result is required")
	}

	job := &models.Job{Result: res}
	if err := job.MarshalColumns(); err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	var startedAt sql.NullTime
	err = r.db.QueryRowContext(ctx, `SELECT started_at FROM jobs WHERE id = $1`, id).Scan(&startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get started_at: %w", err)
	}

	now := time.Now()
	var processingTime int64
	if startedAt.Valid {
		processingTime = now.Sub(startedAt.Time).Milliseconds()
	}

	query := `
		UPDATE jobs
		SET status = $1, processed_key = $2, result = $3, progress = 100, completed_at = $4,
		    processing_time_ms = $5, delete_at = $6, updated_at = $4
		WHERE id = $7
	`
	result, err := r.db.ExecContext(ctx, query,
		models.JobStatusCompleted, processedKey, job.ResultJSON, now, processingTime, now.Add(retention), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return expectRow(result, ErrNotFound)
}

// FailJob marks a job as failed and schedules it for deletion after retention
func (r *JobRepository) FailJob(ctx context.Context, id uuid.UUID, errorMsg string, retention time.Duration) (err error) {
	defer func(start time.Time) { r.db.observe("fail_job", start, err) }(time.Now())
	now := time.Now()
	query := `
		UPDATE jobs
		SET status = $1, error = $2, completed_at = $3, delete_at = $4, updated_at = $3
		WHERE id = $5
	`
	_, err = r.db.ExecContext(ctx, query, models.JobStatusFailed, errorMsg, now, now.Add(retention), id)
	return err
}

// CancelJob marks a pending or queued job as canceled
func (r *JobRepository) CancelJob(ctx context.Context, id uuid.UUID, retention time.Duration) (err error) {
	defer func(start time.Time) { r.db.observe("cancel_job", start, err) }(time.Now())
	query := `
		UPDATE jobs
		SET status = $1, delete_at = $2, updated_at = NOW()
		WHERE id = $3 AND status IN ($4, $5)
	`
	result, err := r.db.ExecContext(ctx, query,
		models.JobStatusCancelled,
		time.Now().Add(retention),
		id,
		models.JobStatusPending,
		models.JobStatusQueued,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	return expectRow(result, ErrNotCancelable)
}

// GetPendingJobsCount returns the count of pending and queued jobs
func (r *JobRepository) GetPendingJobsCount(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM jobs WHERE status IN ($1, $2)`
	err := r.db.QueryRowContext(ctx, query, models.JobStatusPending, models.JobStatusQueued).Scan(&count)
	return count, err
}

// GetJobsToCleanup returns jobs whose retention has elapsed, oldest first
func (r *JobRepository) GetJobsToCleanup(ctx context.Context, limit int) (jobs []*models.Job, err error) {
	defer func(start time.Time) { r.db.observe("jobs_to_cleanup", start, err) }(time.Now())
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE delete_at IS NOT NULL AND delete_at < NOW()
		ORDER BY delete_at ASC
		LIMIT $1`
	jobs, err = r.queryJobs(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get jobs to cleanup: %w", err)
	}
	return jobs, nil
}

// DeleteJob permanently deletes a job from the database
func (r *JobRepository) DeleteJob(ctx context.Context, id uuid.UUID) (err error) {
	defer func(start time.Time) { r.db.observe("delete_job", start, err) }(time.Now())
	result, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return expectRow(result, ErrNotFound)
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

// scanJob reads one row selected with jobColumns
func scanJob(s scanner) (*models.Job, error) {
	job := &models.Job{}
	var processedKey, resultJSON, errorMsg, workerID sql.NullString
	var startedAt, completedAt, deleteAt sql.NullTime
	var processingTime sql.NullInt64

	err := s.Scan(
		&job.ID,
		&job.Status,
		&job.OriginalKey,
		&processedKey,
		&job.OriginalName,
		&job.ContentType,
		&job.FileSize,
		&job.ParamsJSON,
		&resultJSON,
		&errorMsg,
		&job.Progress,
		&workerID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&startedAt,
		&completedAt,
		&processingTime,
		&deleteAt,
	)
	if err != nil {
		return nil, err
	}

	job.ProcessedKey = processedKey.String
	job.ResultJSON = resultJSON.String
	job.Error = errorMsg.String
	job.WorkerID = workerID.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	if processingTime.Valid {
		job.ProcessingTime = &processingTime.Int64
	}
	if deleteAt.Valid {
		job.DeleteAt = &deleteAt.Time
	}

	if err := job.UnmarshalColumns(); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job columns: %w", err)
	}
	return job, nil
}

// expectRow returns notFound when result affected no rows
func expectRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

