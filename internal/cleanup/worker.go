package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/constrain-resolution/internal/models"
)

// JobStore is the part of the job repository the cleanup worker needs
type JobStore interface {
	GetJobsToCleanup(ctx context.Context, limit int) ([]*models.Job, error)
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

// ObjectStore deletes stored images
type ObjectStore interface {
	Delete(ctx context.Context, key string) error
}

// Worker deletes jobs whose retention has elapsed, together with their images
type Worker struct {
	jobs      JobStore
	objects   ObjectStore
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// Config holds cleanup worker configuration
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// NewWorker creates a new cleanup worker
func NewWorker(jobs JobStore, objects ObjectStore, cfg Config, logger *slog.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Worker{
		jobs:      jobs,
		objects:   objects,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

// Start runs cleanup cycles until ctx is canceled. The first cycle runs immediately.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("cleanup worker started", "interval", w.interval, "batch_size", w.batchSize)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("cleanup failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("cleanup worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce deletes up to one batch of expired jobs and returns how many were removed
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	startTime := time.Now()

	jobs, err := w.jobs.GetJobsToCleanup(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		w.logger.Debug("no jobs to cleanup")
		return 0, nil
	}

	cleaned, failed := 0, 0
	for _, job := range jobs {
		if err := w.cleanupJob(ctx, job); err != nil {
			w.logger.Error("failed to cleanup job", "job_id", job.ID, "error", err)
			failed++
			continue
		}
		cleaned++
	}

	w.logger.Info("cleanup cycle completed",
		"duration_ms", time.Since(startTime).Milliseconds(),
		"cleaned", cleaned,
		"errors", failed,
		"total", len(jobs),
	)
	return cleaned, nil
}

// cleanupJob removes the stored images first so a failed delete leaves the
// record behind for the next cycle
func (w *Worker) cleanupJob(ctx context.Context, job *models.Job) error {
	logger := w.logger.With("job_id", job.ID)

	for _, key := range []string{job.OriginalKey, job.ProcessedKey} {
		if key == "" {
			continue
		}
		if err := w.objects.Delete(ctx, key); err != nil {
			return err
		}
		logger.Debug("deleted object", "key", key)
	}

	if err := w.jobs.DeleteJob(ctx, job.ID); err != nil {
		return err
	}
	logger.Info("job cleaned up", "status", job.Status)
	return nil
}
