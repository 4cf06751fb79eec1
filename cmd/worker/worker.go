package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/constrain-resolution/internal/constrain"
	"github.com/timkrebs/constrain-resolution/internal/database"
	"github.com/timkrebs/constrain-resolution/internal/metrics"
	"github.com/timkrebs/constrain-resolution/internal/models"
	"github.com/timkrebs/constrain-resolution/internal/processor"
	"github.com/timkrebs/constrain-resolution/internal/queue"
	"github.com/timkrebs/constrain-resolution/internal/resolution"
	"github.com/timkrebs/constrain-resolution/internal/storage"
	"github.com/timkrebs/constrain-resolution/internal/transform"
)

type jobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	StartProcessing(ctx context.Context, id uuid.UUID, workerID string) error
	CompleteJob(ctx context.Context, id uuid.UUID, processedKey string, res *models.JobResult, retention time.Duration) error
	FailJob(ctx context.Context, id uuid.UUID, errorMsg string, retention time.Duration) error
}

type objectStore interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) error
}

type messageQueue interface {
	Consume(ctx context.Context) (*queue.Message, error)
	Acknowledge(ctx context.Context, messageID string) error
	Reject(ctx context.Context, messageID string) error
}

// Worker turns queued uploads into constrained images
type Worker struct {
	id        string
	jobs      jobStore
	objects   objectStore
	consumer  messageQueue
	processor *processor.Processor
	metrics   *metrics.JobMetrics
	logger    *slog.Logger
	retention time.Duration
	// maxAttempts bounds how often a transient failure is retried before
	// the job is failed. The message stays pending between attempts.
	maxAttempts int
	retryDelay  time.Duration
}

func (w *Worker) run(ctx context.Context, workerNum int) {
	logger := w.logger.With("goroutine", workerNum)
	attempts := make(map[string]int)

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker goroutine stopping")
			return
		default:
		}

		msg, err := w.consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			if errors.Is(err, queue.ErrMalformedMessage) && msg != nil {
				logger.Error("dropping malformed message", "message_id", msg.ID, "error", err)
				w.settle(ctx, logger, msg.ID, w.consumer.Reject)
				continue
			}
			logger.Error("failed to consume message", "error", err)
			sleep(ctx, time.Second)
			continue
		}
		if msg == nil {
			continue
		}

		err = w.processJob(ctx, msg)
		switch {
		case err == nil:
			delete(attempts, msg.ID)
			w.settle(ctx, logger, msg.ID, w.consumer.Acknowledge)
		case ctx.Err() != nil:
			logger.Info("leaving job pending for redelivery", "job_id", msg.Job.JobID, "error", err)
		case isPermanent(err):
			delete(attempts, msg.ID)
			logger.Error("job failed", "job_id", msg.Job.JobID, "error", err)
			w.settle(ctx, logger, msg.ID, w.consumer.Reject)
		default:
			attempts[msg.ID]++
			if attempts[msg.ID] < w.maxAttempts {
				logger.Warn("job attempt failed, retrying",
					"job_id", msg.Job.JobID,
					"attempt", attempts[msg.ID],
					"error", err,
				)
				sleep(ctx, w.retryDelay)
				continue
			}
			logger.Error("giving up on job", "job_id", msg.Job.JobID, "attempts", attempts[msg.ID], "error", err)
			if failErr := w.failJob(ctx, msg.Job.JobID, err); failErr != nil {
				logger.Error("failed to mark job failed", "job_id", msg.Job.JobID, "error", failErr)
				sleep(ctx, w.retryDelay)
				continue
			}
			delete(attempts, msg.ID)
			if w.metrics != nil {
				w.metrics.JobsTotal.WithLabelValues(string(models.JobStatusFailed)).Inc()
			}
			w.settle(ctx, logger, msg.ID, w.consumer.Reject)
		}
	}
}

// isPermanent reports whether retrying the job cannot change the outcome
func isPermanent(err error) bool {
	switch {
	case errors.Is(err, processor.ErrDecode),
		errors.Is(err, processor.ErrImageTooLarge),
		errors.Is(err, constrain.ErrInvalidParams),
		errors.Is(err, resolution.ErrInvalidConstraint),
		errors.Is(err, resolution.ErrDegenerateInput),
		errors.Is(err, transform.ErrInvalidTarget),
		errors.Is(err, transform.ErrTargetExceedsSource),
		errors.Is(err, transform.ErrInvalidCropPosition),
		storage.IsNotFound(err):
		return true
	}
	return false
}

func (w *Worker) failJob(ctx context.Context, id uuid.UUID, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return w.jobs.FailJob(ctx, id, cause.Error(), w.retention)
}

// settle acks or rejects a message even while shutting down
func (w *Worker) settle(ctx context.Context, logger *slog.Logger, id string, fn func(context.Context, string) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := fn(ctx, id); err != nil {
		logger.Error("failed to settle message", "message_id", id, "error", err)
	}
}

func (w *Worker) processJob(ctx context.Context, msg *queue.Message) error {
	jobID := msg.Job.JobID
	logger := w.logger.With("job_id", jobID)

	job, err := w.jobs.GetByID(ctx, jobID)
	if errors.Is(err, database.ErrNotFound) {
		logger.Warn("job not found, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}
	if job.Status.Terminal() {
		logger.Info("job already finished, skipping", "status", job.Status)
		return nil
	}

	if err := w.jobs.StartProcessing(ctx, jobID, w.id); err != nil {
		if errors.Is(err, database.ErrNotRunnable) {
			logger.Info("job no longer runnable, skipping")
			return nil
		}
		return fmt.Errorf("failed to start processing: %w", err)
	}

	start := time.Now()
	w.observeActive(1)
	defer w.observeActive(-1)

	processedKey, result, err := w.constrain(ctx, logger, job)
	if err != nil {
		if ctx.Err() != nil || !isPermanent(err) {
			return err
		}
		w.finish(string(models.JobStatusFailed), start)
		if failErr := w.failJob(ctx, jobID, err); failErr != nil {
			return fmt.Errorf("failed to mark job failed: %v (cause: %v)", failErr, err)
		}
		return err
	}

	if err := w.jobs.CompleteJob(ctx, jobID, processedKey, result, w.retention); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			logger.Warn("job deleted while processing, dropping result")
			return nil
		}
		return fmt.Errorf("failed to complete job: %w", err)
	}
	w.finish(string(models.JobStatusCompleted), start)

	logger.Info("job completed",
		"source", result.Source,
		"target", result.Target,
		"strategy", result.Strategy,
		"deviation_pct", fmt.Sprintf("%.2f", result.Deviation),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (w *Worker) constrain(ctx context.Context, logger *slog.Logger, job *models.Job) (string, *models.JobResult, error) {
	stage := time.Now()
	logger.Debug("downloading original image", "key", job.OriginalKey)
	reader, err := w.objects.Download(ctx, job.OriginalKey)
	if err != nil {
		return "", nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer reader.Close()
	w.observeStage("download", stage)

	stage = time.Now()
	out, err := w.processor.Process(reader, job.ContentType, job.Params)
	if err != nil {
		return "", nil, fmt.Errorf("failed to process image: %w", err)
	}
	w.observeStage("constrain", stage)

	stage = time.Now()
	processedKey := storage.ProcessedKey(job.ID, job.OriginalName, out.Ext)
	metadata := map[string]string{
		"job-id":     job.ID.String(),
		"strategy":   string(out.Plan.Strategy),
		"dimensions": out.Plan.Target.String(),
	}
	if err := w.objects.Upload(ctx, processedKey, bytes.NewReader(out.Data), int64(len(out.Data)), out.ContentType, metadata); err != nil {
		return "", nil, fmt.Errorf("failed to upload processed image: %w", err)
	}
	w.observeStage("upload", stage)

	result := models.NewJobResult(out.Plan)
	result.ContentType = out.ContentType
	return processedKey, result, nil
}

func (w *Worker) observeActive(delta float64) {
	if w.metrics != nil {
		w.metrics.JobsActive.WithLabelValues(string(models.JobStatusProcessing)).Add(delta)
	}
}

func (w *Worker) observeStage(stage string, start time.Time) {
	if w.metrics != nil {
		w.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (w *Worker) finish(status string, start time.Time) {
	if w.metrics != nil {
		w.metrics.JobsTotal.WithLabelValues(status).Inc()
		w.metrics.ProcessingDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
