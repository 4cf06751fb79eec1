package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/timkrebs/constrain-resolution/internal/constrain"
	"github.com/timkrebs/constrain-resolution/internal/database"
	"github.com/timkrebs/constrain-resolution/internal/metrics"
	"github.com/timkrebs/constrain-resolution/internal/models"
	"github.com/timkrebs/constrain-resolution/internal/processor"
	"github.com/timkrebs/constrain-resolution/internal/resolution"
	"github.com/timkrebs/constrain-resolution/internal/storage"
)

// JobStore persists jobs
type JobStore interface {
	Create(ctx context.Context, job *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, status models.JobStatus, page, pageSize int) ([]*models.Job, int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) error
	CancelJob(ctx context.Context, id uuid.UUID, retention time.Duration) error
}

// ObjectStore stores original and processed images
type ObjectStore interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string, metadata map[string]string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	GetPresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Health(ctx context.Context) error
}

// JobQueue hands jobs to the workers
type JobQueue interface {
	Enqueue(ctx context.Context, msg *models.JobMessage) error
	GetStats(ctx context.Context, consumerGroup string) (*models.QueueStats, error)
}

// Database reports connection health
type Database interface {
	Health(ctx context.Context) error
	Stats() sql.DBStats
}

// Options configures Handlers
type Options struct {
	Defaults     constrain.Params
	GroupName    string
	JobRetention time.Duration
	// MaxMemory bounds the part of a multipart form kept in memory
	MaxMemory int64
}

// Handlers holds all HTTP handlers
type Handlers struct {
	jobs       JobStore
	objects    ObjectStore
	queue      JobQueue
	db         Database
	node       *constrain.Node
	processor  *processor.Processor
	logger     *slog.Logger
	jobMetrics *metrics.JobMetrics
	opts       Options
}

// NewHandlers creates a new handlers instance
func NewHandlers(
	jobs JobStore,
	objects ObjectStore,
	queue JobQueue,
	db Database,
	proc *processor.Processor,
	node *constrain.Node,
	opts Options,
	logger *slog.Logger,
) *Handlers {
	if opts.MaxMemory <= 0 {
		opts.MaxMemory = 32 << 20
	}
	return &Handlers{
		jobs:      jobs,
		objects:   objects,
		queue:     queue,
		db:        db,
		processor: proc,
		node:      node,
		opts:      opts,
		logger:    logger,
	}
}

// SetMetrics injects metrics collectors into handlers
func (h *Handlers) SetMetrics(jobMetrics *metrics.JobMetrics) {
	h.jobMetrics = jobMetrics
}

// writeJSON writes a JSON response
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// writeError writes an error response
func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure maps err to a status code, logging server-side failures
func (h *Handlers) writeFailure(w http.ResponseWriter, err error, message string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, "error", err)
		h.writeError(w, status, message)
		return
	}
	h.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, resolution.ErrInvalidConstraint),
		errors.Is(err, resolution.ErrDegenerateInput),
		errors.Is(err, constrain.ErrInvalidParams),
		errors.Is(err, processor.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, processor.ErrImageTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrNotCancelable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Resolve handles POST /api/v1/resolve
func (h *Handlers) Resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := bindJSON(r, &req); err != nil {
		h.writeFailure(w, err, "failed to bind request")
		return
	}

	params, err := req.merge(h.opts.Defaults)
	if err != nil {
		h.writeFailure(w, err, "failed to merge params")
		return
	}

	plan, err := h.node.Plan(resolution.Dimensions{Width: req.Width, Height: req.Height}, params)
	if err != nil {
		h.writeFailure(w, err, "failed to resolve dimensions")
		return
	}

	h.writeJSON(w, http.StatusOK, newResolveResponse(plan.Analysis))
}

// Constrain handles POST /api/v1/constrain. The processed image is returned
// directly with the resolved geometry in response headers.
func (h *Handlers) Constrain(w http.ResponseWriter, r *http.Request) {
	upload, err := h.readUpload(r)
	if err != nil {
		h.writeFailure(w, err, "failed to read upload")
		return
	}
	defer upload.file.Close()

	result, err := h.processor.Process(upload.file, upload.contentType, upload.params)
	if err != nil {
		h.writeFailure(w, err, "failed to process image")
		return
	}

	header := w.Header()
	header.Set("Content-Type", result.ContentType)
	header.Set("Content-Length", strconv.Itoa(len(result.Data)))
	header.Set("X-Constrained-Width", strconv.Itoa(result.Plan.Target.Width))
	header.Set("X-Constrained-Height", strconv.Itoa(result.Plan.Target.Height))
	header.Set("X-Aspect-Ratio", formatFloat(result.Plan.AspectRatio))
	header.Set("X-Original-Aspect-Ratio", formatFloat(result.Plan.OriginalAspectRatio))
	header.Set("X-Aspect-Deviation", formatFloat(result.Plan.Deviation))
	header.Set("X-Resize-Strategy", string(result.Plan.Strategy))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(result.Data); err != nil {
		h.logger.Error("failed to write image", "error", err)
	}
}

// CreateJob handles POST /api/v1/jobs
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	upload, err := h.readUpload(r)
	if err != nil {
		h.writeFailure(w, err, "failed to read upload")
		return
	}
	defer upload.file.Close()

	id := uuid.New()
	originalKey := storage.OriginalKey(id, upload.filename)
	metadata := map[string]string{"job-id": id.String()}
	if err := h.objects.Upload(ctx, originalKey, upload.file, upload.size, upload.contentType, metadata); err != nil {
		h.writeFailure(w, err, "failed to upload file")
		return
	}

	job := models.NewJob(originalKey, upload.filename, upload.contentType, upload.size, upload.params)
	job.ID = id

	if err := h.jobs.Create(ctx, job); err != nil {
		h.logger.Error("failed to create job", "error", err)
		if delErr := h.objects.Delete(ctx, originalKey); delErr != nil {
			h.logger.Warn("failed to remove orphaned upload", "key", originalKey, "error", delErr)
		}
		h.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := h.jobs.UpdateStatus(ctx, job.ID, models.JobStatusQueued); err != nil {
		h.logger.Error("failed to update job status", "error", err)
	}
	job.Status = models.JobStatusQueued

	msg := &models.JobMessage{JobID: job.ID, Params: job.Params}
	if err := h.queue.Enqueue(ctx, msg); err != nil {
		h.logger.Error("failed to enqueue job", "error", err)
		// Leave the record pending so it can be re-queued.
		if updateErr := h.jobs.UpdateStatus(ctx, job.ID, models.JobStatusPending); updateErr != nil {
			h.logger.Error("failed to update job status", "error", updateErr)
		}
		h.writeError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}

	if h.jobMetrics != nil {
		h.jobMetrics.JobsTotal.WithLabelValues("created").Inc()
	}
	h.logger.Info("job created",
		"job_id", job.ID,
		"constraint_mode", job.Params.Mode,
		"resize_mode", job.Params.Resize,
	)
	h.writeJSON(w, http.StatusCreated, job)
}

// GetJob handles GET /api/v1/jobs/{id}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		h.writeFailure(w, err, "failed to get job")
		return
	}

	h.writeJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/v1/jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(query.Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	status := models.JobStatus(query.Get("status"))
	if status != "" && !status.Valid() {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", status))
		return
	}

	jobs, total, err := h.jobs.List(r.Context(), status, page, pageSize)
	if err != nil {
		h.writeFailure(w, err, "failed to list jobs")
		return
	}

	h.writeJSON(w, http.StatusOK, models.JobListResponse{
		Jobs:       jobs,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	})
}

// CancelJob handles DELETE /api/v1/jobs/{id}
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	if err := h.jobs.CancelJob(r.Context(), id, h.opts.JobRetention); err != nil {
		h.writeFailure(w, err, "failed to cancel job")
		return
	}

	if h.jobMetrics != nil {
		h.jobMetrics.JobsTotal.WithLabelValues(string(models.JobStatusCancelled)).Inc()
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

// GetImage handles GET /api/v1/images/{id}. The processed image is served
// unless ?original=true is given; ?presign=true redirects to a signed URL.
func (h *Handlers) GetImage(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		h.writeFailure(w, err, "failed to get job")
		return
	}

	query := r.URL.Query()
	imageKey, contentType := job.ProcessedKey, job.ProcessedContentType()
	if query.Get("original") == "true" {
		imageKey, contentType = job.OriginalKey, job.ContentType
	}
	if imageKey == "" {
		h.writeError(w, http.StatusConflict, fmt.Sprintf("job is %s, no processed image yet", job.Status))
		return
	}

	if query.Get("presign") == "true" {
		url, err := h.objects.GetPresignedURL(r.Context(), imageKey, 15*time.Minute)
		if err != nil {
			h.writeFailure(w, err, "failed to presign image")
			return
		}
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	}

	reader, err := h.objects.Download(r.Context(), imageKey)
	if err != nil {
		h.writeFailure(w, err, "failed to download image")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", contentType)
	if res := job.Result; res != nil && imageKey == job.ProcessedKey {
		w.Header().Set("X-Constrained-Width", strconv.Itoa(res.Target.Width))
		w.Header().Set("X-Constrained-Height", strconv.Itoa(res.Target.Height))
		w.Header().Set("X-Resize-Strategy", string(res.Strategy))
	}
	if _, err := io.Copy(w, reader); err != nil {
		h.logger.Error("failed to stream image", "error", err)
	}
}

// GetQueueStats handles GET /api/v1/stats/queue
func (h *Handlers) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.GetStats(r.Context(), h.opts.GroupName)
	if err != nil {
		h.writeFailure(w, err, "failed to get queue stats")
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// StreamJobStatus handles GET /api/v1/jobs/{id}/stream
// Streams job status updates using Server-Sent Events (SSE)
func (h *Handlers) StreamJobStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.GetByID(r.Context(), id)
	if err != nil {
		h.writeFailure(w, err, "failed to get job")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	send := func(job *models.Job) {
		data, _ := json.Marshal(job)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	send(job)
	if job.Status.Terminal() {
		return
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := h.jobs.GetByID(ctx, id)
			if err != nil {
				if ctx.Err() == nil {
					h.logger.Error("failed to get job during stream", "error", err)
				}
				return
			}
			send(job)
			if job.Status.Terminal() {
				return
			}
		}
	}
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthy := true
	checks := make(map[string]any)
	check := func(name string, err error, extra map[string]any) {
		entry := map[string]any{"status": "healthy"}
		if err != nil {
			healthy = false
			entry = map[string]any{"status": "unhealthy", "error": err.Error()}
		} else {
			for k, v := range extra {
				entry[k] = v
			}
		}
		checks[name] = entry
	}

	dbErr := h.db.Health(ctx)
	var dbExtra map[string]any
	if dbErr == nil {
		stats := h.db.Stats()
		dbExtra = map[string]any{
			"open_connections": stats.OpenConnections,
			"in_use":           stats.InUse,
			"idle":             stats.Idle,
		}
	}
	check("database", dbErr, dbExtra)
	check("storage", h.objects.Health(ctx), nil)

	_, redisErr := h.queue.GetStats(ctx, h.opts.GroupName)
	check("redis", redisErr, nil)

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

type uploadedImage struct {
	file        multipartFile
	filename    string
	contentType string
	size        int64
	params      constrain.Params
}

type multipartFile interface {
	io.Reader
	io.Closer
}

// readUpload parses the multipart "image" file and optional "params" JSON
func (h *Handlers) readUpload(r *http.Request) (*uploadedImage, error) {
	if err := r.ParseMultipartForm(h.opts.MaxMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to parse form: %v", ErrBadRequest, err)
	}

	params, err := bindParams(r.FormValue("params"), h.opts.Defaults)
	if err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return nil, fmt.Errorf("%w: image file is required", ErrBadRequest)
	}

	contentType := header.Header.Get("Content-Type")
	if !isValidImageType(contentType) {
		contentType = detectContentType(header.Filename)
		if !isValidImageType(contentType) {
			file.Close()
			return nil, fmt.Errorf("%w: invalid image type, must be JPEG, PNG, GIF, BMP or TIFF", ErrBadRequest)
		}
	}

	return &uploadedImage{
		file:        file,
		filename:    header.Filename,
		contentType: strings.ToLower(contentType),
		size:        header.Size,
		params:      params,
	}, nil
}

func (h *Handlers) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid job ID")
		return uuid.Nil, false
	}
	return id, true
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

var validImageTypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/gif",
	"image/bmp",
	"image/tiff",
}

func isValidImageType(contentType string) bool {
	for _, t := range validImageTypes {
		if strings.EqualFold(contentType, t) {
			return true
		}
	}
	return false
}

func detectContentType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".bmp"):
		return "image/bmp"
	case strings.HasSuffix(lower, ".tif"), strings.HasSuffix(lower, ".tiff"):
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
