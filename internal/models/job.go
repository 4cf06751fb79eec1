package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/timkrebs/constrain-resolution/internal/constrain"
	"github.com/timkrebs/constrain-resolution/internal/resolution"
)

// JobStatus represents the current state of a constrain job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "canceled"
)

// Terminal reports whether no further transitions are possible
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusQueued, JobStatusProcessing,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobResult is what the worker learned while constraining an upload
type JobResult struct {
	Source              resolution.Dimensions `json:"source"`
	Target              resolution.Dimensions `json:"target"`
	Intermediate        resolution.Dimensions `json:"intermediate"`
	AspectRatio         float64               `json:"aspect_ratio"`
	OriginalAspectRatio float64               `json:"original_aspect_ratio"`
	Deviation           float64               `json:"deviation"`
	DeviationExceeded   bool                  `json:"deviation_exceeded"`
	Strategy            constrain.Strategy    `json:"strategy"`
	// ContentType of the processed image, which may differ from the upload
	ContentType string `json:"content_type,omitempty"`
}

// NewJobResult flattens a constrain plan
func NewJobResult(plan *constrain.Plan) *JobResult {
	return &JobResult{
		Source:              plan.Source,
		Target:              plan.Target,
		Intermediate:        plan.Intermediate,
		AspectRatio:         plan.AspectRatio,
		OriginalAspectRatio: plan.OriginalAspectRatio,
		Deviation:           plan.Deviation,
		DeviationExceeded:   plan.DeviationExceeded,
		Strategy:            plan.Strategy,
	}
}

// Job represents an asynchronous constrain job
type Job struct {
	Params         constrain.Params `json:"params" db:"-"`
	Result         *JobResult       `json:"result,omitempty" db:"-"`
	StartedAt      *time.Time       `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	DeleteAt       *time.Time       `json:"delete_at,omitempty" db:"delete_at"`
	ProcessingTime *int64           `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	OriginalKey    string           `json:"original_key" db:"original_key"`
	ProcessedKey   string           `json:"processed_key,omitempty" db:"processed_key"`
	OriginalName   string           `json:"original_name" db:"original_name"`
	ContentType    string           `json:"content_type" db:"content_type"`
	ParamsJSON     string           `json:"-" db:"params"`
	ResultJSON     string           `json:"-" db:"result"`
	Error          string           `json:"error,omitempty" db:"error"`
	WorkerID       string           `json:"worker_id,omitempty" db:"worker_id"`
	ID             uuid.UUID        `json:"id" db:"id"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
	FileSize       int64            `json:"file_size" db:"file_size"`
	Status         JobStatus        `json:"status" db:"status"`
	Progress       int              `json:"progress" db:"progress"`
}

// NewJob creates a pending job for an uploaded image
func NewJob(originalKey, originalName, contentType string, fileSize int64, params constrain.Params) *Job {
	now := time.Now()
	return &Job{
		ID:           uuid.New(),
		Status:       JobStatusPending,
		OriginalKey:  originalKey,
		OriginalName: originalName,
		ContentType:  contentType,
		FileSize:     fileSize,
		Params:       params,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ProcessedContentType is the MIME type of the processed image, falling back
// to the upload's type for results stored without one
func (j *Job) ProcessedContentType() string {
	if j.Result != nil && j.Result.ContentType != "" {
		return j.Result.ContentType
	}
	return j.ContentType
}

// MarshalColumns serializes params and result for database storage
func (j *Job) MarshalColumns() error {
	data, err := json.Marshal(j.Params)
	if err != nil {
		return err
	}
	j.ParamsJSON = string(data)

	if j.Result == nil {
		j.ResultJSON = ""
		return nil
	}
	data, err = json.Marshal(j.Result)
	if err != nil {
		return err
	}
	j.ResultJSON = string(data)
	return nil
}

// UnmarshalColumns deserializes params and result read from the database
func (j *Job) UnmarshalColumns() error {
	if j.ParamsJSON != "" {
		if err := json.Unmarshal([]byte(j.ParamsJSON), &j.Params); err != nil {
			return err
		}
	}
	if j.ResultJSON == "" {
		j.Result = nil
		return nil
	}
	j.Result = &JobResult{}
	return json.Unmarshal([]byte(j.ResultJSON), j.Result)
}

// JobMessage represents a job message in the queue
type JobMessage struct {
	Params constrain.Params `json:"params"`
	JobID  uuid.UUID        `json:"job_id"`
}

// JobListResponse represents a paginated list of jobs
type JobListResponse struct {
	Jobs       []*Job `json:"jobs"`
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalPages int    `json:"total_pages"`
}

// QueueStats represents queue statistics
type QueueStats struct {
	StreamLength    int64 `json:"stream_length"`
	PendingMessages int64 `json:"pending_messages"`
	ConsumerCount   int64 `json:"consumer_count"`
}
