package domain

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a job in this status will never change status again.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// JobPhase is the coarse processing stage used to weight the progress
// percentage: uploading 0-10, parsing 10-20, processing 20-100.
type JobPhase string

const (
	PhaseUploading  JobPhase = "uploading"
	PhaseParsing    JobPhase = "parsing"
	PhaseProcessing JobPhase = "processing"
	PhaseCompleted  JobPhase = "completed"
)

// ImportError is one entry in a job's bounded error log.
type ImportError struct {
	Row     int    `json:"row"`
	Key     string `json:"key"`
	Message string `json:"message"`
}

// ImportJob tracks one import attempt from upload to a terminal status.
type ImportJob struct {
	ID               uuid.UUID     `json:"id"`
	FileName         string        `json:"file_name"`
	BlobKey          string        `json:"s3_key"`
	FileSize         int64         `json:"file_size"`
	Status           JobStatus     `json:"status"`
	Phase            JobPhase      `json:"phase"`
	Progress         int           `json:"progress"`
	TotalRecords     int           `json:"total_records"`
	ProcessedRecords int           `json:"processed_records"`
	Errors           []ImportError `json:"errors"`
	TaskID           string        `json:"task_id,omitempty"`
	LastUpdatedAt    time.Time     `json:"last_updated_at"`
	CreatedAt        time.Time     `json:"created_at"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// JobPatch is a partial update of an import job record. Nil fields are not
// written; a non-nil Errors slice replaces the stored error log.
type JobPatch struct {
	Status           *JobStatus
	Phase            *JobPhase
	Progress         *int
	TotalRecords     *int
	ProcessedRecords *int
	Errors           []ImportError
	TaskID           *string
	CompletedAt      *time.Time
}

// ProgressSnapshot is the externally visible view of a running job,
// published on every persisted update.
type ProgressSnapshot struct {
	JobID            string        `json:"job_id"`
	Status           JobStatus     `json:"status"`
	Phase            JobPhase      `json:"phase"`
	Progress         int           `json:"progress"`
	ProcessedRecords int           `json:"processed_records"`
	TotalRecords     int           `json:"total_records"`
	Errors           []ImportError `json:"errors,omitempty"`
	UpdatedAt        time.Time     `json:"updated_at"`
}
