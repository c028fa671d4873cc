// Package model defines the core data types shared by the optimizer job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus represents the current status of an optimization job.
type JobStatus string

// JobPriority represents the scheduling priority of an optimization job.
type JobPriority string

const (
	// JobStatusPending indicates a job is waiting to be claimed.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates a job is currently being processed.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates a job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job exhausted its retries.
	JobStatusFailed JobStatus = "failed"
	// JobStatusCancelled indicates a job was cancelled before completion.
	JobStatusCancelled JobStatus = "cancelled"
	// JobStatusRetry indicates a failed attempt awaiting its backoff window.
	JobStatusRetry JobStatus = "retry"

	// JobPriorityLow is processed after normal and high priority jobs.
	JobPriorityLow JobPriority = "low"
	// JobPriorityNormal is the default priority.
	JobPriorityNormal JobPriority = "normal"
	// JobPriorityHigh may be processed synchronously on dispatch.
	JobPriorityHigh JobPriority = "high"
)

var (
	// ErrNoJobsAvailable is returned when no jobs are due for claiming.
	ErrNoJobsAvailable = errors.New("no jobs available")
	// ErrAlreadyQueued is returned when a subject already has an in-flight job.
	ErrAlreadyQueued = errors.New("subject already has a queued job")
	// ErrInvalidStatus is returned when a status outside the enumerated set is used.
	ErrInvalidStatus = errors.New("invalid job status")
)

// Valid returns true if the JobStatus is in the enumerated set.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled, JobStatusRetry:
		return true
	}
	return false
}

// Terminal returns true for statuses that end the job lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Valid returns true if the JobPriority is in the enumerated set.
func (p JobPriority) Valid() bool {
	return p == JobPriorityLow || p == JobPriorityNormal || p == JobPriorityHigh
}

// Rank maps a priority to its scheduling rank. Higher ranks are claimed first.
func (p JobPriority) Rank() int {
	switch p {
	case JobPriorityHigh:
		return 2
	case JobPriorityNormal:
		return 1
	case JobPriorityLow:
		return 0
	default:
		return 1
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for JobPriority to allow env parsing.
func (p *JobPriority) UnmarshalText(text []byte) error {
	v := JobPriority(strings.ToLower(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid JobPriority: %q", v)
	}
	*p = v
	return nil
}

// Job represents one optimization work item tied to a subject entity.
type Job struct {
	ID           string          `json:"id"                      db:"id"`
	SubjectID    int64           `json:"subject_id"              db:"subject_id"`
	Status       JobStatus       `json:"status"                  db:"status"`
	Priority     JobPriority     `json:"priority"                db:"priority"`
	TargetScore  int             `json:"target_score"            db:"target_score"`
	CurrentScore int             `json:"current_score"           db:"current_score"`
	Iterations   int             `json:"iterations"              db:"iterations"`
	Attempts     int             `json:"attempts"                db:"attempts"`
	MaxAttempts  int             `json:"max_attempts"            db:"max_attempts"`
	Payload      json.RawMessage `json:"payload"                 db:"payload"`
	Result       json.RawMessage `json:"result,omitempty"        db:"result"`
	LastError    *string         `json:"last_error,omitempty"    db:"last_error"`
	ScheduledAt  time.Time       `json:"scheduled_at"            db:"scheduled_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"    db:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"  db:"completed_at"`
	FailedAt     *time.Time      `json:"failed_at,omitempty"     db:"failed_at"`
	CreatedAt    time.Time       `json:"created_at"              db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"              db:"updated_at"`
}

// CreateJobRequest represents a request to enqueue a new optimization job.
type CreateJobRequest struct {
	SubjectID   int64               `json:"subject_id"`
	Priority    JobPriority         `json:"priority,omitempty"`
	Payload     OptimizationPayload `json:"payload"`
	ScheduledAt *time.Time          `json:"scheduled_at,omitempty"`
	MaxAttempts int                 `json:"max_attempts,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if r.SubjectID <= 0 {
		return &ValidationError{Field: "subject_id", Reason: "must reference an existing subject"}
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", r.Priority)}
	}
	if r.MaxAttempts < 0 {
		return &ValidationError{Field: "max_attempts", Reason: "must be >= 0"}
	}
	return r.Payload.Validate()
}

// JobStats aggregates queue health numbers for the management surface.
type JobStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Retry      int `json:"retry"`

	// SuccessRate is completed / (completed + failed); zero when no terminal jobs exist.
	SuccessRate float64 `json:"success_rate"`
	// AvgProcessingSeconds is the mean completed_at - started_at over completed jobs.
	AvgProcessingSeconds float64 `json:"avg_processing_seconds"`
	// AvgScoreDelta is the mean current_score improvement recorded on completed jobs.
	AvgScoreDelta float64 `json:"avg_score_delta"`
}

// QueueStatus is the dispatcher's management snapshot.
type QueueStatus struct {
	IsProcessing bool    `json:"is_processing"`
	CurrentJob   string  `json:"current_job,omitempty"`
	QueueDepth   int     `json:"queue_depth"`
	LastError    *string `json:"last_error,omitempty"`
}

// ValidationError describes a malformed dispatch request. It is always
// surfaced synchronously to the caller and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
