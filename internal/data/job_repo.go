package data

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/job"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
)

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	// Retry governs the linear backoff applied when an attempt fails and the
	// default attempt ceiling for new jobs.
	Retry        *job.RetryPolicy
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for the durable optimization queue.
type JobRepo struct {
	DB           *sql.DB
	retry        *job.RetryPolicy
	timeProvider TimeProvider
	logger       *slog.Logger
}

const (
	defaultRetryDelay  = 5 * time.Minute
	defaultMaxAttempts = 3
)

// NewJobRepo creates a JobRepo with the given database handle and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	retry := cfg.Retry
	if retry == nil {
		retry = &job.RetryPolicy{Delay: defaultRetryDelay, MaxAttempts: defaultMaxAttempts}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobRepo{
		DB:           db,
		retry:        retry,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
	}
}

const jobColumns = `
  id,
  subject_id,
  status,
  priority,
  target_score,
  current_score,
  iterations,
  attempts,
  max_attempts,
  payload,
  result,
  last_error,
  scheduled_at,
  started_at,
  completed_at,
  failed_at,
  created_at,
  updated_at
`

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	payload, result                 []byte
	lastError                       sql.NullString
	startedAt, completedAt, failedAt sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, j *model.Job) error {
	return scanner.Scan(
		&j.ID,
		&j.SubjectID,
		&j.Status,
		&j.Priority,
		&j.TargetScore,
		&j.CurrentScore,
		&j.Iterations,
		&j.Attempts,
		&j.MaxAttempts,
		&d.payload,
		&d.result,
		&d.lastError,
		&j.ScheduledAt,
		&d.startedAt,
		&d.completedAt,
		&d.failedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
}

func (d *jobRowData) apply(j *model.Job) {
	j.Payload = cloneJSON(d.payload)
	if len(d.result) > 0 {
		j.Result = append(json.RawMessage(nil), d.result...)
	}
	j.LastError = cloneNullableString(d.lastError)
	j.StartedAt = cloneNullableTime(d.startedAt)
	j.CompletedAt = cloneNullableTime(d.completedAt)
	j.FailedAt = cloneNullableTime(d.failedAt)
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	j := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, j); err != nil {
		return nil, err
	}
	data.apply(j)
	return j, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
