package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/core"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/data/pgxutil"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
)

// activeStatuses is the status group covered by the one-in-flight-per-subject
// unique index. Keep in sync with uniq_jobs_subject_active in the schema.
const activeStatuses = `('pending', 'processing', 'retry')`

// SQL used by ClaimNextBatch to atomically move due jobs to processing.
// The inner SELECT with SKIP LOCKED guarantees two concurrent claimants
// never receive the same row.
const claimBatchSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE status IN ('pending', 'retry') AND scheduled_at <= $1
    ORDER BY priority_rank DESC, scheduled_at ASC, created_at ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'processing',
    started_at = COALESCE(j.started_at, $1),
    updated_at = $1
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.subject_id, j.status, j.priority, j.target_score, j.current_score, j.iterations, j.attempts, j.max_attempts, j.payload, j.result, j.last_error, j.scheduled_at, j.started_at, j.completed_at, j.failed_at, j.created_at, j.updated_at`

// Create inserts a new pending job. A subject with an in-flight job trips the
// partial unique index and surfaces as model.ErrAlreadyQueued.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := req.Payload.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	priority := req.Priority
	if priority == "" {
		priority = model.JobPriorityNormal
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = r.retry.MaxAttempts
	}

	scheduledAt := r.timeProvider.Now().UTC()
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	var created *model.Job
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, `
			  INSERT INTO jobs(subject_id, status, priority, priority_rank, target_score, current_score, payload, scheduled_at, max_attempts)
			  VALUES ($1, 'pending', $2, $3, $4, $5, $6, $7, $8)
			  RETURNING `+jobColumns,
				req.SubjectID,
				priority,
				priority.Rank(),
				req.Payload.Analysis.TargetScore,
				req.Payload.Analysis.Score,
				payload,
				scheduledAt,
				maxAttempts,
			)
			if qerr != nil {
				return fmt.Errorf("insert job: %w", qerr)
			}
			j, cerr := collectJobFromRows(rows)
			rows.Close()
			if cerr != nil {
				return fmt.Errorf("collect job: %w", cerr)
			}

			if _, nerr := tx.Exec(ctx, `SELECT pg_notify('optimizer_job_added', $1::text)`, j.ID); nerr != nil {
				return fmt.Errorf("send job notification: %w", nerr)
			}
			created = j
			return nil
		},
	})
	if txErr != nil {
		if mapped := mapJobInsertError(txErr); errors.Is(mapped, model.ErrAlreadyQueued) {
			return nil, model.ErrAlreadyQueued
		}
		if isForeignKeyViolation(txErr) {
			return nil, &model.ValidationError{Field: "subject_id", Reason: "must reference an existing subject"}
		}
		return nil, txErr
	}
	return created, nil
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}
	j, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return j, nil
}

func collectJobsFromRows(rows pgx.Rows) ([]*model.Job, error) {
	var jobs []*model.Job
	for rows.Next() {
		j, err := scanJobFromRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var j *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		var cerr error
		j, cerr = collectJobFromRows(rows)
		return cerr
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// PendingDue lists due pending and retry jobs without claiming them.
func (r *JobRepo) PendingDue(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []*model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE status IN ('pending', 'retry') AND scheduled_at <= $1
			ORDER BY priority_rank DESC, scheduled_at ASC, created_at ASC
			LIMIT $2
		`, r.timeProvider.Now().UTC(), limit)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		var cerr error
		jobs, cerr = collectJobsFromRows(rows)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	return jobs, nil
}

// ClaimNextBatch atomically claims up to limit due jobs for processing.
// Returns model.ErrNoJobsAvailable when nothing is due.
func (r *JobRepo) ClaimNextBatch(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 1
	}

	var jobs []*model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, claimBatchSQL, r.timeProvider.Now().UTC(), limit)
			if qerr != nil {
				return fmt.Errorf("claim jobs: %w", qerr)
			}
			defer rows.Close()
			var cerr error
			jobs, cerr = collectJobsFromRows(rows)
			return cerr
		},
	})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, model.ErrNoJobsAvailable
	}

	// UPDATE ... FROM does not preserve the CTE ordering, so restore the
	// claim order before handing the batch to the caller.
	sort.SliceStable(jobs, func(a, b int) bool {
		if ra, rb := jobs[a].Priority.Rank(), jobs[b].Priority.Rank(); ra != rb {
			return ra > rb
		}
		return jobs[a].ScheduledAt.Before(jobs[b].ScheduledAt)
	})
	return jobs, nil
}

// Complete marks a processing job as completed with its typed result.
func (r *JobRepo) Complete(ctx context.Context, params core.CompleteJobParams) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    result = $2,
		    current_score = $3,
		    iterations = $4,
		    completed_at = $5,
		    updated_at = $5,
		    last_error = NULL
		WHERE id = $1 AND status = 'processing'
	`, params.ID, []byte(params.Result), params.Score, params.Iterations, currentTime)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Fail records a failed attempt. While attempts remain the job moves to retry
// with scheduled_at pushed out linearly (delay * attempts); at the ceiling it
// moves to failed and keeps its schedule for the audit trail.
func (r *JobRepo) Fail(ctx context.Context, id, errMsg string) (*core.FailOutcome, error) {
	currentTime := r.timeProvider.Now().UTC()
	delaySeconds := int64(r.retry.Delay.Seconds())

	query := `
	  UPDATE jobs
	  SET
	    last_error = $2,
	    attempts = attempts + 1,
	    status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'retry' END,
	    failed_at = CASE WHEN attempts + 1 >= max_attempts THEN $3::timestamptz ELSE NULL END,
	    scheduled_at = CASE WHEN attempts + 1 >= max_attempts THEN scheduled_at
	                        ELSE $3::timestamptz + ($4::bigint * (attempts + 1)) * interval '1 second' END,
	    updated_at = $3
	  WHERE id = $1 AND status = 'processing'
	  RETURNING status, attempts
	`

	var status model.JobStatus
	var attempts int
	err := r.DB.QueryRowContext(ctx, query, id, errMsg, currentTime, delaySeconds).Scan(&status, &attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return &core.FailOutcome{Updated: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}

	return &core.FailOutcome{
		Updated:  true,
		Terminal: status == model.JobStatusFailed,
		Attempts: attempts,
	}, nil
}

// FailPermanent terminally fails a processing job regardless of remaining
// attempts. A payload the backend rejected outright cannot succeed on retry,
// so it skips the retry schedule entirely.
func (r *JobRepo) FailPermanent(ctx context.Context, id, errMsg string) (*core.FailOutcome, error) {
	currentTime := r.timeProvider.Now().UTC()

	var attempts int
	err := r.DB.QueryRowContext(ctx, `
	  UPDATE jobs
	  SET status = 'failed',
	      last_error = $2,
	      attempts = attempts + 1,
	      failed_at = $3,
	      updated_at = $3
	  WHERE id = $1 AND status = 'processing'
	  RETURNING attempts
	`, id, errMsg, currentTime).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return &core.FailOutcome{Updated: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fail job permanently: %w", err)
	}

	return &core.FailOutcome{Updated: true, Terminal: true, Attempts: attempts}, nil
}

// Release returns claimed jobs to pending without recording an attempt.
// scheduled_at is untouched, so released jobs are due again on the next claim.
func (r *JobRepo) Release(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', started_at = NULL, updated_at = $2
		WHERE id = ANY($1::uuid[]) AND status = 'processing'
	`, ids, currentTime)
	if err != nil {
		return 0, fmt.Errorf("release jobs: %w", err)
	}
	return res.RowsAffected()
}

// PromoteDueRetries moves retry jobs whose backoff window has passed back to
// pending so the next claim can pick them up.
func (r *JobRepo) PromoteDueRetries(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', updated_at = $1
		WHERE id IN (
			SELECT id FROM jobs
			WHERE status = 'retry' AND scheduled_at <= $1
			ORDER BY scheduled_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`, currentTime, limit)
	if err != nil {
		return 0, fmt.Errorf("promote due retries: %w", err)
	}
	return res.RowsAffected()
}

// HasPending reports whether the subject already has an in-flight job.
func (r *JobRepo) HasPending(ctx context.Context, subjectID int64) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM jobs
			WHERE subject_id = $1 AND status IN `+activeStatuses+`
		)
	`, subjectID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check pending job: %w", err)
	}
	return exists, nil
}

// Cancel cancels a single job. Only pending and retry jobs can be cancelled;
// a job already claimed for processing runs to completion.
func (r *JobRepo) Cancel(ctx context.Context, id string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'retry')
	`, id, currentTime)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// CancelForSubject cancels every pending and retry job for the subject.
// Used when the subject itself is deleted.
func (r *JobRepo) CancelForSubject(ctx context.Context, subjectID int64) (int64, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled', updated_at = $2
		WHERE subject_id = $1 AND status IN ('pending', 'retry')
	`, subjectID, currentTime)
	if err != nil {
		return 0, fmt.Errorf("cancel jobs for subject: %w", err)
	}
	return res.RowsAffected()
}

// QueueDepth counts jobs waiting to run.
func (r *JobRepo) QueueDepth(ctx context.Context) (int, error) {
	var depth int
	err := r.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM jobs WHERE status IN ('pending', 'retry')
	`).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

// Stats aggregates per-status counts and quality metrics for the management
// surface. The score delta compares the final score against the score the
// payload carried at dispatch time.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
	  SELECT
	    count(*) FILTER (WHERE status = 'pending')    AS pending,
	    count(*) FILTER (WHERE status = 'processing') AS processing,
	    count(*) FILTER (WHERE status = 'completed')  AS completed,
	    count(*) FILTER (WHERE status = 'failed')     AS failed,
	    count(*) FILTER (WHERE status = 'cancelled')  AS cancelled,
	    count(*) FILTER (WHERE status = 'retry')      AS retry,
	    COALESCE(avg(EXTRACT(EPOCH FROM (completed_at - started_at)))
	      FILTER (WHERE status = 'completed' AND started_at IS NOT NULL), 0) AS avg_seconds,
	    COALESCE(avg(current_score - (payload->'analysis'->>'score')::int)
	      FILTER (WHERE status = 'completed'), 0) AS avg_delta
	  FROM jobs
	`).Scan(
		&s.Pending,
		&s.Processing,
		&s.Completed,
		&s.Failed,
		&s.Cancelled,
		&s.Retry,
		&s.AvgProcessingSeconds,
		&s.AvgScoreDelta,
	)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}

	if terminal := s.Completed + s.Failed; terminal > 0 {
		s.SuccessRate = float64(s.Completed) / float64(terminal)
	}
	return &s, nil
}
