package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/core"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/data/pgxutil"
)

// Advisory lock namespace for maintenance operations. The two-arg
// pg_try_advisory_xact_lock(major, minor) keeps concurrent reaper instances
// from running the same sweep twice.
const (
	advisoryLockReaperMajor     = 2100
	advisoryLockReaperRequeue   = 1 // minor key for RequeueStuck
	advisoryLockReaperDelete    = 2 // minor key for DeleteOlderThan
	advisoryLockDeliveryCleanup = 3 // minor key for delivery queue cleanup
)

// RequeueStuck recovers jobs abandoned in processing by a crashed or hung
// worker. Jobs started more than params.Timeout ago move back to retry with
// an incremented attempt count so a wedged payload cannot loop forever.
func (r *JobRepo) RequeueStuck(ctx context.Context, params core.RequeueStuckParams) (int64, error) {
	if params.Timeout <= 0 {
		return 0, errors.New("timeout must be greater than zero")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperRequeue).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()
			cutoffTime := currentTime.Add(-params.Timeout)

			res, err := tx.ExecContext(ctx, `
				UPDATE jobs
				SET status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'retry' END,
				    attempts = attempts + 1,
				    last_error = 'timeout',
				    failed_at = CASE WHEN attempts + 1 >= max_attempts THEN $1::timestamptz ELSE NULL END,
				    updated_at = $1
				WHERE id IN (
					SELECT id FROM jobs
					WHERE status = 'processing'
					  AND started_at < $2
					ORDER BY started_at
					LIMIT $3
				)
			`, currentTime.UTC(), cutoffTime.UTC(), batchSize)
			if err != nil {
				return fmt.Errorf("requeue stuck jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteOlderThan deletes terminal jobs older than params.MaxAge, up to
// params.BatchSize per call to keep lock times and I/O spikes bounded.
func (r *JobRepo) DeleteOlderThan(ctx context.Context, params core.DeleteOldJobsParams) (int64, error) {
	if params.MaxAge <= 0 {
		return 0, errors.New("max age must be greater than zero")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockReaperDelete).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			cutoffTime := r.timeProvider.Now().Add(-params.MaxAge).UTC()

			res, err := tx.ExecContext(ctx, `
				DELETE FROM jobs
				WHERE id IN (
					SELECT id FROM jobs
					WHERE status IN ('completed', 'failed', 'cancelled')
					  AND COALESCE(completed_at, failed_at, updated_at) < $1
					ORDER BY COALESCE(completed_at, failed_at, updated_at)
					LIMIT $2
				)
			`, cutoffTime, batchSize)
			if err != nil {
				return fmt.Errorf("delete old jobs: %w", err)
			}

			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
