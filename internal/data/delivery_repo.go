package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/core"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/data/pgxutil"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
)

// DeliveryRepo persists the webhook retry queue. Rows exist only between a
// failed immediate send and either a successful delayed delivery (deleted)
// or attempt exhaustion (kept as terminal failed for the audit trail).
type DeliveryRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewDeliveryRepo creates a DeliveryRepo with the given database handle.
func NewDeliveryRepo(db *sql.DB, cfg RepoConfig) *DeliveryRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DeliveryRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "delivery_repo"),
	}
}

const deliveryColumns = `
  id,
  capture_id,
  destination_url,
  payload,
  attempts,
  status,
  last_error,
  next_retry_at,
  created_at,
  updated_at
`

func scanDelivery(scanner interface{ Scan(...any) error }) (*model.WebhookDelivery, error) {
	d := &model.WebhookDelivery{}
	var payload []byte
	var lastError sql.NullString
	if err := scanner.Scan(
		&d.ID,
		&d.CaptureID,
		&d.DestinationURL,
		&payload,
		&d.Attempts,
		&d.Status,
		&lastError,
		&d.NextRetryAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Payload = append(json.RawMessage(nil), payload...)
	d.LastError = cloneNullableString(lastError)
	return d, nil
}

// Enqueue persists a failed send for delayed redelivery. The row starts at
// attempts = 1 since the immediate send already consumed the first attempt.
func (r *DeliveryRepo) Enqueue(ctx context.Context, req *model.CreateDeliveryRequest) (*model.WebhookDelivery, error) {
	if req == nil {
		return nil, errors.New("create delivery request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO webhook_deliveries(capture_id, destination_url, payload, attempts, status, last_error, next_retry_at)
		VALUES ($1, $2, $3, 1, 'pending', NULLIF($4, ''), $5)
		RETURNING `+deliveryColumns,
		req.CaptureID,
		req.DestinationURL,
		[]byte(req.Payload),
		req.LastError,
		req.NextRetryAt.UTC(),
	)
	d, err := scanDelivery(row)
	if err != nil {
		return nil, fmt.Errorf("enqueue delivery: %w", err)
	}
	return d, nil
}

// GetByID retrieves a queued delivery by its ID.
func (r *DeliveryRepo) GetByID(ctx context.Context, id string) (*model.WebhookDelivery, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE id = $1
	`, id)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

// ListDue returns pending items whose retry window has passed, oldest first.
func (r *DeliveryRepo) ListDue(ctx context.Context, limit int) ([]*model.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE status = 'pending' AND next_retry_at <= $1
		ORDER BY next_retry_at ASC
		LIMIT $2
	`, r.timeProvider.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due deliveries: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var items []*model.WebhookDelivery
	for rows.Next() {
		d, serr := scanDelivery(rows)
		if serr != nil {
			return nil, fmt.Errorf("scan delivery: %w", serr)
		}
		items = append(items, d)
	}
	if rerr := rows.Err(); rerr != nil {
		return nil, rerr
	}
	return items, nil
}

// MarkDelivered removes a queue row after a successful delayed delivery.
func (r *DeliveryRepo) MarkDelivered(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM webhook_deliveries
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark delivered rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// RecordFailure increments the attempt counter. Below the ceiling the item is
// rescheduled for params.NextRetryAt; at the ceiling it becomes terminal.
func (r *DeliveryRepo) RecordFailure(ctx context.Context, params core.RecordDeliveryFailureParams) (*model.WebhookDelivery, error) {
	if params.MaxAttempts <= 0 {
		return nil, errors.New("max attempts must be greater than zero")
	}
	currentTime := r.timeProvider.Now().UTC()

	row := r.DB.QueryRowContext(ctx, `
		UPDATE webhook_deliveries
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END,
		    next_retry_at = CASE WHEN attempts + 1 >= $3 THEN next_retry_at ELSE $4::timestamptz END,
		    updated_at = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING `+deliveryColumns,
		params.ID,
		params.Error,
		params.MaxAttempts,
		params.NextRetryAt.UTC(),
		currentTime,
	)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record delivery failure: %w", err)
	}
	return d, nil
}

// CountPending counts items still awaiting redelivery.
func (r *DeliveryRepo) CountPending(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM webhook_deliveries WHERE status = 'pending'
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending deliveries: %w", err)
	}
	return n, nil
}

// DeleteOlderThan prunes terminal failed rows older than params.MaxAge.
func (r *DeliveryRepo) DeleteOlderThan(ctx context.Context, params core.DeleteOldDeliveriesParams) (int64, error) {
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
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", advisoryLockReaperMajor, advisoryLockDeliveryCleanup).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			cutoffTime := r.timeProvider.Now().Add(-params.MaxAge).UTC()
			res, err := tx.ExecContext(ctx, `
				DELETE FROM webhook_deliveries
				WHERE id IN (
					SELECT id FROM webhook_deliveries
					WHERE status = 'failed' AND updated_at < $1
					ORDER BY updated_at
					LIMIT $2
				)
			`, cutoffTime, batchSize)
			if err != nil {
				return fmt.Errorf("delete old deliveries: %w", err)
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
