package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/core"
	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
)

// CaptureRepo reads capture entities and records webhook delivery metadata
// back onto them.
type CaptureRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewCaptureRepo creates a CaptureRepo with the given database handle.
func NewCaptureRepo(db *sql.DB, cfg RepoConfig) *CaptureRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "capture_repo"),
	}
}

const captureColumns = `
  id,
  kind,
  title,
  file_url,
  duration_seconds,
  subject_id,
  actor_id,
  actor_name,
  delivered_at,
  delivery_status,
  created_at,
  updated_at
`

// GetByID retrieves a capture by its ID.
func (r *CaptureRepo) GetByID(ctx context.Context, id int64) (*model.Capture, error) {
	c := &model.Capture{}
	var subjectID sql.NullInt64
	var actorName, deliveryStatus sql.NullString
	var deliveredAt sql.NullTime

	err := r.DB.QueryRowContext(ctx, `
		SELECT `+captureColumns+`
		FROM captures
		WHERE id = $1
	`, id).Scan(
		&c.ID,
		&c.Kind,
		&c.Title,
		&c.FileURL,
		&c.DurationSeconds,
		&subjectID,
		&c.ActorID,
		&actorName,
		&deliveredAt,
		&deliveryStatus,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrCaptureNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get capture: %w", err)
	}

	if subjectID.Valid {
		v := subjectID.Int64
		c.SubjectID = &v
	}
	if actorName.Valid {
		c.ActorName = actorName.String
	}
	c.DeliveryStatus = cloneNullableString(deliveryStatus)
	c.DeliveredAt = cloneNullableTime(deliveredAt)
	return c, nil
}

// RecordDelivery writes the outcome of the most recent webhook send onto the
// capture row.
func (r *CaptureRepo) RecordDelivery(ctx context.Context, id int64, meta model.DeliveryMetadata) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE captures
		SET delivery_status = $2,
		    delivered_at = $3,
		    updated_at = $4
		WHERE id = $1
	`, id, meta.Status, meta.DeliveredAt.UTC(), r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("record capture delivery: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record delivery rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrCaptureNotFound
	}
	return nil
}

// SubjectRepo answers existence and display lookups for the content entities
// jobs reference.
type SubjectRepo struct {
	DB *sql.DB
}

// NewSubjectRepo creates a SubjectRepo with the given database handle.
func NewSubjectRepo(db *sql.DB) *SubjectRepo {
	return &SubjectRepo{DB: db}
}

// Exists reports whether a subject row exists.
func (r *SubjectRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM subjects WHERE id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check subject exists: %w", err)
	}
	return exists, nil
}

// GetInfo returns the subject fields included in webhook payloads.
func (r *SubjectRepo) GetInfo(ctx context.Context, id int64) (*core.SubjectInfo, error) {
	info := &core.SubjectInfo{}
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, title, url FROM subjects WHERE id = $1
	`, id).Scan(&info.ID, &info.Title, &info.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subject info: %w", err)
	}
	return info, nil
}
