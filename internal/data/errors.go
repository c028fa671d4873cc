package data

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hikma01/rankmath-capture-unified-sub000/internal/domain/model"
)

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job lookup misses.
	ErrJobNotFound = errors.New("job not found")
	// ErrSubjectNotFound is returned when a referenced subject does not exist.
	ErrSubjectNotFound = errors.New("subject not found")
)

// The jobs table carries a partial unique index on subject_id covering the
// active statuses, so a duplicate enqueue surfaces as a unique violation
// rather than a read-then-write race.
func mapJobInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return model.ErrAlreadyQueued
	}
	return err
}

// isForeignKeyViolation reports whether err is a foreign key constraint error.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}
