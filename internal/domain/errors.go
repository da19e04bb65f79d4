package domain

import "errors"

var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnauthenticated   = errors.New("authentication required")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrPersistence       = errors.New("persistence error")

	// ErrEmptyInput is returned when an uploaded sheet yields no rows at all.
	ErrEmptyInput = errors.New("uploaded file is empty")
	// ErrTooManyRows is returned when an upload exceeds the configured row limit.
	ErrTooManyRows = errors.New("uploaded file has too many rows")
)

// BatchError reports a submission that was persisted but could not be
// materialized. The batch is already marked failed when this is returned.
type BatchError struct {
	Batch *Batch
	Err   error
}

func (e *BatchError) Error() string {
	if e == nil || e.Err == nil {
		return "batch submission failed"
	}
	return e.Err.Error()
}

func (e *BatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
