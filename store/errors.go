package store

import "errors"

// Errors
var (
	// ErrStorageUnavailable wraps engine-level failures (disk, quota,
	// locked file). Callers fall back to a non-persistent session.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrDuplicateKey is returned by Add when the id already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound is returned by UpdateExisting for a missing id. Reads
	// never return it; Get reports a missing record as (nil, nil).
	ErrNotFound = errors.New("record not found")
)
