package store

import "errors"

var (
	// ErrNotFound is returned by mutations that match no row.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a versioned update no longer matches the
	// stored version.
	ErrConflict = errors.New("version conflict")
)
