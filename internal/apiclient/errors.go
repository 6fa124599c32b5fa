package apiclient

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the item no longer exists. Callers stop polling on it.
	ErrNotFound = errors.New("item not found")
	// ErrConflict means another actor modified the item since the version the
	// caller last saw.
	ErrConflict = errors.New("item was modified concurrently")
	// ErrInvalidResponse means the server answered with a shape this client
	// does not accept.
	ErrInvalidResponse = errors.New("invalid response")
	ErrUnauthorized    = errors.New("unauthorized")
)

// TransientError is any failure without a definitive classification. Reads
// may be retried; mutations are not retried automatically.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: server returned status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError is a precondition violation, raised locally before any
// network call or reported by the server as a 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsTransient reports whether err is a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
