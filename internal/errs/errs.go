// Package errs defines the error taxonomy shared by the index, the projection
// stage and the ranking engine.
package errs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by Get and Remove-style lookups for unknown event ids.
	ErrNotFound = errors.New("event not found")

	// ErrDimensionMismatch is matched by every DimensionMismatchError.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrStaleSlot is returned when a cached slot reference predates the
	// latest index mutation.
	ErrStaleSlot = errors.New("stale slot reference")

	// ErrClosed is returned for mutations after the index has shut down.
	ErrClosed = errors.New("index is closed")

	// ErrTimeout marks an operation that ran out of time. It is retryable.
	ErrTimeout = errors.New("operation timed out")

	// ErrNoSnapshot is returned by persisters that have nothing stored yet.
	ErrNoSnapshot = errors.New("no snapshot persisted")

	// ErrCorruptSnapshot is returned when the vector blob and the sidecar do
	// not describe the same index.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrConflict is returned when the stored snapshot is as new as, or newer
	// than, the one being saved: another writer committed since this index
	// was loaded. Reload before writing again.
	ErrConflict = errors.New("persisted index changed by another writer")
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// DimensionMismatchError reports a vector whose length differs from the
// dimension the receiver was built for.
type DimensionMismatchError struct {
	What string
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: expected %d dimensions, got %d", e.What, e.Want, e.Got)
}

// Is lets errors.Is(err, ErrDimensionMismatch) match.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// CheckDim returns a DimensionMismatchError when len(v) != want.
func CheckDim(what string, v []float32, want int) error {
	if len(v) != want {
		return &DimensionMismatchError{What: what, Want: want, Got: len(v)}
	}
	return nil
}

// PersistenceError wraps an I/O or decoding failure on save or load.
type PersistenceError struct {
	Op   string // "save" or "load"
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err in a PersistenceError unless it already is one.
func Persistence(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Path: path, Err: FromContext(err)}
}

// FromContext maps context deadline expiry to ErrTimeout, keeping the
// original error in the chain.
func FromContext(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// IsRetryable reports whether retrying the same call may succeed.
// Timeouts are retryable; structural errors are not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
