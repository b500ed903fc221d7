package data

import (
	"errors"
	"fmt"
)

// Shared sentinel errors for the store layer.
var (
	// ErrJobNotFound is returned when a job record does not exist.
	ErrJobNotFound = errors.New("job not found")

	// ErrConflict is the sentinel every ConflictError matches via errors.Is.
	// A conflict means the single-flight slot for (type, scope) is held by
	// an existing non-terminal record; it is expected steady-state
	// behavior, distinct from storage failures.
	ErrConflict = errors.New("job already pending or running")
)

// ConflictError reports a single-flight violation together with the job id
// currently holding the slot.
type ConflictError struct {
	ExistingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("job already pending or running (existing id %s)", e.ExistingID)
}

// Is lets callers match any ConflictError against ErrConflict.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StorageError wraps a backing-store failure so callers can distinguish it
// from a Conflict. A storage error must never be interpreted as "no job
// running".
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
