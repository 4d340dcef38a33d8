package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a missing or malformed request field.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks a referenced project, bucket or task that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a state transition that is no longer allowed, such as
	// completing a task twice.
	ErrConflict = errors.New("conflict")
	// ErrStorageUnavailable marks a transient storage failure. Callers may retry.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrAlreadyExists is returned by Store.Create when the document exists.
	ErrAlreadyExists = errors.New("document already exists")
	// ErrPreconditionFailed is returned by Store.UpdateIf when the condition
	// does not hold for the stored document.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ValidationError names the offending field. It unwraps to ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Unavailable wraps an infrastructure error so it matches ErrStorageUnavailable.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
