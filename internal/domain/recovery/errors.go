package recovery

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("not found")

// ValidationError rejects an event before any mutation: amounts out of
// bounds, fee percentage out of range, unknown enum values.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func validationf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransitionRejectedError rejects an illegal status change. State is left
// unchanged; the caller gets both ends of the attempted transition.
type TransitionRejectedError struct {
	EntityID  uuid.UUID
	Current   string
	Attempted string
	Reason    string
}

func (e *TransitionRejectedError) Error() string {
	return fmt.Sprintf("transition rejected for %s: %s -> %s (%s)",
		e.EntityID, e.Current, e.Attempted, e.Reason)
}

// ConflictError is surfaced when the optimistic-concurrency retry budget on
// a shared aggregate is exhausted. The whole event is safe to retry.
type ConflictError struct {
	EntityID string
	Attempts int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent update conflict on %s after %d attempts", e.EntityID, e.Attempts)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTransitionRejected reports whether err is a TransitionRejectedError.
func IsTransitionRejected(err error) bool {
	var tr *TransitionRejectedError
	return errors.As(err, &tr)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
