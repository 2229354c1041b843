package reconciliation

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record or discrepancy does not resolve for
// the given organization.
var ErrNotFound = errors.New("not found")

// ValidationError reports a malformed request. It is raised before any state
// mutation and maps to a 400 response at the HTTP layer.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// StateError reports a workflow operation attempted against a record whose
// status does not permit it. Maps to a 409 response at the HTTP layer.
type StateError struct {
	RecordStatus Status
	Operation    string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s a record in status %s", e.Operation, e.RecordStatus)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStateError reports whether err is a StateError.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
