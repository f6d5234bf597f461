package model

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed fact or request. Recoverable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError with a formatted reason.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports an ambiguous match or a repeated terminal operation
// such as committing an already-committed session. Recoverable.
type ConflictError struct {
	Subject string
	Reason  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s: %s", e.Subject, e.Reason)
}

// NewConflictError builds a ConflictError with a formatted reason.
func NewConflictError(subject, format string, args ...any) *ConflictError {
	return &ConflictError{Subject: subject, Reason: fmt.Sprintf(format, args...)}
}

// DependencyError reports an external collaborator that failed or timed out.
// The caller may retry the whole operation.
type DependencyError struct {
	Service string
	Err     error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s: %v", e.Service, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// NewDependencyError wraps err as a failure of the named service.
func NewDependencyError(service string, err error) *DependencyError {
	return &DependencyError{Service: service, Err: err}
}

// ConsistencyViolation reports a broken storage invariant. It is fatal for
// the affected entity and is never repaired automatically.
type ConsistencyViolation struct {
	EntityID  int64
	Invariant string
	Detail    string
}

func (e *ConsistencyViolation) Error() string {
	if e.EntityID > 0 {
		return fmt.Sprintf("consistency violation (entity %d): %s: %s", e.EntityID, e.Invariant, e.Detail)
	}
	return fmt.Sprintf("consistency violation: %s: %s", e.Invariant, e.Detail)
}

// NewConsistencyViolation builds a ConsistencyViolation with a formatted detail.
func NewConsistencyViolation(entityID int64, invariant, format string, args ...any) *ConsistencyViolation {
	return &ConsistencyViolation{EntityID: entityID, Invariant: invariant, Detail: fmt.Sprintf(format, args...)}
}

// StepError attributes a commit failure to the step that produced it.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("commit step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsConflict reports whether err carries a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsDependency reports whether err carries a DependencyError.
func IsDependency(err error) bool {
	var target *DependencyError
	return errors.As(err, &target)
}

// IsConsistency reports whether err carries a ConsistencyViolation.
func IsConsistency(err error) bool {
	var target *ConsistencyViolation
	return errors.As(err, &target)
}

// Recoverable reports whether the caller can re-prompt or retry after err.
func Recoverable(err error) bool {
	return IsValidation(err) || IsConflict(err) || IsDependency(err)
}

// FailedStep returns the commit step named in err, if any.
func FailedStep(err error) (string, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}
