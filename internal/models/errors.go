package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is matched by every *ValidationError via errors.Is.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a ledger, log or vehicle does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a record changed between read and write.
	ErrConflict = errors.New("record was modified concurrently")

	// ErrBaselineLocked is returned when the odometer baseline is set after it was corrected.
	ErrBaselineLocked = &ValidationError{Field: "odometer", Message: "original miles already corrected; use a correction instead"}
)

// ValidationError is a local, synchronous rejection of caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError for the given field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PermissionError reports that a position or motion source is unavailable or denied.
type PermissionError struct {
	Source string // "position" or "motion"
	Err    error
}

func (e *PermissionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s source unavailable", e.Source)
	}
	return fmt.Sprintf("%s source unavailable: %v", e.Source, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// IntegrityMismatch reports a stored hash that differs from the recomputed one.
type IntegrityMismatch struct {
	Kind     string // "ledger" or "log"
	ID       string
	Stored   string
	Computed string
}

func (e *IntegrityMismatch) Error() string {
	return fmt.Sprintf("%s %s: stored hash %s does not match computed %s", e.Kind, e.ID, e.Stored, e.Computed)
}
