package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated indicates a missing, expired or superseded session.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrConcurrencyConflict indicates a transaction aborted by a concurrent
	// conflicting write. The whole operation is safe to retry once.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// ValidationError carries a field-level message for boundary input errors.
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

// NewValidationError constructs a field-level validation error.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// FundingError wraps a store failure inside the funding pipeline. The cause
// stays attached for logs; handlers only surface the generic message.
type FundingError struct {
	Cause error
}

func (e *FundingError) Error() string {
	if e.Cause != nil {
		return "funding failed: " + e.Cause.Error()
	}
	return "funding failed"
}

func (e *FundingError) Unwrap() error { return e.Cause }

// NewFundingError wraps err as a funding failure.
func NewFundingError(err error) *FundingError {
	return &FundingError{Cause: err}
}
