package order

import (
	"errors"
	"fmt"
)

var (
	// ErrOperationInProgress rejects a second close or modify on a position
	// whose first request has not settled.
	ErrOperationInProgress = errors.New("operation already in progress")
	// ErrCancelled is returned when the user declines a confirmation.
	ErrCancelled = errors.New("cancelled by user")
)

// ValidationError is a malformed trade request. It never reaches the host.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ExecutionError is a request the host received but did not carry out.
type ExecutionError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Op, e.Reason)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
