// Package util provides utility functions and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors
var (
	ErrNotFound           = errors.New("resource not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrPreconditionFailed = errors.New("precondition not met")
	ErrValidationFailed   = errors.New("validation failed")
	ErrRemote             = errors.New("remote operation failed")
	ErrTaskFailed         = errors.New("task failed")
	ErrTaskTimeout        = errors.New("task timed out")
	ErrVersionGate        = errors.New("feature not supported by controller version")
	ErrLocked             = errors.New("target locked by another invocation")
)

// PreconditionError represents a failed precondition check with context
type PreconditionError struct {
	Operation    string
	Resource     string
	Precondition string
	Details      string
}

func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("precondition failed for %s on %s: %s", e.Operation, e.Resource, e.Precondition)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionFailed
}

// NewPreconditionError creates a new precondition error
func NewPreconditionError(operation, resource, precondition, details string) *PreconditionError {
	return &PreconditionError{
		Operation:    operation,
		Resource:     resource,
		Precondition: precondition,
		Details:      details,
	}
}

// ValidationError represents one or more validation failures. It is the
// configuration-error class: declared input that is self-inconsistent.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}

// RemoteError is a structured error returned by the controller client.
type RemoteError struct {
	Family    string
	Operation string
	Status    int // HTTP status, 0 for transport errors
	Message   string
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s.%s returned %d: %s", e.Family, e.Operation, e.Status, e.Message)
	}
	return fmt.Sprintf("%s.%s: %s", e.Family, e.Operation, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return ErrRemote
}

// TaskError is a task handle that resolved to an error.
type TaskError struct {
	TaskID string
	Reason string
}

func (e *TaskError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("task %s failed", e.TaskID)
	}
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Reason)
}

func (e *TaskError) Unwrap() error {
	return ErrTaskFailed
}

// TimeoutError is a task that did not reach a terminal state within its bound.
type TimeoutError struct {
	TaskID string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s did not complete within %s", e.TaskID, e.After)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTaskTimeout
}

// VersionGateError reports a feature that the connected controller is too old for.
type VersionGateError struct {
	Feature  string
	Required string
	Actual   string
}

func (e *VersionGateError) Error() string {
	return fmt.Sprintf("%s requires controller version %s or later (connected: %s)", e.Feature, e.Required, e.Actual)
}

func (e *VersionGateError) Unwrap() error {
	return ErrVersionGate
}
