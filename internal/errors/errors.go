// Package errors provides the structured error type used across quarry,
// plus retry and circuit-breaker helpers for calls to external services.
package errors

import (
	"fmt"
)

// QuarryError is the structured error type for quarry.
// It carries enough context for classification (spec: transient I/O,
// per-item, fatal, invalid request) without the host needing to parse text.
type QuarryError struct {
	// Code is the unique error code (e.g. "QRY_301_PROVIDER_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the subsystem the error originated in.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *QuarryError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *QuarryError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so errors.Is works with QuarryError sentinels.
func (e *QuarryError) Is(target error) bool {
	if t, ok := target.(*QuarryError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *QuarryError) WithDetail(key, value string) *QuarryError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a QuarryError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *QuarryError {
	return &QuarryError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a QuarryError from an existing error, keeping its message.
func Wrap(code string, err error) *QuarryError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// AlreadyIndexing is the invalid-request error for a second start
// while a job is active. Rejected synchronously, never queued.
func AlreadyIndexing(folder string) *QuarryError {
	return New(ErrCodeAlreadyIndexing, "indexing already in progress", nil).
		WithDetail("folder", folder)
}

// CollectionCollision is the fatal error for two folder paths hashing to the
// same collection handle.
func CollectionCollision(handle, existing, requested string) *QuarryError {
	return New(ErrCodeCollectionCollision,
		fmt.Sprintf("collection handle %s already bound to a different folder", handle), nil).
		WithDetail("existing", existing).
		WithDetail("requested", requested)
}

// IsRetryable reports whether err is a QuarryError with the retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if qe, ok := err.(*QuarryError); ok {
		return qe.Retryable
	}
	return false
}

// IsFatal reports whether err has fatal severity.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if qe, ok := err.(*QuarryError); ok {
		return qe.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" if err is not a QuarryError.
func GetCode(err error) string {
	if qe, ok := err.(*QuarryError); ok {
		return qe.Code
	}
	return ""
}
