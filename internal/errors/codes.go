package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a specific error type for pipeline operations.
type ErrorCode string

const (
	// ErrCodeUnauthorized indicates the provider rejected our credentials.
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrCodeRateLimitExceeded indicates the provider rate limit is exhausted.
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	// ErrCodeTransport indicates a network or provider failure.
	ErrCodeTransport ErrorCode = "TRANSPORT_ERROR"
	// ErrCodeInvalidArgument indicates invalid input parameters.
	ErrCodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
	// ErrCodeValidation indicates a malformed record that was skipped.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	// ErrCodeQuotaExceeded indicates the daily refresh limit was hit.
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
	// ErrCodeGraphInconsistency indicates an edge referencing a missing node.
	ErrCodeGraphInconsistency ErrorCode = "GRAPH_INCONSISTENCY"
)

// PipelineError represents a structured error for pipeline operations.
type PipelineError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// New creates a PipelineError with the given code and message.
func New(code ErrorCode, msg string) *PipelineError {
	return &PipelineError{Code: code, Message: msg}
}

// Newf creates a PipelineError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *PipelineError {
	return &PipelineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a PipelineError wrapping a cause.
func Wrap(err error, code ErrorCode, msg string) *PipelineError {
	return &PipelineError{Code: code, Message: msg, Cause: err}
}

// CodeOf returns the error code of err, or empty string if err is not a
// PipelineError.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsRetryable reports whether the error should be retried by the job policy.
// Authentication and quota errors are configuration problems, not transient.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeUnauthorized, ErrCodeQuotaExceeded, ErrCodeInvalidArgument:
		return false
	}
	return true
}

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *PipelineError {
	return New(ErrCodeUnauthorized, msg)
}

// RateLimitExceeded creates a rate limit error.
func RateLimitExceeded(msg string) *PipelineError {
	return New(ErrCodeRateLimitExceeded, msg)
}

// Transport creates a transport error wrapping a cause.
func Transport(err error, msg string) *PipelineError {
	return Wrap(err, ErrCodeTransport, msg)
}

// QuotaExceeded creates a quota error.
func QuotaExceeded(msg string) *PipelineError {
	return New(ErrCodeQuotaExceeded, msg)
}
