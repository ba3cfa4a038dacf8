// Package apperror implements the structured error type shared by every
// service. Errors carry a stable Code so callers can branch on failure class
// (validation, transient, circuit-open, domain) without string matching.
package apperror

import (
	"errors"
	"fmt"
	"time"
)

// AppError implements the error interface and provides structured error handling
type AppError struct {
	Code      Code      `json:"code"`
	Message   string    `json:"message"`
	Context   string    `json:"context,omitempty"`
	Resource  string    `json:"resource,omitempty"`
	NextRetry time.Time `json:"nextRetry,omitzero"`
	Timestamp time.Time `json:"timestamp"`
	cause     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	switch {
	case e.Context != "" && e.Resource != "":
		return fmt.Sprintf("%s: %s (resource: %s, context: %s)", e.Code, e.Message, e.Resource, e.Context)
	case e.Context != "":
		return fmt.Sprintf("%s: %s (context: %s)", e.Code, e.Message, e.Context)
	case e.Resource != "":
		return fmt.Sprintf("%s: %s (resource: %s)", e.Code, e.Message, e.Resource)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap implements the errors.Unwrap interface
func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches AppErrors by code, so errors.Is(err, apperror.New(CodeX)) works.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Option is a functional option for AppError
type Option func(*AppError)

// WithMessage sets a custom message
func WithMessage(message string) Option {
	return func(e *AppError) {
		e.Message = message
	}
}

// WithContext adds free-form context information
func WithContext(context string) Option {
	return func(e *AppError) {
		e.Context = context
	}
}

// WithResource tags the error with the resource key it occurred against.
func WithResource(resource string) Option {
	return func(e *AppError) {
		e.Resource = resource
	}
}

// WithNextRetry records when a temporarily disabled resource may be retried.
func WithNextRetry(t time.Time) Option {
	return func(e *AppError) {
		e.NextRetry = t
	}
}

// WithCause wraps an underlying error
func WithCause(cause error) Option {
	return func(e *AppError) {
		e.cause = cause
	}
}

// New creates a new AppError with the given code and options
func New(code Code, opts ...Option) *AppError {
	err := &AppError{
		Code:      code,
		Message:   messages[code],
		Timestamp: time.Now(),
	}

	for _, opt := range opts {
		opt(err)
	}

	if err.Message == "" {
		err.Message = string(code)
	}

	return err
}

// Wrap converts a standard error into an AppError with the given code.
// Existing AppErrors pass through unchanged, gaining context if they had none.
func Wrap(err error, code Code, context string, opts ...Option) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		if context != "" && appErr.Context == "" {
			appErr.Context = context
		}
		return appErr
	}

	return New(code, append([]Option{WithCause(err), WithContext(context)}, opts...)...)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// CodeOf extracts the error code from an error chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknownError
}

// IsRetryable reports whether the error is transient. Errors that are not
// AppErrors are assumed transient: unknown failures from network stacks are
// safer to retry than to surface immediately.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return retryable[appErr.Code]
	}
	return err != nil
}
