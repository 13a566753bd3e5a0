package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeValidation indicates the caller's payload violates an admission bound.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeNotFound indicates a job or artifact was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeNotReady indicates a job exists but has not produced its artifact yet.
	ErrCodeNotReady ErrorCode = "not_ready"
	// ErrCodeConflict indicates a conflict with existing data.
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeRenderTransient indicates a renderer dependency was temporarily unavailable.
	ErrCodeRenderTransient ErrorCode = "render_transient"
	// ErrCodeRenderPermanent indicates a payload that cannot be rendered.
	ErrCodeRenderPermanent ErrorCode = "render_permanent"
	// ErrCodeTimeout indicates a claimed job exceeded its maximum processing duration.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeStorage indicates the job store or artifact store was unavailable.
	ErrCodeStorage ErrorCode = "storage"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "internal"
)

// AppError is a structured application error with a code, message, and
// optional cause. It supports errors.Is and errors.As via Unwrap.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message}
}

// Validationf creates a new Validation error with formatted message.
func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// NotFound creates a new NotFound error.
func NotFound(message string) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: message}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// NotReady creates a new NotReady error.
func NotReady(message string) *AppError {
	return &AppError{Code: ErrCodeNotReady, Message: message}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// RenderTransient creates a retryable rendering error.
func RenderTransient(message string) *AppError {
	return &AppError{Code: ErrCodeRenderTransient, Message: message}
}

// RenderTransientf creates a retryable rendering error with formatted message.
func RenderTransientf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeRenderTransient, Message: fmt.Sprintf(format, args...)}
}

// RenderPermanent creates a non-retryable rendering error.
func RenderPermanent(message string) *AppError {
	return &AppError{Code: ErrCodeRenderPermanent, Message: message}
}

// RenderPermanentf creates a non-retryable rendering error with formatted message.
func RenderPermanentf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeRenderPermanent, Message: fmt.Sprintf(format, args...)}
}

// Timeout creates a new Timeout error.
func Timeout(message string) *AppError {
	return &AppError{Code: ErrCodeTimeout, Message: message}
}

// Storage creates a new Storage error.
func Storage(message string) *AppError {
	return &AppError{Code: ErrCodeStorage, Message: message}
}

// Internal creates a new Internal error.
func Internal(message string) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: message}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsValidation checks if an error is a Validation error.
func IsValidation(err error) bool { return isCode(err, ErrCodeValidation) }

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool { return isCode(err, ErrCodeNotFound) }

// IsNotReady checks if an error is a NotReady error.
func IsNotReady(err error) bool { return isCode(err, ErrCodeNotReady) }

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool { return isCode(err, ErrCodeConflict) }

// IsRenderTransient checks if an error is a retryable rendering error.
func IsRenderTransient(err error) bool { return isCode(err, ErrCodeRenderTransient) }

// IsRenderPermanent checks if an error is a non-retryable rendering error.
func IsRenderPermanent(err error) bool { return isCode(err, ErrCodeRenderPermanent) }

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool { return isCode(err, ErrCodeTimeout) }

// IsStorage checks if an error is a Storage error.
func IsStorage(err error) bool { return isCode(err, ErrCodeStorage) }

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool { return isCode(err, ErrCodeCanceled) }

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
