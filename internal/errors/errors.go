package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeConnectivity represents a failure to reach the remote service at all
	ErrTypeConnectivity ErrorType = "connectivity"
	// ErrTypeUnavailable represents a track the service refuses to serve
	ErrTypeUnavailable ErrorType = "unavailable"
	// ErrTypeTransfer represents a transient transfer failure for one encoding
	ErrTypeTransfer ErrorType = "transfer"
	// ErrTypeExhausted represents a track for which every encoding failed
	ErrTypeExhausted ErrorType = "exhausted"
	// ErrTypeTagging represents metadata write errors
	ErrTypeTagging ErrorType = "tagging"
	// ErrTypeDatabase represents history store errors
	ErrTypeDatabase ErrorType = "database"
	// ErrTypeAuth represents authentication errors
	ErrTypeAuth ErrorType = "auth"
	// ErrTypeFileSystem represents file system errors
	ErrTypeFileSystem ErrorType = "filesystem"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeUnknown represents unknown errors
	ErrTypeUnknown ErrorType = "unknown"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType
	Message   string
	Retryable bool
	Cause     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewConnectivityError creates a new connectivity error
func NewConnectivityError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeConnectivity,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewUnavailableError creates a new unavailable track error
func NewUnavailableError(message string) *AppError {
	return &AppError{
		Type:      ErrTypeUnavailable,
		Message:   message,
		Retryable: false,
	}
}

// NewTransferError creates a new transfer error. Transfer errors are the
// only retryable kind: the caller moves on to the next lower bitrate.
func NewTransferError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeTransfer,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// NewExhaustedError creates a new error for a track whose encodings all failed
func NewExhaustedError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeExhausted,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewTaggingError creates a new tagging error
func NewTaggingError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeTagging,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewDatabaseError creates a new database error
func NewDatabaseError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeDatabase,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewAuthError creates a new authentication error
func NewAuthError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeAuth,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewFileSystemError creates a new file system error
func NewFileSystemError(message string, cause error) *AppError {
	return &AppError{
		Type:      ErrTypeFileSystem,
		Message:   message,
		Retryable: false,
		Cause:     cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:      ErrTypeValidation,
		Message:   message,
		Retryable: false,
	}
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the error type from an error
func GetErrorType(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrTypeUnknown
}

// IsConnectivityError checks if an error is a connectivity error
func IsConnectivityError(err error) bool {
	return GetErrorType(err) == ErrTypeConnectivity
}

// IsTransferError checks if an error is a transient transfer error
func IsTransferError(err error) bool {
	return GetErrorType(err) == ErrTypeTransfer
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	return GetErrorType(err) == ErrTypeAuth
}
