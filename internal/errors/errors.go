// Package errors provides error code definitions for the PedidoList sync core.
package errors

import "fmt"

// ErrorCode represents a unique, user-surfaceable error code.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Local store errors
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrStoreQuery       ErrorCode = "STORE_QUERY_FAILED"
	ErrMigration        ErrorCode = "MIGRATION_FAILED"

	// Sync errors
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncOffline    ErrorCode = "SYNC_OFFLINE"
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrSyncConflict   ErrorCode = "SYNC_CONFLICT"
	ErrSyncStuck      ErrorCode = "SYNC_ENTRY_STUCK"

	// Remote API errors
	ErrAPIRejected    ErrorCode = "API_REJECTED"
	ErrAPIUnreachable ErrorCode = "API_UNREACHABLE"

	// Credential errors
	ErrAuthUnavailable ErrorCode = "AUTH_TOKEN_UNAVAILABLE"
	ErrAuthRejected    ErrorCode = "AUTH_TOKEN_REJECTED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error carries a specific code.
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the error code carried by err, or ErrInternal when err is
// not an AppError.
func CodeOf(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return ErrInternal
}
