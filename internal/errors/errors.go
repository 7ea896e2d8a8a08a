// Package errors defines the error codes surfaced across component
// boundaries and to the UI shell.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code that the UI can switch on.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrDuplicate  ErrorCode = "DUPLICATE"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Database errors
	ErrDatabase   ErrorCode = "DATABASE_ERROR"
	ErrMigration  ErrorCode = "MIGRATION_FAILED"
	ErrConstraint ErrorCode = "CONSTRAINT_VIOLATION"

	// Local cache errors
	ErrStorage              ErrorCode = "STORAGE_ERROR"
	ErrStorageQuotaExceeded ErrorCode = "STORAGE_QUOTA_EXCEEDED"

	// Sync errors
	ErrSyncNotConfigured ErrorCode = "SYNC_NOT_CONFIGURED"
	ErrSyncFailed        ErrorCode = "SYNC_FAILED"
	ErrSyncPartial       ErrorCode = "SYNC_PARTIAL"
	ErrSyncInProgress    ErrorCode = "SYNC_IN_PROGRESS"
	ErrSyncTimeout       ErrorCode = "SYNC_TIMEOUT"
	ErrOffline           ErrorCode = "OFFLINE"
	ErrQueueReplay       ErrorCode = "QUEUE_REPLAY_FAILED"

	// Remote store errors
	ErrRemote       ErrorCode = "REMOTE_ERROR"
	ErrRemoteAuth   ErrorCode = "REMOTE_AUTH_FAILED"
	ErrRemoteLimits ErrorCode = "REMOTE_RATE_LIMITED"

	// Timetable errors
	ErrTimetableConflict ErrorCode = "TIMETABLE_CONFLICT"
	ErrEntryNotFound     ErrorCode = "TIMETABLE_ENTRY_NOT_FOUND"
	ErrCloneMismatch     ErrorCode = "TIMETABLE_CLONE_MISMATCH"
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

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether err, or any error it wraps, is an AppError with code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in err's chain, or
// ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
