// Package errors tests for error code definitions and error handling.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

var allCodes = []ErrorCode{
	ErrInternal, ErrInvalid, ErrNotFound, ErrDuplicate, ErrValidation,
	ErrDatabase, ErrMigration, ErrConstraint,
	ErrStorage, ErrStorageQuotaExceeded,
	ErrSyncNotConfigured, ErrSyncFailed, ErrSyncPartial, ErrSyncInProgress, ErrSyncTimeout, ErrOffline, ErrQueueReplay,
	ErrRemote, ErrRemoteAuth, ErrRemoteLimits,
	ErrTimetableConflict, ErrEntryNotFound, ErrCloneMismatch,
}

// TestErrorCodes_areUnique verifies all error codes are unique.
func TestErrorCodes_areUnique(t *testing.T) {
	seen := make(map[ErrorCode]bool)
	for _, code := range allCodes {
		if code == "" {
			t.Error("ErrorCode should not be empty")
		}
		if seen[code] {
			t.Errorf("ErrorCode %q is duplicated", code)
		}
		seen[code] = true
	}
}

// TestErrorCode_prefix verifies error codes follow naming convention.
func TestErrorCode_prefix(t *testing.T) {
	for _, code := range allCodes {
		str := string(code)
		if str != strings.ToUpper(str) {
			t.Errorf("ErrorCode %q should be uppercase", str)
		}
		if strings.Contains(str, " ") {
			t.Errorf("ErrorCode %q should not contain spaces", str)
		}
	}
}

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrStorage, Message: "put failed", Err: errors.New("disk I/O error")},
			want:     "[STORAGE_ERROR] put failed: disk I/O error",
		},
		{
			name:     "conflict error",
			appError: &AppError{Code: ErrTimetableConflict, Message: "teacher is already scheduled"},
			want:     "[TIMETABLE_CONFLICT] teacher is already scheduled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appError.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestWrap verifies error wrapping.
func TestWrap(t *testing.T) {
	underlyingErr := errors.New("underlying")

	err := Wrap(ErrDatabase, "query failed", underlyingErr)
	if err.Code != ErrDatabase {
		t.Errorf("Wrap() code = %q, want %q", err.Code, ErrDatabase)
	}
	if err.Unwrap() != underlyingErr {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), underlyingErr)
	}
	if !errors.Is(err, underlyingErr) {
		t.Error("errors.Is() should find the underlying error")
	}
}

// TestNewf verifies formatted messages.
func TestNewf(t *testing.T) {
	err := Newf(ErrInvalid, "unknown collection %q", "pupils")
	if err.Message != `unknown collection "pupils"` {
		t.Errorf("Newf() message = %q", err.Message)
	}
	if err.Err != nil {
		t.Error("Newf() should not wrap an error")
	}
}

// TestIs verifies error code checking.
func TestIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{
			name: "matching AppError",
			err:  New(ErrNotFound, "not found"),
			code: ErrNotFound,
			want: true,
		},
		{
			name: "non-matching AppError",
			err:  New(ErrNotFound, "not found"),
			code: ErrInternal,
			want: false,
		},
		{
			name: "AppError behind fmt wrap",
			err:  fmt.Errorf("cache: %w", New(ErrStorage, "closed")),
			code: ErrStorage,
			want: true,
		},
		{
			name: "AppError behind pkg/errors wrap",
			err:  pkgerrors.Wrap(New(ErrOffline, "offline"), "write learner"),
			code: ErrOffline,
			want: true,
		},
		{
			name: "nested AppError",
			err:  Wrap(ErrSyncFailed, "sync failed", New(ErrStorageQuotaExceeded, "full")),
			code: ErrStorageQuotaExceeded,
			want: true,
		},
		{
			name: "standard error",
			err:  errors.New("boom"),
			code: ErrInternal,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			code: ErrInternal,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCodeOf verifies the outermost code is reported.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(Wrap(ErrSyncPartial, "partial", New(ErrRemote, "500"))); got != ErrSyncPartial {
		t.Errorf("CodeOf() = %q, want %q", got, ErrSyncPartial)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Errorf("CodeOf(plain) = %q, want %q", got, ErrInternal)
	}
}
