// Package handlers provides the REST API handlers of the desktop server.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/kimhsiao/shule/backend/internal/cache"
	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/logging"
	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/timetable"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`

	// Set on timetable conflicts only.
	Resource    models.ResourceKind      `json:"resource,omitempty"`
	ResourceID  string                   `json:"resource_id,omitempty"`
	Conflicting []*models.TimetableEntry `json:"conflicting,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

// statusFor maps an error code to the HTTP status the UI shell expects.
func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrInvalid, apperrors.ErrValidation:
		return http.StatusBadRequest
	case apperrors.ErrNotFound, apperrors.ErrEntryNotFound:
		return http.StatusNotFound
	case apperrors.ErrDuplicate, apperrors.ErrTimetableConflict, apperrors.ErrSyncInProgress:
		return http.StatusConflict
	case apperrors.ErrOffline, apperrors.ErrSyncNotConfigured:
		return http.StatusServiceUnavailable
	case apperrors.ErrStorageQuotaExceeded:
		return http.StatusInsufficientStorage
	case apperrors.ErrRemoteLimits:
		return http.StatusTooManyRequests
	case apperrors.ErrSyncTimeout:
		return http.StatusGatewayTimeout
	case apperrors.ErrSyncFailed, apperrors.ErrRemote, apperrors.ErrRemoteAuth, apperrors.ErrQueueReplay:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) ErrorBody {
	body := ErrorBody{Code: apperrors.CodeOf(err), Message: err.Error()}
	if errors.Is(err, cache.ErrKeyExists) {
		body.Code = apperrors.ErrDuplicate
	}
	if cerr, ok := timetable.IsConflict(err); ok {
		body.Code = apperrors.ErrTimetableConflict
		body.Resource = cerr.Resource
		body.ResourceID = cerr.ResourceID
		body.Conflicting = cerr.Conflicting
	}
	return body
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody(err)
	status := statusFor(body.Code)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(body.Code), err, map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	}
	writeJSON(w, status, map[string]interface{}{"error": body})
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeError(w, r, apperrors.New(apperrors.ErrInvalid, msg))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, r, "invalid request body: "+err.Error())
		return false
	}
	return true
}
