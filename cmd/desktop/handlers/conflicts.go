package handlers

import (
	"context"
	"net/http"
	"strconv"

	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/models"
)

const maxConflictLimit = 500

// ConflictLister reads the conflict log.
type ConflictLister interface {
	ListConflictLogs(ctx context.Context, limit int) ([]*models.ConflictLog, error)
}

// ConflictHandler lists pending local edits that a pull overwrote.
type ConflictHandler struct {
	logs ConflictLister
}

// NewConflictHandler creates a new ConflictHandler.
func NewConflictHandler(logs ConflictLister) *ConflictHandler {
	return &ConflictHandler{logs: logs}
}

// List handles GET /conflicts?limit=N, newest first.
func (h *ConflictHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxConflictLimit {
			badRequest(w, r, "limit must be between 1 and "+strconv.Itoa(maxConflictLimit))
			return
		}
		limit = n
	}

	logs, err := h.logs.ListConflictLogs(r.Context(), limit)
	if err != nil {
		writeError(w, r, apperrors.Wrap(apperrors.ErrStorage, "list conflicts", err))
		return
	}
	if logs == nil {
		logs = []*models.ConflictLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}
