package handlers

import (
	"context"
	"net/http"

	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/sync"
	"github.com/kimhsiao/shule/backend/internal/sync/scheduler"
)

// SyncRunner runs pulls and reports status; the scheduler implements it.
type SyncRunner interface {
	SyncNow(ctx context.Context) (*sync.SyncResult, error)
	SetOnlineStatus(isOnline bool)
	GetStatus() scheduler.SchedulerStatus
}

// QueueRunner exposes the sync queue.
type QueueRunner interface {
	ProcessQueue(ctx context.Context) (*sync.QueueResult, error)
	QueueStats(ctx context.Context) (*models.QueueStats, error)
}

// SyncHandler handles sync status and operations.
type SyncHandler struct {
	runner SyncRunner
	queue  QueueRunner
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(runner SyncRunner, queue QueueRunner) *SyncHandler {
	return &SyncHandler{runner: runner, queue: queue}
}

// GetStatus handles GET /sync/status
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.runner.GetStatus())
}

// TriggerSync handles POST /sync and waits for the pull. A partial sync
// answers 200 with the per-collection result and the error alongside.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.runner.SyncNow(r.Context())
	if err != nil && !(apperrors.Is(err, apperrors.ErrSyncPartial) && result != nil) {
		writeError(w, r, err)
		return
	}

	resp := map[string]interface{}{
		"result": result,
		"status": h.runner.GetStatus().Sync,
	}
	if err != nil {
		resp["error"] = errorBody(err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetNetwork handles POST /network with {"online": bool}, the platform's
// connectivity signal.
func (h *SyncHandler) SetNetwork(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online *bool `json:"online"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Online == nil {
		badRequest(w, r, "online is required")
		return
	}

	h.runner.SetOnlineStatus(*req.Online)
	writeJSON(w, http.StatusOK, h.runner.GetStatus().Sync)
}

// QueueStats handles GET /queue
func (h *SyncHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.QueueStats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ProcessQueue handles POST /queue. Failed items are reported in the body
// with a 200; the items stay queued.
func (h *SyncHandler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	result, err := h.queue.ProcessQueue(r.Context())
	if err != nil && !(apperrors.Is(err, apperrors.ErrQueueReplay) && result != nil) {
		writeError(w, r, err)
		return
	}

	resp := map[string]interface{}{"result": result}
	if err != nil {
		resp["error"] = errorBody(err)
	}
	writeJSON(w, http.StatusOK, resp)
}
