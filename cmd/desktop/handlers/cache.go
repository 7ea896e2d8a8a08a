package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/models"
)

// CacheReader is the read side of the offline cache.
type CacheReader interface {
	Get(ctx context.Context, collection models.CollectionName, key string) (models.Record, error)
	GetAll(ctx context.Context, collection models.CollectionName) ([]models.Record, error)
	GetByIndex(ctx context.Context, collection models.CollectionName, index, value string) ([]models.Record, error)
}

// RecordWriter applies local edits and forwards them to the remote store
// or the sync queue.
type RecordWriter interface {
	Write(ctx context.Context, op models.QueueOp, record models.Record) (bool, error)
	Remove(ctx context.Context, collection models.CollectionName, key string) (bool, error)
}

// CacheHandler serves the cached collections.
type CacheHandler struct {
	cache  CacheReader
	writer RecordWriter
}

// NewCacheHandler creates a new CacheHandler.
func NewCacheHandler(cache CacheReader, writer RecordWriter) *CacheHandler {
	return &CacheHandler{cache: cache, writer: writer}
}

// Routes registers the cache routes on r.
func (h *CacheHandler) Routes(r chi.Router) {
	r.Get("/{collection}", h.List)
	r.Put("/{collection}", h.Put)
	r.Get("/{collection}/{key}", h.Get)
	r.Delete("/{collection}/{key}", h.Delete)
}

func collectionParam(w http.ResponseWriter, r *http.Request) (models.CollectionName, bool) {
	name := models.CollectionName(chi.URLParam(r, "collection"))
	if !models.IsCollection(name) {
		writeError(w, r, apperrors.Newf(apperrors.ErrInvalid, "unknown collection %q", name))
		return "", false
	}
	return name, true
}

// List handles GET /cache/{collection}, or GET /cache/{collection}?index=&value=
// for an index lookup.
func (h *CacheHandler) List(w http.ResponseWriter, r *http.Request) {
	collection, ok := collectionParam(w, r)
	if !ok {
		return
	}

	var (
		records []models.Record
		err     error
	)
	if index := r.URL.Query().Get("index"); index != "" {
		records, err = h.cache.GetByIndex(r.Context(), collection, index, r.URL.Query().Get("value"))
	} else {
		records, err = h.cache.GetAll(r.Context(), collection)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	if records == nil {
		records = []models.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Get handles GET /cache/{collection}/{key}
func (h *CacheHandler) Get(w http.ResponseWriter, r *http.Request) {
	collection, ok := collectionParam(w, r)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")

	record, err := h.cache.Get(r.Context(), collection, key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if record == nil {
		writeError(w, r, apperrors.Newf(apperrors.ErrNotFound, "%s %q not found", collection, key))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// Put handles PUT /cache/{collection}. The body is one record; ?op=create
// refuses to overwrite an existing key. The response reports whether the
// write was queued for later replay.
func (h *CacheHandler) Put(w http.ResponseWriter, r *http.Request) {
	collection, ok := collectionParam(w, r)
	if !ok {
		return
	}

	op := models.OpUpdate
	if r.URL.Query().Get("op") == string(models.OpCreate) {
		op = models.OpCreate
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, r, "invalid request body: "+err.Error())
		return
	}
	record, err := models.DecodeRecord(collection, body)
	if err != nil {
		writeError(w, r, apperrors.Wrap(apperrors.ErrValidation, "invalid "+string(collection)+" record", err))
		return
	}

	queued, err := h.writer.Write(r.Context(), op, record)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if op == models.OpCreate {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]interface{}{
		"record": record,
		"queued": queued,
	})
}

// Delete handles DELETE /cache/{collection}/{key}
func (h *CacheHandler) Delete(w http.ResponseWriter, r *http.Request) {
	collection, ok := collectionParam(w, r)
	if !ok {
		return
	}

	queued, err := h.writer.Remove(r.Context(), collection, chi.URLParam(r, "key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queued": queued})
}
