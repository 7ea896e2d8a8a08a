package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/timetable"
)

// TimetableHandler handles timetable entries, conflict checks and the grid.
type TimetableHandler struct {
	engine *timetable.Engine
	axis   timetable.SlotAxis
}

// NewTimetableHandler creates a new TimetableHandler.
func NewTimetableHandler(engine *timetable.Engine, axis timetable.SlotAxis) *TimetableHandler {
	return &TimetableHandler{engine: engine, axis: axis}
}

// Routes registers the timetable routes on r.
func (h *TimetableHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/conflicts", h.CheckConflict)
	r.Post("/clone", h.Clone)
	r.Get("/grid", h.Grid)
	r.Patch("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

// filterFromQuery reads academic_year, term, day_of_week, section_id and
// teacher_id. Absent numbers are zero and not filtered on.
func filterFromQuery(r *http.Request) (models.TimetableFilter, error) {
	q := r.URL.Query()
	f := models.TimetableFilter{
		SectionID: q.Get("section_id"),
		TeacherID: q.Get("teacher_id"),
	}
	for name, dst := range map[string]*int{
		"academic_year": &f.AcademicYear,
		"term":          &f.Term,
		"day_of_week":   &f.DayOfWeek,
	} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, err
		}
		*dst = n
	}
	return f, nil
}

// List handles GET /timetable
func (h *TimetableHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		badRequest(w, r, "invalid filter: "+err.Error())
		return
	}
	entries, err := h.engine.Entries(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.TimetableEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Create handles POST /timetable
func (h *TimetableHandler) Create(w http.ResponseWriter, r *http.Request) {
	var entry models.TimetableEntry
	if !decodeBody(w, r, &entry) {
		return
	}
	created, err := h.engine.AddEntry(r.Context(), &entry)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// Update handles PATCH /timetable/{id}
func (h *TimetableHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch timetable.EntryPatch
	if !decodeBody(w, r, &patch) {
		return
	}
	updated, err := h.engine.UpdateEntry(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /timetable/{id}
func (h *TimetableHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteEntry(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckConflict handles POST /timetable/conflicts
func (h *TimetableHandler) CheckConflict(w http.ResponseWriter, r *http.Request) {
	var q models.ConflictQuery
	if !decodeBody(w, r, &q) {
		return
	}
	conflict, err := h.engine.CheckConflict(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"conflict": conflict})
}

// Clone handles POST /timetable/clone
func (h *TimetableHandler) Clone(w http.ResponseWriter, r *http.Request) {
	var req models.CloneRequest
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := h.engine.CloneSchedule(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"copied": n})
}

// Grid handles GET /timetable/grid. It takes the same filter as List;
// usually a section or teacher with academic_year and term.
func (h *TimetableHandler) Grid(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		badRequest(w, r, "invalid filter: "+err.Error())
		return
	}
	if f.SectionID == "" && f.TeacherID == "" {
		badRequest(w, r, "section_id or teacher_id is required")
		return
	}
	entries, err := h.engine.Entries(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timetable.BuildGrid(entries, h.axis))
}
