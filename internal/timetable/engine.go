// Package timetable keeps teachers and class-sections free of
// double-booking and copies schedules between academic periods.
//
// Conflict checks and the write that follows them are separate calls to
// the store, so two administrators racing on the same slot can both pass
// the check. The guard is best-effort.
package timetable

import (
	"context"

	"github.com/pkg/errors"

	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/logging"
	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/telemetry"
	"github.com/kimhsiao/shule/backend/internal/uuid"
)

// Store persists timetable entries. The local repository and both remote
// adapters implement it.
type Store interface {
	ListTimetableEntries(ctx context.Context, f models.TimetableFilter) ([]*models.TimetableEntry, error)
	GetTimetableEntry(ctx context.Context, id string) (*models.TimetableEntry, error)
	CreateTimetableEntry(ctx context.Context, e *models.TimetableEntry) error
	CreateTimetableEntries(ctx context.Context, entries []*models.TimetableEntry) (int, error)
	UpdateTimetableEntry(ctx context.Context, e *models.TimetableEntry) error
	DeleteTimetableEntry(ctx context.Context, id string) error
}

// ConflictChecker is implemented by stores that evaluate the conflict
// predicate themselves.
type ConflictChecker interface {
	HasConflict(ctx context.Context, q models.ConflictQuery) (bool, error)
}

// Cloner is implemented by stores that clone a schedule server side.
type Cloner interface {
	CloneSchedule(ctx context.Context, req models.CloneRequest) (int, error)
}

// EntryPatch carries the fields of an update. Nil fields are left
// unchanged; an empty string clears an optional reference.
type EntryPatch struct {
	TeacherID *string           `json:"teacher_id,omitempty"`
	SectionID *string           `json:"section_id,omitempty"`
	SubjectID *string           `json:"subject_id,omitempty"`
	DayOfWeek *int              `json:"day_of_week,omitempty"`
	StartTime *models.ClockTime `json:"start_time,omitempty"`
	EndTime   *models.ClockTime `json:"end_time,omitempty"`
	Kind      *models.EntryKind `json:"kind,omitempty"`
	Room      *string           `json:"room,omitempty"`
	Label     *string           `json:"label,omitempty"`
}

// touchesSchedule reports whether the patch can change which slot or
// resource the entry occupies.
func (p EntryPatch) touchesSchedule() bool {
	return p.TeacherID != nil || p.SectionID != nil || p.DayOfWeek != nil ||
		p.StartTime != nil || p.EndTime != nil
}

func (p EntryPatch) apply(e *models.TimetableEntry) {
	if p.TeacherID != nil {
		e.TeacherID = optional(*p.TeacherID)
	}
	if p.SectionID != nil {
		e.SectionID = *p.SectionID
	}
	if p.SubjectID != nil {
		e.SubjectID = optional(*p.SubjectID)
	}
	if p.DayOfWeek != nil {
		e.DayOfWeek = *p.DayOfWeek
	}
	if p.StartTime != nil {
		e.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		e.EndTime = *p.EndTime
	}
	if p.Kind != nil {
		e.Kind = *p.Kind
	}
	if p.Room != nil {
		e.Room = optional(*p.Room)
	}
	if p.Label != nil {
		e.Label = optional(*p.Label)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Engine applies conflict rules on top of a Store.
type Engine struct {
	store   Store
	metrics *telemetry.Recorder
}

// NewEngine creates a new Engine. metrics may be nil.
func NewEngine(store Store, metrics *telemetry.Recorder) *Engine {
	return &Engine{store: store, metrics: metrics}
}

// Entries lists entries matching f.
func (e *Engine) Entries(ctx context.Context, f models.TimetableFilter) ([]*models.TimetableEntry, error) {
	entries, err := e.store.ListTimetableEntries(ctx, f)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list timetable entries", err)
	}
	return entries, nil
}

// CheckConflict reports whether q's resource already has an entry on the
// same period and day overlapping [q.Start, q.End), ignoring q.ExcludeID.
func (e *Engine) CheckConflict(ctx context.Context, q models.ConflictQuery) (bool, error) {
	if err := models.Validate(&q); err != nil {
		return false, apperrors.Wrap(apperrors.ErrValidation, "invalid conflict query", err)
	}
	if cc, ok := e.store.(ConflictChecker); ok {
		conflict, err := cc.HasConflict(ctx, q)
		if err != nil {
			return false, apperrors.Wrap(apperrors.ErrRemote, "check timetable conflict", err)
		}
		return conflict, nil
	}
	found, err := e.conflicting(ctx, q)
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

// conflicting finds the overlapping entries locally.
func (e *Engine) conflicting(ctx context.Context, q models.ConflictQuery) ([]*models.TimetableEntry, error) {
	f := models.TimetableFilter{
		AcademicYear: q.Period.Year,
		Term:         q.Period.Term,
		DayOfWeek:    q.DayOfWeek,
	}
	if q.Resource == models.ResourceTeacher {
		f.TeacherID = q.ResourceID
	} else {
		f.SectionID = q.ResourceID
	}
	candidates, err := e.store.ListTimetableEntries(ctx, f)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "list timetable entries", err)
	}

	want := TimeRange{Start: q.Start, End: q.End}
	var found []*models.TimetableEntry
	for _, c := range candidates {
		if c.ID == q.ExcludeID {
			continue
		}
		if RangeOf(c).Overlaps(want) {
			found = append(found, c)
		}
	}
	return found, nil
}

// ensureFree checks both resources of entry and returns a *ConflictError
// for the first one that is taken.
func (e *Engine) ensureFree(ctx context.Context, entry *models.TimetableEntry, excludeID string) error {
	queries := make([]models.ConflictQuery, 0, 2)
	if entry.TeacherID != nil {
		queries = append(queries, conflictQuery(entry, models.ResourceTeacher, *entry.TeacherID, excludeID))
	}
	queries = append(queries, conflictQuery(entry, models.ResourceSection, entry.SectionID, excludeID))

	for _, q := range queries {
		var (
			taken       bool
			conflicting []*models.TimetableEntry
		)
		if cc, ok := e.store.(ConflictChecker); ok {
			var err error
			if taken, err = cc.HasConflict(ctx, q); err != nil {
				return apperrors.Wrap(apperrors.ErrRemote, "check timetable conflict", err)
			}
		} else {
			var err error
			if conflicting, err = e.conflicting(ctx, q); err != nil {
				return err
			}
			taken = len(conflicting) > 0
		}
		if !taken {
			continue
		}

		e.metrics.Conflict(ctx, string(q.Resource))
		return &ConflictError{
			Resource:    q.Resource,
			ResourceID:  q.ResourceID,
			Period:      q.Period,
			DayOfWeek:   q.DayOfWeek,
			Range:       TimeRange{Start: q.Start, End: q.End},
			Conflicting: conflicting,
		}
	}
	return nil
}

func conflictQuery(entry *models.TimetableEntry, kind models.ResourceKind, id, excludeID string) models.ConflictQuery {
	return models.ConflictQuery{
		Resource:   kind,
		ResourceID: id,
		Period:     entry.Period(),
		DayOfWeek:  entry.DayOfWeek,
		Start:      entry.StartTime,
		End:        entry.EndTime,
		ExcludeID:  excludeID,
	}
}

// AddEntry validates entry, checks the teacher and section for clashes and
// stores it. A missing ID is generated.
func (e *Engine) AddEntry(ctx context.Context, entry *models.TimetableEntry) (*models.TimetableEntry, error) {
	if entry == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "entry is required")
	}
	entry = entry.Clone()
	if entry.ID == "" {
		entry.ID = uuid.New()
	}
	if err := models.Validate(entry); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "invalid timetable entry", err)
	}
	if err := e.ensureFree(ctx, entry, ""); err != nil {
		return nil, err
	}
	if err := e.store.CreateTimetableEntry(ctx, entry); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "create timetable entry", err)
	}

	logging.Debug("Timetable entry added", map[string]interface{}{
		"id":      entry.ID,
		"section": entry.SectionID,
		"day":     entry.DayOfWeek,
		"range":   RangeOf(entry).String(),
	})
	return entry, nil
}

// UpdateEntry overlays patch on the stored entry. Conflict checks run
// against the merged entry, excluding itself, whenever the patch moves the
// entry in time or between resources.
func (e *Engine) UpdateEntry(ctx context.Context, id string, patch EntryPatch) (*models.TimetableEntry, error) {
	current, err := e.store.GetTimetableEntry(ctx, id)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "get timetable entry", err)
	}
	if current == nil {
		return nil, apperrors.Newf(apperrors.ErrEntryNotFound, "timetable entry %s not found", id)
	}

	merged := current.Clone()
	patch.apply(merged)
	if err := models.Validate(merged); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "invalid timetable entry", err)
	}
	if patch.touchesSchedule() {
		if err := e.ensureFree(ctx, merged, id); err != nil {
			return nil, err
		}
	}
	if err := e.store.UpdateTimetableEntry(ctx, merged); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "update timetable entry", err)
	}
	return merged, nil
}

// DeleteEntry removes an entry unconditionally.
func (e *Engine) DeleteEntry(ctx context.Context, id string) error {
	if err := e.store.DeleteTimetableEntry(ctx, id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "delete timetable entry", err)
	}
	return nil
}

// CloneSchedule copies the source period's entries, optionally for one
// section, into the target period and returns how many were created.
func (e *Engine) CloneSchedule(ctx context.Context, req models.CloneRequest) (int, error) {
	if err := models.Validate(&req); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrValidation, "invalid clone request", err)
	}
	if req.Source == req.Target {
		return 0, apperrors.New(apperrors.ErrInvalid, "source and target period are the same")
	}

	if c, ok := e.store.(Cloner); ok {
		n, err := c.CloneSchedule(ctx, req)
		if err != nil {
			return 0, apperrors.Wrap(apperrors.ErrRemote, "clone schedule", err)
		}
		e.logClone(req, n)
		return n, nil
	}

	source, err := e.store.ListTimetableEntries(ctx, models.TimetableFilter{
		AcademicYear: req.Source.Year,
		Term:         req.Source.Term,
		SectionID:    req.SectionID,
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrDatabase, "list source schedule", err)
	}
	if len(source) == 0 {
		return 0, nil
	}

	copies := CloneEntries(source, req.Target)
	n, err := e.store.CreateTimetableEntries(ctx, copies)
	if err != nil {
		return n, apperrors.Wrap(apperrors.ErrDatabase, "insert cloned schedule", err)
	}
	if n != len(source) {
		return n, apperrors.Newf(apperrors.ErrCloneMismatch,
			"cloned %d of %d entries from %s to %s", n, len(source), req.Source, req.Target)
	}
	e.logClone(req, n)
	return n, nil
}

func (e *Engine) logClone(req models.CloneRequest, n int) {
	logging.Info("Schedule cloned", map[string]interface{}{
		"from":    req.Source.String(),
		"to":      req.Target.String(),
		"section": req.SectionID,
		"count":   n,
	})
}

// IsConflict reports whether err is a timetable conflict and returns it.
func IsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
