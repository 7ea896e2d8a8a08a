package remote

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/kimhsiao/shule/backend/internal/models"
)

const timetableTable = "timetable_entries"

// Remote procedure names.
const (
	RPCTeacherConflict = "teacher_conflict"
	RPCSectionConflict = "section_conflict"
	RPCCloneSchedule   = "clone_schedule"
)

// TimetableStore keeps timetable entries in the remote store and delegates
// conflict predicates and cloning to its procedures.
type TimetableStore struct {
	client *Client
}

// NewTimetableStore wraps client.
func NewTimetableStore(client *Client) *TimetableStore {
	return &TimetableStore{client: client}
}

// conflictArgs is the argument object of the conflict predicates.
type conflictArgs struct {
	ResourceID   string  `json:"p_resource_id"`
	AcademicYear int     `json:"p_academic_year"`
	Term         int     `json:"p_term"`
	DayOfWeek    int     `json:"p_day_of_week"`
	StartTime    string  `json:"p_start_time"`
	EndTime      string  `json:"p_end_time"`
	ExcludeID    *string `json:"p_exclude_id"`
}

type cloneArgs struct {
	SourceYear int     `json:"p_source_year"`
	SourceTerm int     `json:"p_source_term"`
	TargetYear int     `json:"p_target_year"`
	TargetTerm int     `json:"p_target_term"`
	SectionID  *string `json:"p_section_id"`
}

// ListTimetableEntries returns entries matching f ordered by day, start
// time and section.
func (s *TimetableStore) ListTimetableEntries(ctx context.Context, f models.TimetableFilter) ([]*models.TimetableEntry, error) {
	var filters []Filter
	if f.AcademicYear != 0 {
		filters = append(filters, Eq("academic_year", strconv.Itoa(f.AcademicYear)))
	}
	if f.Term != 0 {
		filters = append(filters, Eq("term", strconv.Itoa(f.Term)))
	}
	if f.DayOfWeek != 0 {
		filters = append(filters, Eq("day_of_week", strconv.Itoa(f.DayOfWeek)))
	}
	if f.SectionID != "" {
		filters = append(filters, Eq("section_id", f.SectionID))
	}
	if f.TeacherID != "" {
		filters = append(filters, Eq("teacher_id", f.TeacherID))
	}

	rows, err := s.client.Select(ctx, timetableTable, filters...)
	if err != nil {
		return nil, err
	}
	entries, err := decodeEntries(rows)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if a.SectionID != b.SectionID {
			return a.SectionID < b.SectionID
		}
		return a.ID < b.ID
	})
	return entries, nil
}

// GetTimetableEntry returns the entry with id, or nil when absent.
func (s *TimetableStore) GetTimetableEntry(ctx context.Context, id string) (*models.TimetableEntry, error) {
	rows, err := s.client.Select(ctx, timetableTable, Eq("id", id))
	if err != nil {
		return nil, err
	}
	entries, err := decodeEntries(rows)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

// CreateTimetableEntry inserts one entry.
func (s *TimetableStore) CreateTimetableEntry(ctx context.Context, e *models.TimetableEntry) error {
	stamp(e, true)
	body, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode timetable entry")
	}
	return s.client.Insert(ctx, timetableTable, body)
}

// CreateTimetableEntries inserts entries in a single request.
func (s *TimetableStore) CreateTimetableEntries(ctx context.Context, entries []*models.TimetableEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	for _, e := range entries {
		stamp(e, true)
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return 0, errors.Wrap(err, "encode timetable entries")
	}
	if err := s.client.Insert(ctx, timetableTable, body); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// UpdateTimetableEntry overwrites the stored entry with e. Cleared
// optional fields are sent as nulls.
func (s *TimetableStore) UpdateTimetableEntry(ctx context.Context, e *models.TimetableEntry) error {
	stamp(e, false)
	body, err := models.MarshalFull(e)
	if err != nil {
		return errors.Wrap(err, "encode timetable entry")
	}
	return s.client.Update(ctx, timetableTable, e.ID, body)
}

// DeleteTimetableEntry removes the entry with id.
func (s *TimetableStore) DeleteTimetableEntry(ctx context.Context, id string) error {
	return s.client.Delete(ctx, timetableTable, id)
}

// HasConflict evaluates the remote predicate for q.Resource.
func (s *TimetableStore) HasConflict(ctx context.Context, q models.ConflictQuery) (bool, error) {
	fn := RPCTeacherConflict
	if q.Resource == models.ResourceSection {
		fn = RPCSectionConflict
	}
	args := conflictArgs{
		ResourceID:   q.ResourceID,
		AcademicYear: q.Period.Year,
		Term:         q.Period.Term,
		DayOfWeek:    q.DayOfWeek,
		StartTime:    q.Start.String(),
		EndTime:      q.End.String(),
	}
	if q.ExcludeID != "" {
		args.ExcludeID = &q.ExcludeID
	}

	var conflict bool
	if err := s.client.RPC(ctx, fn, args, &conflict); err != nil {
		return false, err
	}
	return conflict, nil
}

// CloneSchedule runs the remote clone procedure and returns the number of
// entries it created.
func (s *TimetableStore) CloneSchedule(ctx context.Context, req models.CloneRequest) (int, error) {
	args := cloneArgs{
		SourceYear: req.Source.Year,
		SourceTerm: req.Source.Term,
		TargetYear: req.Target.Year,
		TargetTerm: req.Target.Term,
	}
	if req.SectionID != "" {
		args.SectionID = &req.SectionID
	}

	var created int
	if err := s.client.RPC(ctx, RPCCloneSchedule, args, &created); err != nil {
		return 0, err
	}
	return created, nil
}

func decodeEntries(rows []json.RawMessage) ([]*models.TimetableEntry, error) {
	entries := make([]*models.TimetableEntry, 0, len(rows))
	for _, raw := range rows {
		var e models.TimetableEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, errors.Wrap(err, "decode timetable entry")
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

func stamp(e *models.TimetableEntry, create bool) {
	now := time.Now().UnixMilli()
	if create && e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
}
