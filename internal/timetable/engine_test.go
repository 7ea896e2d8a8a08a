package timetable

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/models"
)

// memStore is an in-memory Store.
type memStore struct {
	mu       sync.Mutex
	entries  map[string]*models.TimetableEntry
	maxBatch int // when > 0, batch inserts stop after this many rows
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*models.TimetableEntry)}
}

func (m *memStore) ListTimetableEntries(_ context.Context, f models.TimetableFilter) ([]*models.TimetableEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.TimetableEntry
	for _, e := range m.entries {
		switch {
		case f.AcademicYear != 0 && e.AcademicYear != f.AcademicYear,
			f.Term != 0 && e.Term != f.Term,
			f.DayOfWeek != 0 && e.DayOfWeek != f.DayOfWeek,
			f.SectionID != "" && e.SectionID != f.SectionID,
			f.TeacherID != "" && (e.TeacherID == nil || *e.TeacherID != f.TeacherID):
			continue
		}
		out = append(out, e.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetTimetableEntry(_ context.Context, id string) (*models.TimetableEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, nil
	}
	return e.Clone(), nil
}

func (m *memStore) CreateTimetableEntry(_ context.Context, e *models.TimetableEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e.Clone()
	return nil
}

func (m *memStore) CreateTimetableEntries(_ context.Context, entries []*models.TimetableEntry) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range entries {
		if m.maxBatch > 0 && n == m.maxBatch {
			break
		}
		m.entries[e.ID] = e.Clone()
		n++
	}
	return n, nil
}

func (m *memStore) UpdateTimetableEntry(_ context.Context, e *models.TimetableEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID] = e.Clone()
	return nil
}

func (m *memStore) DeleteTimetableEntry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

// remoteStore adds server-side predicates on top of memStore.
type remoteStore struct {
	*memStore
	conflict    bool
	queries     []models.ConflictQuery
	cloneCalls  []models.CloneRequest
	cloneResult int
}

func (r *remoteStore) HasConflict(_ context.Context, q models.ConflictQuery) (bool, error) {
	r.queries = append(r.queries, q)
	return r.conflict, nil
}

func (r *remoteStore) CloneSchedule(_ context.Context, req models.CloneRequest) (int, error) {
	r.cloneCalls = append(r.cloneCalls, req)
	return r.cloneResult, nil
}

func strPtr(s string) *string { return &s }

func lesson(id, teacher, section string, day int, start, end string) *models.TimetableEntry {
	e := &models.TimetableEntry{
		ID:           id,
		SectionID:    section,
		AcademicYear: 2024,
		Term:         1,
		DayOfWeek:    day,
		StartTime:    models.MustClock(start),
		EndTime:      models.MustClock(end),
		Kind:         models.KindLesson,
	}
	if teacher != "" {
		e.TeacherID = strPtr(teacher)
	}
	return e
}

func TestAddEntryTeacherConflict(t *testing.T) {
	ctx := context.Background()
	eng := NewEngine(newMemStore(), nil)

	_, err := eng.AddEntry(ctx, lesson("E1", "T1", "S1", 1, "08:00", "09:00"))
	require.NoError(t, err)

	_, err = eng.AddEntry(ctx, lesson("E2", "T1", "S2", 1, "08:30", "09:00"))
	require.Error(t, err)
	ce, ok := IsConflict(err)
	require.True(t, ok)
	assert.Equal(t, models.ResourceTeacher, ce.Resource)
	assert.Equal(t, "T1", ce.ResourceID)
	require.Len(t, ce.Conflicting, 1)
	assert.Equal(t, "E1", ce.Conflicting[0].ID)
	assert.True(t, apperrors.Is(err, apperrors.ErrTimetableConflict))

	_, err = eng.AddEntry(ctx, lesson("E3", "T1", "S2", 1, "09:00", "10:00"))
	assert.NoError(t, err)
}

func TestAddEntrySectionConflict(t *testing.T) {
	ctx := context.Background()
	eng := NewEngine(newMemStore(), nil)

	_, err := eng.AddEntry(ctx, lesson("E1", "T1", "S1", 2, "10:00", "11:00"))
	require.NoError(t, err)

	_, err = eng.AddEntry(ctx, lesson("E2", "T2", "S1", 2, "10:30", "11:30"))
	ce, ok := IsConflict(err)
	require.True(t, ok)
	assert.Equal(t, models.ResourceSection, ce.Resource)
	assert.Equal(t, "S1", ce.ResourceID)
}

func TestAddEntryNoConflictAcrossPeriodsAndDays(t *testing.T) {
	ctx := context.Background()
	eng := NewEngine(newMemStore(), nil)

	_, err := eng.AddEntry(ctx, lesson("E1", "T1", "S1", 1, "08:00", "09:00"))
	require.NoError(t, err)

	otherTerm := lesson("E2", "T1", "S1", 1, "08:00", "09:00")
	otherTerm.Term = 2
	_, err = eng.AddEntry(ctx, otherTerm)
	assert.NoError(t, err)

	_, err = eng.AddEntry(ctx, lesson("E3", "T1", "S1", 2, "08:00", "09:00"))
	assert.NoError(t, err)
}

func TestAddEntryWithoutTeacher(t *testing.T) {
	ctx := context.Background()
	eng := NewEngine(newMemStore(), nil)

	brk := lesson("", "", "S1", 1, "10:00", "10:20")
	brk.Kind = models.KindBreak
	saved, err := eng.AddEntry(ctx, brk)
	require.NoError(t, err)
	assert.NotEmpty(t, saved.ID)
	assert.Empty(t, brk.ID, "caller's entry must not be modified")
}

func TestAddEntryValidation(t *testing.T) {
	ctx := context.Background()
	eng := NewEngine(newMemStore(), nil)

	_, err := eng.AddEntry(ctx, lesson("E1", "T1", "S1", 1, "09:00", "08:00"))
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = eng.AddEntry(ctx, lesson("E2", "T1", "S1", 6, "08:00", "09:00"))
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = eng.AddEntry(ctx, nil)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

func TestCheckConflictExcludesSelf(t *testing.T) {
	ctx := context.Background()
	eng := NewEngine(newMemStore(), nil)

	e, err := eng.AddEntry(ctx, lesson("E1", "T1", "S1", 1, "09:00", "10:00"))
	require.NoError(t, err)

	q := models.ConflictQuery{
		Resource:   models.ResourceTeacher,
		ResourceID: "T1",
		Period:     e.Period(),
		DayOfWeek:  1,
		Start:      e.StartTime,
		End:        e.EndTime,
	}
	conflict, err := eng.CheckConflict(ctx, q)
	require.NoError(t, err)
	assert.True(t, conflict)

	q.ExcludeID = e.ID
	conflict, err = eng.CheckConflict(ctx, q)
	require.NoError(t, err)
	assert.False(t, conflict)

	q.ExcludeID = ""
	q.Start, q.End = models.MustClock("10:00"), models.MustClock("11:00")
	conflict, err = eng.CheckConflict(ctx, q)
	require.NoError(t, err)
	assert.False(t, conflict, "touching ranges do not conflict")
}

func TestCheckConflictRejectsBadQuery(t *testing.T) {
	eng := NewEngine(newMemStore(), nil)
	_, err := eng.CheckConflict(context.Background(), models.ConflictQuery{
		Resource:   "room",
		ResourceID: "R1",
		Period:     models.Period{Year: 2024, Term: 1},
		DayOfWeek:  1,
		Start:      models.MustClock("08:00"),
		End:        models.MustClock("09:00"),
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestUpdateEntry(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	eng := NewEngine(store, nil)

	_, err := eng.AddEntry(ctx, lesson("E1", "T1", "S1", 1, "08:00", "09:00"))
	require.NoError(t, err)
	_, err = eng.AddEntry(ctx, lesson("E2", "T2", "S2", 1, "09:00", "10:00"))
	require.NoError(t, err)

	t.Run("descriptive change", func(t *testing.T) {
		updated, err := eng.UpdateEntry(ctx, "E1", EntryPatch{Room: strPtr("Lab 2")})
		require.NoError(t, err)
		require.NotNil(t, updated.Room)
		assert.Equal(t, "Lab 2", *updated.Room)
	})

	t.Run("overlap with itself", func(t *testing.T) {
		start, end := models.MustClock("08:15"), models.MustClock("08:55")
		updated, err := eng.UpdateEntry(ctx, "E1", EntryPatch{StartTime: &start, EndTime: &end})
		require.NoError(t, err)
		assert.Equal(t, start, updated.StartTime)
	})

	t.Run("moved into a conflict", func(t *testing.T) {
		teacher := "T2"
		start, end := models.MustClock("09:30"), models.MustClock("10:30")
		_, err := eng.UpdateEntry(ctx, "E1", EntryPatch{TeacherID: &teacher, StartTime: &start, EndTime: &end})
		ce, ok := IsConflict(err)
		require.True(t, ok)
		assert.Equal(t, models.ResourceTeacher, ce.Resource)

		stored, err := store.GetTimetableEntry(ctx, "E1")
		require.NoError(t, err)
		assert.Equal(t, "T1", *stored.TeacherID, "rejected update must not be applied")
	})

	t.Run("clear teacher", func(t *testing.T) {
		updated, err := eng.UpdateEntry(ctx, "E1", EntryPatch{TeacherID: strPtr("")})
		require.NoError(t, err)
		assert.Nil(t, updated.TeacherID)
	})

	t.Run("invalid merge", func(t *testing.T) {
		end := models.MustClock("07:00")
		_, err := eng.UpdateEntry(ctx, "E2", EntryPatch{EndTime: &end})
		assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
	})

	t.Run("missing", func(t *testing.T) {
		_, err := eng.UpdateEntry(ctx, "nope", EntryPatch{Room: strPtr("x")})
		assert.True(t, apperrors.Is(err, apperrors.ErrEntryNotFound))
	})
}

func TestDeleteEntry(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	eng := NewEngine(store, nil)

	_, err := eng.AddEntry(ctx, lesson("E1", "T1", "S1", 1, "08:00", "09:00"))
	require.NoError(t, err)
	require.NoError(t, eng.DeleteEntry(ctx, "E1"))
	require.NoError(t, eng.DeleteEntry(ctx, "E1"))

	_, err = eng.AddEntry(ctx, lesson("E2", "T1", "S1", 1, "08:00", "09:00"))
	assert.NoError(t, err, "slot is free after delete")
}

func seedTerm(t *testing.T, eng *Engine) {
	t.Helper()
	ctx := context.Background()
	for _, e := range []*models.TimetableEntry{
		lesson("A1", "T1", "S1", 1, "08:00", "09:00"),
		lesson("A2", "T2", "S1", 1, "09:00", "10:00"),
		lesson("A3", "T1", "S2", 2, "08:00", "09:20"),
		lesson("A4", "T3", "S2", 3, "11:00", "12:00"),
	} {
		_, err := eng.AddEntry(ctx, e)
		require.NoError(t, err)
	}
}

func TestCloneSchedule(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	eng := NewEngine(store, nil)
	seedTerm(t, eng)

	source := models.Period{Year: 2024, Term: 1}
	target := models.Period{Year: 2024, Term: 2}
	n, err := eng.CloneSchedule(ctx, models.CloneRequest{Source: source, Target: target})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	src, err := store.ListTimetableEntries(ctx, models.TimetableFilter{AcademicYear: 2024, Term: 1})
	require.NoError(t, err)
	dst, err := store.ListTimetableEntries(ctx, models.TimetableFilter{AcademicYear: 2024, Term: 2})
	require.NoError(t, err)
	require.Len(t, dst, len(src))

	key := func(e *models.TimetableEntry) string {
		return fmt.Sprintf("%s/%s/%d/%s", e.SectionID, *e.TeacherID, e.DayOfWeek, RangeOf(e))
	}
	want := make(map[string]bool)
	for _, e := range src {
		want[key(e)] = true
	}
	for _, e := range dst {
		assert.True(t, want[key(e)], "cloned entry %s has no source counterpart", key(e))
		assert.NotContains(t, []string{"A1", "A2", "A3", "A4"}, e.ID)
	}
}

func TestCloneScheduleSectionFilter(t *testing.T) {
	ctx := context.Background()
	eng := NewEngine(newMemStore(), nil)
	seedTerm(t, eng)

	n, err := eng.CloneSchedule(ctx, models.CloneRequest{
		Source:    models.Period{Year: 2024, Term: 1},
		Target:    models.Period{Year: 2025, Term: 1},
		SectionID: "S2",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cloned, err := eng.Entries(ctx, models.TimetableFilter{AcademicYear: 2025, Term: 1})
	require.NoError(t, err)
	for _, e := range cloned {
		assert.Equal(t, "S2", e.SectionID)
	}
}

func TestCloneScheduleErrors(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	eng := NewEngine(store, nil)
	seedTerm(t, eng)

	p := models.Period{Year: 2024, Term: 1}
	_, err := eng.CloneSchedule(ctx, models.CloneRequest{Source: p, Target: p})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = eng.CloneSchedule(ctx, models.CloneRequest{Source: p, Target: models.Period{Year: 2024, Term: 4}})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	n, err := eng.CloneSchedule(ctx, models.CloneRequest{Source: models.Period{Year: 2023, Term: 3}, Target: p})
	require.NoError(t, err)
	assert.Zero(t, n)

	store.maxBatch = 3
	n, err = eng.CloneSchedule(ctx, models.CloneRequest{Source: p, Target: models.Period{Year: 2024, Term: 3}})
	assert.Equal(t, 3, n)
	assert.True(t, apperrors.Is(err, apperrors.ErrCloneMismatch))
}

func TestEngineUsesStorePredicates(t *testing.T) {
	ctx := context.Background()
	store := &remoteStore{memStore: newMemStore(), conflict: true, cloneResult: 7}
	eng := NewEngine(store, nil)

	_, err := eng.AddEntry(ctx, lesson("E1", "T1", "S1", 1, "08:00", "09:00"))
	ce, ok := IsConflict(err)
	require.True(t, ok)
	assert.Equal(t, models.ResourceTeacher, ce.Resource)
	assert.Empty(t, ce.Conflicting)
	require.Len(t, store.queries, 1)
	assert.Equal(t, "T1", store.queries[0].ResourceID)

	store.conflict = false
	_, err = eng.AddEntry(ctx, lesson("E1", "T1", "S1", 1, "08:00", "09:00"))
	require.NoError(t, err)
	assert.Len(t, store.queries, 3, "teacher and section both checked")

	n, err := eng.CloneSchedule(ctx, models.CloneRequest{
		Source: models.Period{Year: 2024, Term: 1},
		Target: models.Period{Year: 2024, Term: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	require.Len(t, store.cloneCalls, 1)
}

func TestCloneEntriesKeepsFields(t *testing.T) {
	src := lesson("E1", "T1", "S1", 4, "11:00", "12:20")
	src.Room = strPtr("Lab")
	src.CreatedAt = 99

	out := CloneEntries([]*models.TimetableEntry{src}, models.Period{Year: 2025, Term: 3})
	require.Len(t, out, 1)
	cp := out[0]
	assert.NotEqual(t, src.ID, cp.ID)
	assert.Equal(t, 2025, cp.AcademicYear)
	assert.Equal(t, 3, cp.Term)
	assert.Equal(t, src.DayOfWeek, cp.DayOfWeek)
	assert.Equal(t, RangeOf(src), RangeOf(cp))
	assert.Equal(t, "Lab", *cp.Room)
	assert.Zero(t, cp.CreatedAt)

	*cp.Room = "changed"
	assert.Equal(t, "Lab", *src.Room)
}
