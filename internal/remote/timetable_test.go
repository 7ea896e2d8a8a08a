package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/shule/backend/internal/models"
)

func TestTimetableStoreList(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[
			{"id":"b","section_id":"S1","academic_year":2024,"term":1,"day_of_week":2,"start_time":"08:00:00","end_time":"09:00:00","kind":"lesson"},
			{"id":"a","section_id":"S1","academic_year":2024,"term":1,"day_of_week":1,"start_time":"09:00:00","end_time":"10:00:00","kind":"lesson"},
			{"id":"c","section_id":"S1","academic_year":2024,"term":1,"day_of_week":1,"start_time":"08:00","end_time":"08:30","kind":"assembly"}
		]`)
	})
	store := NewTimetableStore(newTestClient(t, srv.URL))

	entries, err := store.ListTimetableEntries(context.Background(), models.TimetableFilter{
		AcademicYear: 2024, Term: 1, SectionID: "S1",
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{entries[0].ID, entries[1].ID, entries[2].ID})
	assert.Equal(t, models.Clock(9, 0), entries[1].StartTime)

	req := srv.last()
	assert.Equal(t, "/rest/v1/timetable_entries", req.Path)
	assert.Equal(t, []string{"eq.2024"}, req.Query["academic_year"])
	assert.Equal(t, []string{"eq.S1"}, req.Query["section_id"])
	assert.NotContains(t, req.Query, "teacher_id")
}

func TestTimetableStoreGetMissing(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[]`)
	})
	e, err := NewTimetableStore(newTestClient(t, srv.URL)).GetTimetableEntry(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestTimetableStoreCreateBatch(t *testing.T) {
	srv := newFakeServer(t, nil)
	store := NewTimetableStore(newTestClient(t, srv.URL))

	entries := []*models.TimetableEntry{
		{ID: "e1", SectionID: "S1", AcademicYear: 2024, Term: 2, DayOfWeek: 1, StartTime: models.Clock(8, 0), EndTime: models.Clock(9, 0), Kind: models.KindLesson},
		{ID: "e2", SectionID: "S1", AcademicYear: 2024, Term: 2, DayOfWeek: 1, StartTime: models.Clock(9, 0), EndTime: models.Clock(10, 0), Kind: models.KindLesson},
	}
	n, err := store.CreateTimetableEntries(context.Background(), entries)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var sent []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(srv.last().Body), &sent))
	require.Len(t, sent, 2)
	assert.Equal(t, "08:00", sent[0]["start_time"])
	assert.NotZero(t, entries[0].CreatedAt)
}

func TestTimetableStoreUpdateSendsClearedFields(t *testing.T) {
	srv := newFakeServer(t, nil)
	store := NewTimetableStore(newTestClient(t, srv.URL))

	teacher := "T1"
	e := &models.TimetableEntry{
		ID: "e1", TeacherID: &teacher, SectionID: "S1", AcademicYear: 2024, Term: 2,
		DayOfWeek: 1, StartTime: models.Clock(8, 0), EndTime: models.Clock(9, 0), Kind: models.KindLesson,
	}
	require.NoError(t, store.UpdateTimetableEntry(context.Background(), e))

	req := srv.last()
	assert.Equal(t, http.MethodPatch, req.Method)
	var sent map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(req.Body), &sent))
	assert.Equal(t, "T1", sent["teacher_id"])
	for _, col := range []string{"room", "label", "subject_id"} {
		v, ok := sent[col]
		assert.True(t, ok, "%s missing from patch", col)
		assert.Nil(t, v, col)
	}
	assert.Contains(t, req.Body, `"room":null`)
}

func TestTimetableStoreHasConflict(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `true`)
	})
	store := NewTimetableStore(newTestClient(t, srv.URL))

	q := models.ConflictQuery{
		Resource:   models.ResourceSection,
		ResourceID: "S2",
		Period:     models.Period{Year: 2024, Term: 1},
		DayOfWeek:  1,
		Start:      models.Clock(8, 30),
		End:        models.Clock(9, 0),
	}
	conflict, err := store.HasConflict(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, conflict)

	req := srv.last()
	assert.Equal(t, "/rest/v1/rpc/section_conflict", req.Path)
	assert.JSONEq(t, `{
		"p_resource_id":"S2","p_academic_year":2024,"p_term":1,"p_day_of_week":1,
		"p_start_time":"08:30","p_end_time":"09:00","p_exclude_id":null
	}`, req.Body)
}

func TestTimetableStoreCloneSchedule(t *testing.T) {
	srv := newFakeServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `12`)
	})
	store := NewTimetableStore(newTestClient(t, srv.URL))

	n, err := store.CloneSchedule(context.Background(), models.CloneRequest{
		Source:    models.Period{Year: 2024, Term: 1},
		Target:    models.Period{Year: 2024, Term: 2},
		SectionID: "S1",
	})
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, "/rest/v1/rpc/clone_schedule", srv.last().Path)
	assert.Contains(t, srv.last().Body, `"p_section_id":"S1"`)
}
