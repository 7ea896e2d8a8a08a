package main

import (
	"encoding/json"
	"strings"
	"testing"

	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/timetable"
)

func openBridge(t *testing.T) *bridge {
	t.Helper()
	b := &bridge{}
	if err := b.init("", t.TempDir()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(b.close)
	return b
}

func TestBridge_notInitialized(t *testing.T) {
	b := &bridge{}
	if _, err := b.status(); err != errNotInitialized {
		t.Errorf("status err = %v, want errNotInitialized", err)
	}
	b.close()
}

func TestBridge_initTwice(t *testing.T) {
	b := openBridge(t)
	first := b.app
	if err := b.init("", t.TempDir()); err != nil {
		t.Fatalf("second init: %v", err)
	}
	if b.app != first {
		t.Error("second init replaced the app")
	}
}

func TestBridge_cache(t *testing.T) {
	b := openBridge(t)

	out, err := b.cachePut("grades", "create", `{"id":"G1","name":"Grade 1","level":1}`)
	if err != nil {
		t.Fatalf("cachePut: %v", err)
	}
	var put struct {
		Queued bool `json:"queued"`
	}
	if err := json.Unmarshal([]byte(out), &put); err != nil || !put.Queued {
		t.Errorf("cachePut = %s (%v)", out, err)
	}

	out, err = b.cacheGet("grades", "G1")
	if err != nil {
		t.Fatalf("cacheGet: %v", err)
	}
	if !strings.Contains(out, `"Grade 1"`) {
		t.Errorf("cacheGet = %s", out)
	}

	out, err = b.cacheList("grades", "level", "1")
	if err != nil {
		t.Fatalf("cacheList: %v", err)
	}
	var list []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &list); err != nil || len(list) != 1 {
		t.Errorf("cacheList = %s (%v)", out, err)
	}

	if _, err := b.cacheDelete("grades", "G1"); err != nil {
		t.Fatalf("cacheDelete: %v", err)
	}
	if _, err := b.cacheGet("grades", "G1"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("cacheGet after delete err = %v", err)
	}

	out, err = b.cacheList("grades", "", "")
	if err != nil || out != "[]" {
		t.Errorf("empty cacheList = %q (%v)", out, err)
	}

	tests := []struct {
		name string
		err  error
		code apperrors.ErrorCode
	}{
		{"unknown collection", func() error { _, err := b.cacheGet("parents", "P1"); return err }(), apperrors.ErrInvalid},
		{"bad record", func() error { _, err := b.cachePut("grades", "create", `{"id":""}`); return err }(), apperrors.ErrValidation},
		{"bad op", func() error {
			_, err := b.cachePut("grades", "merge", `{"id":"G2","name":"Grade 2","level":2}`)
			return err
		}(), apperrors.ErrInvalid},
	}
	for _, tt := range tests {
		if !apperrors.Is(tt.err, tt.code) {
			t.Errorf("%s: err = %v, want %s", tt.name, tt.err, tt.code)
		}
	}
}

func TestBridge_sync(t *testing.T) {
	b := openBridge(t)

	out, err := b.status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, `"state":"offline"`) {
		t.Errorf("status = %s", out)
	}

	if _, err := b.syncNow(); !apperrors.Is(err, apperrors.ErrSyncNotConfigured) {
		t.Errorf("syncNow err = %v", err)
	}
	if _, err := b.processQueue(); !apperrors.Is(err, apperrors.ErrSyncNotConfigured) {
		t.Errorf("processQueue err = %v", err)
	}

	out, err = b.conflicts(10)
	if err != nil || out != "[]" {
		t.Errorf("conflicts = %q (%v)", out, err)
	}

	out, err = b.setOnline(true)
	if err != nil {
		t.Fatalf("setOnline: %v", err)
	}
	if !strings.Contains(out, `"is_online":true`) {
		t.Errorf("setOnline = %s", out)
	}
}

func TestBridge_timetable(t *testing.T) {
	b := openBridge(t)

	entry := `{"section_id":"S1","teacher_id":"T1","academic_year":2025,"term":1,"day_of_week":1,"start_time":"08:00","end_time":"09:00","kind":"lesson"}`
	out, err := b.timetableAdd(entry)
	if err != nil {
		t.Fatalf("timetableAdd: %v", err)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(out), &created); err != nil || created.ID == "" {
		t.Fatalf("timetableAdd = %s (%v)", out, err)
	}

	_, err = b.timetableAdd(strings.Replace(entry, `"S1"`, `"S2"`, 1))
	if _, ok := timetable.IsConflict(err); !ok {
		t.Errorf("double-booked teacher err = %v", err)
	}

	out, err = b.timetableCheck(`{"resource":"section","resource_id":"S1","period":{"academic_year":2025,"term":1},"day_of_week":1,"start_time":"09:00","end_time":"10:00"}`)
	if err != nil || out != `{"conflict":false}` {
		t.Errorf("adjacent check = %s (%v)", out, err)
	}

	out, err = b.timetableUpdate(created.ID, `{"room":"Lab 2"}`)
	if err != nil || !strings.Contains(out, "Lab 2") {
		t.Errorf("timetableUpdate = %s (%v)", out, err)
	}

	out, err = b.timetableClone(`{"source":{"academic_year":2025,"term":1},"target":{"academic_year":2025,"term":2}}`)
	if err != nil || out != `{"copied":1}` {
		t.Errorf("timetableClone = %s (%v)", out, err)
	}

	out, err = b.timetableList(`{"academic_year":2025}`)
	if err != nil {
		t.Fatalf("timetableList: %v", err)
	}
	var entries []map[string]interface{}
	if err := json.Unmarshal([]byte(out), &entries); err != nil || len(entries) != 2 {
		t.Errorf("timetableList = %s (%v)", out, err)
	}

	if _, err := b.timetableGrid(`{"academic_year":2025}`); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("grid without resource err = %v", err)
	}
	out, err = b.timetableGrid(`{"academic_year":2025,"term":1,"section_id":"S1"}`)
	if err != nil || !strings.Contains(out, `"row_span":2`) {
		t.Errorf("timetableGrid = %s (%v)", out, err)
	}

	if _, err := b.timetableList(`not json`); !apperrors.Is(err, apperrors.ErrInvalid) {
		t.Errorf("bad filter err = %v", err)
	}
	if _, err := b.timetableDelete(created.ID); err != nil {
		t.Errorf("timetableDelete: %v", err)
	}
}
