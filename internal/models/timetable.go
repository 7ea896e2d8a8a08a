package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// ClockTime is a wall-clock time of day in minutes since midnight. Its
// text form is "HH:MM"; "HH:MM:SS" is accepted on input since the remote
// store returns time columns that way.
type ClockTime int

// Clock builds a ClockTime from hours and minutes.
func Clock(h, m int) ClockTime {
	return ClockTime(h*60 + m)
}

// EndOfDay is midnight at the end of the day, "24:00". It is only valid
// as an end time.
const EndOfDay = ClockTime(24 * 60)

// ParseClock parses "HH:MM" or "HH:MM:SS". "24:00" is accepted as EndOfDay.
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	if s == "24:00" || s == "24:00:00" {
		return EndOfDay, nil
	}
	layout := "15:04"
	if strings.Count(s, ":") == 2 {
		layout = "15:04:05"
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return Clock(t.Hour(), t.Minute()), nil
}

// MustClock parses s and panics on error. Intended for tests and constants.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalText implements encoding.TextMarshaler.
func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClockTime) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Value implements driver.Valuer.
func (c ClockTime) Value() (driver.Value, error) {
	return c.String(), nil
}

// Scan implements sql.Scanner.
func (c *ClockTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		return c.UnmarshalText([]byte(v))
	case []byte:
		return c.UnmarshalText(v)
	case int64:
		*c = ClockTime(v)
		return nil
	case time.Time:
		*c = Clock(v.Hour(), v.Minute())
		return nil
	default:
		return fmt.Errorf("cannot scan %T into ClockTime", value)
	}
}

// EntryKind classifies a timetable block.
type EntryKind string

const (
	KindLesson       EntryKind = "lesson"
	KindDoubleLesson EntryKind = "double_lesson"
	KindGames        EntryKind = "games"
	KindCoCurricular EntryKind = "co_curricular"
	KindBreak        EntryKind = "break"
	KindLunch        EntryKind = "lunch"
	KindAssembly     EntryKind = "assembly"
)

// Academic reports whether the kind normally carries a subject.
func (k EntryKind) Academic() bool {
	return k == KindLesson || k == KindDoubleLesson
}

// Period is an academic year and term.
type Period struct {
	Year int `json:"academic_year" validate:"gte=2000,lte=2100"`
	Term int `json:"term" validate:"min=1,max=3"`
}

func (p Period) String() string {
	return fmt.Sprintf("%d/Term %d", p.Year, p.Term)
}

// TimetableEntry is a scheduled block for one class-section on one weekday.
type TimetableEntry struct {
	ID           string    `db:"id" json:"id" gorm:"primaryKey"`
	TeacherID    *string   `db:"teacher_id" json:"teacher_id,omitempty"`
	SectionID    string    `db:"section_id" json:"section_id" validate:"required"`
	SubjectID    *string   `db:"subject_id" json:"subject_id,omitempty"`
	AcademicYear int       `db:"academic_year" json:"academic_year" validate:"gte=2000,lte=2100"`
	Term         int       `db:"term" json:"term" validate:"min=1,max=3"`
	DayOfWeek    int       `db:"day_of_week" json:"day_of_week" validate:"min=1,max=5"`
	StartTime    ClockTime `db:"start_time" json:"start_time" validate:"gte=0,lt=1440"`
	EndTime      ClockTime `db:"end_time" json:"end_time" validate:"gtfield=StartTime,lte=1440"`
	Kind         EntryKind `db:"kind" json:"kind" validate:"required,oneof=lesson double_lesson games co_curricular break lunch assembly"`
	Room         *string   `db:"room" json:"room,omitempty"`
	Label        *string   `db:"label" json:"label,omitempty"`
	CreatedAt    int64     `db:"created_at" json:"created_at" gorm:"autoCreateTime:milli"`
	UpdatedAt    int64     `db:"updated_at" json:"updated_at" gorm:"autoUpdateTime:milli"`
}

// TableName returns the table name for TimetableEntry.
func (TimetableEntry) TableName() string {
	return "timetable_entries"
}

// Period returns the entry's academic period.
func (e *TimetableEntry) Period() Period {
	return Period{Year: e.AcademicYear, Term: e.Term}
}

// Clone returns a deep copy so pointer fields are not shared.
func (e *TimetableEntry) Clone() *TimetableEntry {
	cp := *e
	cp.TeacherID = cloneString(e.TeacherID)
	cp.SubjectID = cloneString(e.SubjectID)
	cp.Room = cloneString(e.Room)
	cp.Label = cloneString(e.Label)
	return &cp
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// TimetableFilter selects entries. Zero fields are not filtered on.
type TimetableFilter struct {
	AcademicYear int    `json:"academic_year,omitempty"`
	Term         int    `json:"term,omitempty"`
	DayOfWeek    int    `json:"day_of_week,omitempty"`
	SectionID    string `json:"section_id,omitempty"`
	TeacherID    string `json:"teacher_id,omitempty"`
}

// ResourceKind names one of the two axes that must stay free of
// double-booking.
type ResourceKind string

const (
	ResourceTeacher ResourceKind = "teacher"
	ResourceSection ResourceKind = "section"
)

// Valid reports whether k is a known resource kind.
func (k ResourceKind) Valid() bool {
	return k == ResourceTeacher || k == ResourceSection
}

// ConflictQuery asks whether a resource is already booked on a day of a
// period within [Start, End). ExcludeID skips the entry being edited.
type ConflictQuery struct {
	Resource   ResourceKind `json:"resource" validate:"required,oneof=teacher section"`
	ResourceID string       `json:"resource_id" validate:"required"`
	Period     Period       `json:"period"`
	DayOfWeek  int          `json:"day_of_week" validate:"min=1,max=5"`
	Start      ClockTime    `json:"start_time" validate:"gte=0,lt=1440"`
	End        ClockTime    `json:"end_time" validate:"gtfield=Start,lte=1440"`
	ExcludeID  string       `json:"exclude_id,omitempty"`
}

// CloneRequest copies one period's schedule into another, optionally for a
// single section.
type CloneRequest struct {
	Source    Period `json:"source"`
	Target    Period `json:"target"`
	SectionID string `json:"section_id,omitempty"`
}
