package timetable

import (
	"time"

	"github.com/kimhsiao/shule/backend/internal/models"
)

// TimeRange is the half-open interval [Start, End) of a school day.
type TimeRange struct {
	Start models.ClockTime `json:"start"`
	End   models.ClockTime `json:"end"`
}

// RangeOf returns the time range occupied by e.
func RangeOf(e *models.TimetableEntry) TimeRange {
	return TimeRange{Start: e.StartTime, End: e.EndTime}
}

// Valid reports whether the range is non-empty and within one day.
func (r TimeRange) Valid() bool {
	return r.Start >= 0 && r.Start < r.End && r.End <= 24*60
}

// Overlaps reports whether r and o share any instant. Ranges that only
// touch at an endpoint do not overlap.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// Contains reports whether t falls inside r.
func (r TimeRange) Contains(t models.ClockTime) bool {
	return r.Start <= t && t < r.End
}

// Duration returns the length of r.
func (r TimeRange) Duration() time.Duration {
	return time.Duration(r.End-r.Start) * time.Minute
}

func (r TimeRange) String() string {
	return r.Start.String() + "-" + r.End.String()
}
