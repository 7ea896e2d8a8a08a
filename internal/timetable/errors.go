package timetable

import (
	"fmt"

	apperrors "github.com/kimhsiao/shule/backend/internal/errors"
	"github.com/kimhsiao/shule/backend/internal/models"
)

// ConflictError rejects an entry that would double-book a teacher or a
// section.
type ConflictError struct {
	Resource    models.ResourceKind
	ResourceID  string
	Period      models.Period
	DayOfWeek   int
	Range       TimeRange
	Conflicting []*models.TimetableEntry // empty when the store only answers yes or no
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s is already booked on day %d of %s during %s",
		e.Resource, e.ResourceID, e.DayOfWeek, e.Period, e.Range)
}

// Unwrap exposes the TIMETABLE_CONFLICT application error.
func (e *ConflictError) Unwrap() error {
	return &apperrors.AppError{Code: apperrors.ErrTimetableConflict, Message: e.Error()}
}
