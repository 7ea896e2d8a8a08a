package timetable

import (
	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/uuid"
)

// CloneEntries copies source into target with fresh ids. Day, time,
// resource and descriptive fields are kept as they are.
func CloneEntries(source []*models.TimetableEntry, target models.Period) []*models.TimetableEntry {
	out := make([]*models.TimetableEntry, 0, len(source))
	for _, e := range source {
		cp := e.Clone()
		cp.ID = uuid.New()
		cp.AcademicYear = target.Year
		cp.Term = target.Term
		cp.CreatedAt = 0
		cp.UpdatedAt = 0
		out = append(out, cp)
	}
	return out
}
