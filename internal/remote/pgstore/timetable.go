package pgstore

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/timetable"
)

const cloneBatchSize = 100

// ErrNotFound is returned when an update targets a missing entry.
var ErrNotFound = errors.New("timetable entry not found")

func (s *Store) entries(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.TimetableEntry{})
}

func applyFilter(tx *gorm.DB, f models.TimetableFilter) *gorm.DB {
	if f.AcademicYear != 0 {
		tx = tx.Where("academic_year = ?", f.AcademicYear)
	}
	if f.Term != 0 {
		tx = tx.Where("term = ?", f.Term)
	}
	if f.DayOfWeek != 0 {
		tx = tx.Where("day_of_week = ?", f.DayOfWeek)
	}
	if f.SectionID != "" {
		tx = tx.Where("section_id = ?", f.SectionID)
	}
	if f.TeacherID != "" {
		tx = tx.Where("teacher_id = ?", f.TeacherID)
	}
	return tx
}

// ListTimetableEntries returns entries matching f ordered by day, start
// time and section.
func (s *Store) ListTimetableEntries(ctx context.Context, f models.TimetableFilter) ([]*models.TimetableEntry, error) {
	var out []*models.TimetableEntry
	err := applyFilter(s.entries(ctx), f).
		Order("day_of_week, start_time, section_id, id").
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "list timetable entries")
	}
	return out, nil
}

// GetTimetableEntry returns the entry with id, or nil when absent.
func (s *Store) GetTimetableEntry(ctx context.Context, id string) (*models.TimetableEntry, error) {
	var e models.TimetableEntry
	err := s.entries(ctx).Where("id = ?", id).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get timetable entry")
	}
	return &e, nil
}

// CreateTimetableEntry inserts one entry.
func (s *Store) CreateTimetableEntry(ctx context.Context, e *models.TimetableEntry) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(e).Error, "insert timetable entry")
}

// CreateTimetableEntries inserts entries in one transaction.
func (s *Store) CreateTimetableEntries(ctx context.Context, entries []*models.TimetableEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(entries, cloneBatchSize).Error
	})
	if err != nil {
		return 0, errors.Wrap(err, "insert timetable entries")
	}
	return len(entries), nil
}

// UpdateTimetableEntry overwrites every mutable column of e.
func (s *Store) UpdateTimetableEntry(ctx context.Context, e *models.TimetableEntry) error {
	res := s.db.WithContext(ctx).Model(e).Select("*").Omit("id", "created_at").Updates(e)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update timetable entry")
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrNotFound, "update %s", e.ID)
	}
	return nil
}

// DeleteTimetableEntry removes the entry with id.
func (s *Store) DeleteTimetableEntry(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.TimetableEntry{}).Error
	return errors.Wrap(err, "delete timetable entry")
}

// HasConflict reports whether the resource in q already has an entry
// overlapping [q.Start, q.End) on the same day and period.
func (s *Store) HasConflict(ctx context.Context, q models.ConflictQuery) (bool, error) {
	column := "teacher_id"
	if q.Resource == models.ResourceSection {
		column = "section_id"
	}
	tx := s.entries(ctx).
		Where(column+" = ?", q.ResourceID).
		Where("academic_year = ? AND term = ? AND day_of_week = ?", q.Period.Year, q.Period.Term, q.DayOfWeek).
		Where("start_time < ? AND end_time > ?", q.End, q.Start)
	if q.ExcludeID != "" {
		tx = tx.Where("id <> ?", q.ExcludeID)
	}

	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return false, errors.Wrap(err, "check timetable conflict")
	}
	return n > 0, nil
}

// CloneSchedule copies the source period's entries into the target period
// inside one transaction and returns the number created.
func (s *Store) CloneSchedule(ctx context.Context, req models.CloneRequest) (int, error) {
	var created int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var source []*models.TimetableEntry
		f := models.TimetableFilter{
			AcademicYear: req.Source.Year,
			Term:         req.Source.Term,
			SectionID:    req.SectionID,
		}
		if err := applyFilter(tx.Model(&models.TimetableEntry{}), f).Order("id").Find(&source).Error; err != nil {
			return err
		}
		copies := timetable.CloneEntries(source, req.Target)
		if len(copies) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(copies, cloneBatchSize).Error; err != nil {
			return err
		}
		created = len(copies)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "clone schedule")
	}
	return created, nil
}
