package timetable

import (
	"sort"

	"github.com/kimhsiao/shule/backend/internal/models"
)

// Weekdays are the days a grid shows, Monday=1 to Friday=5.
var Weekdays = []int{1, 2, 3, 4, 5}

// SlotAxis is the fixed row axis of a grid.
type SlotAxis struct {
	DayStart    models.ClockTime
	DayEnd      models.ClockTime
	SlotMinutes int
}

// DefaultAxis spans 07:00 to 17:00 in half-hour slots.
var DefaultAxis = SlotAxis{
	DayStart:    models.Clock(7, 0),
	DayEnd:      models.Clock(17, 0),
	SlotMinutes: 30,
}

// Slots returns the rows of the axis. A trailing partial slot is kept.
func (a SlotAxis) Slots() []TimeRange {
	step := models.ClockTime(a.SlotMinutes)
	if step <= 0 || a.DayEnd <= a.DayStart {
		return nil
	}
	var slots []TimeRange
	for t := a.DayStart; t < a.DayEnd; t += step {
		end := t + step
		if end > a.DayEnd {
			end = a.DayEnd
		}
		slots = append(slots, TimeRange{Start: t, End: end})
	}
	return slots
}

// Cell is one day/slot position of a grid.
type Cell struct {
	Entry   *models.TimetableEntry `json:"entry,omitempty"`
	RowSpan int                    `json:"row_span,omitempty"`
	// Covered marks a slot occupied by an entry that starts in an earlier
	// row; it is not rendered on its own.
	Covered bool `json:"covered,omitempty"`
}

// Grid lays entries out by slot (rows) and weekday (columns).
type Grid struct {
	Days  []int       `json:"days"`
	Slots []TimeRange `json:"slots"`
	Cells [][]Cell    `json:"cells"` // Cells[slot][day index]
	// Overflow holds entries that fall outside the axis or collide with a
	// cell already taken.
	Overflow []*models.TimetableEntry `json:"overflow,omitempty"`
}

// Cell returns the cell for a weekday (1-5) and slot index.
func (g *Grid) Cell(day, slot int) Cell {
	if day < 1 || day > len(g.Days) || slot < 0 || slot >= len(g.Slots) {
		return Cell{}
	}
	return g.Cells[slot][day-1]
}

// BuildGrid places entries on axis. An entry spanning several slots
// occupies a merged cell at its first slot and covers the rest.
func BuildGrid(entries []*models.TimetableEntry, axis SlotAxis) *Grid {
	slots := axis.Slots()
	g := &Grid{
		Days:  append([]int(nil), Weekdays...),
		Slots: slots,
		Cells: make([][]Cell, len(slots)),
	}
	for i := range g.Cells {
		g.Cells[i] = make([]Cell, len(Weekdays))
	}

	sorted := append([]*models.TimetableEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DayOfWeek != sorted[j].DayOfWeek {
			return sorted[i].DayOfWeek < sorted[j].DayOfWeek
		}
		return sorted[i].StartTime < sorted[j].StartTime
	})

	for _, e := range sorted {
		first, span := placement(slots, RangeOf(e))
		if e.DayOfWeek < 1 || e.DayOfWeek > len(Weekdays) || span == 0 || !free(g, e.DayOfWeek-1, first, span) {
			g.Overflow = append(g.Overflow, e)
			continue
		}
		col := e.DayOfWeek - 1
		g.Cells[first][col] = Cell{Entry: e, RowSpan: span}
		for s := first + 1; s < first+span; s++ {
			g.Cells[s][col] = Cell{Covered: true}
		}
	}
	return g
}

// placement returns the first slot overlapping r and how many consecutive
// slots it overlaps.
func placement(slots []TimeRange, r TimeRange) (first, span int) {
	first = -1
	for i, s := range slots {
		if !s.Overlaps(r) {
			continue
		}
		if first < 0 {
			first = i
		}
		span++
	}
	if first < 0 {
		return 0, 0
	}
	return first, span
}

func free(g *Grid, col, first, span int) bool {
	for s := first; s < first+span; s++ {
		c := g.Cells[s][col]
		if c.Entry != nil || c.Covered {
			return false
		}
	}
	return true
}
