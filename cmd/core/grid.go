package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/kimhsiao/shule/backend/internal/models"
	"github.com/kimhsiao/shule/backend/internal/timetable"
)

var dayNames = map[int]string{1: "Mon", 2: "Tue", 3: "Wed", 4: "Thu", 5: "Fri"}

// printGrid renders g as a text table. Covered slots show a caret under
// the lesson that spans them.
func printGrid(w io.Writer, g *timetable.Grid) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprint(tw, "TIME")
	for _, d := range g.Days {
		fmt.Fprintf(tw, "\t%s", dayNames[d])
	}
	fmt.Fprintln(tw)

	for s, slot := range g.Slots {
		fmt.Fprint(tw, slot.String())
		for col := range g.Days {
			fmt.Fprintf(tw, "\t%s", cellText(g.Cells[s][col]))
		}
		fmt.Fprintln(tw)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, e := range g.Overflow {
		fmt.Fprintf(w, "not placed: %s %s %s-%s\n", dayNames[e.DayOfWeek], entryLabel(e), e.StartTime, e.EndTime)
	}
	return nil
}

func cellText(c timetable.Cell) string {
	switch {
	case c.Covered:
		return "^"
	case c.Entry == nil:
		return "-"
	default:
		return entryLabel(c.Entry)
	}
}

func entryLabel(e *models.TimetableEntry) string {
	switch {
	case e.Label != nil && *e.Label != "":
		return *e.Label
	case e.SubjectID != nil && *e.SubjectID != "":
		return *e.SubjectID
	default:
		return string(e.Kind)
	}
}
