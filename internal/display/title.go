package display

import (
	"fmt"
	"time"
)

// Title returns the human-readable heading of the current view, e.g.
// "January 2024", "Jan 1 – 7, 2024" or "January 1, 2024".
func (c *Calendar) Title() string {
	switch c.view {
	case ViewWeek:
		w := c.Window()
		return rangeTitle(w.Start, w.End.AddDate(0, 0, -1))
	case ViewDay:
		return c.date.Format("January 2, 2006")
	default:
		return c.date.Format("January 2006")
	}
}

// rangeTitle formats an inclusive day range, collapsing shared month/year.
func rangeTitle(first, last time.Time) string {
	switch {
	case first.Year() != last.Year():
		return fmt.Sprintf("%s – %s", first.Format("Jan 2, 2006"), last.Format("Jan 2, 2006"))
	case first.Month() != last.Month():
		return fmt.Sprintf("%s – %s", first.Format("Jan 2"), last.Format("Jan 2, 2006"))
	default:
		return fmt.Sprintf("%s – %d, %d", first.Format("Jan 2"), last.Day(), last.Year())
	}
}
