package model

import (
	"time"
)

// Event is a calendar item as shown by the widget. The same type carries the
// canonical event held by the remote authority and the generated occurrences
// of a recurring event; IsInstance tells them apart.
type Event struct {
	ID    string
	Title string

	Start  time.Time
	End    time.Time
	AllDay bool

	Color       string
	Description string
	Location    string
	EventType   string

	IsRecurring    bool
	RecurrenceRule string
	// RecurrenceEnd bounds expansion (inclusive). Zero means unbounded.
	RecurrenceEnd time.Time

	// OriginalID is the identifier of the stored event this item came from.
	// For a canonical event it equals ID.
	OriginalID string
	// IsInstance marks an item generated by recurrence expansion.
	IsInstance bool
}

// SourceID returns the identifier of the stored event behind e: OriginalID
// when set, otherwise ID.
func (e Event) SourceID() string {
	if e.OriginalID != "" {
		return e.OriginalID
	}
	return e.ID
}

// Duration returns End - Start, never negative.
func (e Event) Duration() time.Duration {
	d := e.End.Sub(e.Start)
	if d < 0 {
		return 0
	}
	return d
}

// Expandable reports whether e should go through recurrence expansion.
func (e Event) Expandable() bool {
	return e.IsRecurring && e.RecurrenceRule != "" && !e.IsInstance
}

// Window is the half-open instant range [Start, End) visible on the calendar.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Equal compares both bounds by instant, ignoring location.
func (w Window) Equal(o Window) bool {
	return w.Start.Equal(o.Start) && w.End.Equal(o.End)
}

// Overlaps reports whether [start, end] intersects the window. A zero-length
// item at the window start counts as visible.
func (w Window) Overlaps(start, end time.Time) bool {
	if end.Before(start) {
		end = start
	}
	if !start.Before(w.End) {
		return false
	}
	if end.Before(w.Start) {
		return false
	}
	if end.Equal(w.Start) && end.After(start) {
		return false
	}
	return true
}

func (w Window) String() string {
	return w.Start.Format(time.RFC3339) + "/" + w.End.Format(time.RFC3339)
}
