package display

import (
	"errors"
	"sort"
	"time"

	"evcal/internal/clock"
	"evcal/internal/model"
)

// View is a widget view type.
type View string

const (
	ViewMonth View = "dayGridMonth"
	ViewWeek  View = "timeGridWeek"
	ViewDay   View = "timeGridDay"
	ViewList  View = "listMonth"
)

// monthGridDays is the fixed six-week height of the month grid.
const monthGridDays = 42

var ErrNotDisplayed = errors.New("display: item not displayed")

// Options configures a Calendar.
type Options struct {
	// Location is the display timezone. If nil, time.Local is used.
	Location *time.Location
	// WeekStart is the first column of week-based views.
	WeekStart time.Weekday
	// InitialView defaults to ViewMonth.
	InitialView View
	// Clock supplies "today". If nil, the system clock is used.
	Clock clock.Clock
}

// Calendar is a headless calendar widget: it keeps the current view, the
// date it is positioned on and the set of displayed items. It is not safe
// for concurrent use; calsync.Session serializes access.
type Calendar struct {
	loc       *time.Location
	weekStart time.Weekday
	clock     clock.Clock

	view View
	date time.Time

	items []model.Event
	err   error
}

// New creates a Calendar positioned on today.
func New(opts Options) *Calendar {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if !KnownView(opts.InitialView) {
		opts.InitialView = ViewMonth
	}
	c := &Calendar{
		loc:       opts.Location,
		weekStart: opts.WeekStart,
		clock:     opts.Clock,
		view:      opts.InitialView,
	}
	c.date = c.midnight(c.clock.Now())
	return c
}

// KnownView reports whether v is a view this widget can show.
func KnownView(v View) bool {
	switch v {
	case ViewMonth, ViewWeek, ViewDay, ViewList:
		return true
	}
	return false
}

func (c *Calendar) View() View {
	return c.view
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Date returns the date the calendar is positioned on (midnight, display zone).
func (c *Calendar) Date() time.Time {
	return c.date
}

// ChangeView switches to view v. Unknown views are ignored.
func (c *Calendar) ChangeView(v string) {
	if !KnownView(View(v)) {
		return
	}
	c.view = View(v)
}

func (c *Calendar) Today() {
	c.date = c.midnight(c.clock.Now())
}

// GotoDate positions the calendar on the day containing t.
func (c *Calendar) GotoDate(t time.Time) {
	c.date = c.midnight(t)
}

func (c *Calendar) Prev() {
	c.step(-1)
}

func (c *Calendar) Next() {
	c.step(1)
}

func (c *Calendar) step(dir int) {
	switch c.view {
	case ViewWeek:
		c.date = c.date.AddDate(0, 0, 7*dir)
	case ViewDay:
		c.date = c.date.AddDate(0, 0, dir)
	default:
		first := time.Date(c.date.Year(), c.date.Month(), 1, 0, 0, 0, 0, c.loc)
		c.date = first.AddDate(0, dir, 0)
	}
}

// Window returns the visible range for the current view and date.
func (c *Calendar) Window() model.Window {
	switch c.view {
	case ViewWeek:
		start := c.weekStartOf(c.date)
		return model.Window{Start: start, End: start.AddDate(0, 0, 7)}
	case ViewDay:
		return model.Window{Start: c.date, End: c.date.AddDate(0, 0, 1)}
	case ViewList:
		first := time.Date(c.date.Year(), c.date.Month(), 1, 0, 0, 0, 0, c.loc)
		return model.Window{Start: first, End: first.AddDate(0, 1, 0)}
	default:
		first := time.Date(c.date.Year(), c.date.Month(), 1, 0, 0, 0, 0, c.loc)
		start := c.weekStartOf(first)
		return model.Window{Start: start, End: start.AddDate(0, 0, monthGridDays)}
	}
}

func (c *Calendar) weekStartOf(t time.Time) time.Time {
	back := (int(t.Weekday()) - int(c.weekStart) + 7) % 7
	return t.AddDate(0, 0, -back)
}

func (c *Calendar) midnight(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

// ReplaceAll swaps the displayed set in one step and clears any error state.
func (c *Calendar) ReplaceAll(items []model.Event) {
	c.items = append([]model.Event(nil), items...)
	c.err = nil
}

// Add appends items to the displayed set.
func (c *Calendar) Add(items ...model.Event) {
	c.items = append(c.items, items...)
}

// Get returns the displayed item with identifier id.
func (c *Calendar) Get(id string) (model.Event, bool) {
	for _, it := range c.items {
		if it.ID == id {
			return it, true
		}
	}
	return model.Event{}, false
}

// RemoveSeries removes the item with identifier id together with every
// occurrence generated from it, returning how many items were removed.
func (c *Calendar) RemoveSeries(id string) int {
	kept := c.items[:0]
	removed := 0
	for _, it := range c.items {
		if it.ID == id || it.OriginalID == id {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	// Drop references held past the new length.
	for i := len(kept); i < len(c.items); i++ {
		c.items[i] = model.Event{}
	}
	c.items = kept
	return removed
}

// Items returns a copy of the displayed set ordered by start, then ID.
func (c *Calendar) Items() []model.Event {
	out := append([]model.Event(nil), c.items...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Calendar) Len() int {
	return len(c.items)
}

// Move repositions a displayed item, as a drag does, and returns a function
// restoring the previous position.
func (c *Calendar) Move(id string, start, end time.Time, allDay bool) (revert func(), err error) {
	return c.mutate(id, func(it *model.Event) {
		it.Start = start
		it.End = end
		it.AllDay = allDay
	})
}

// Resize changes the end of a displayed item and returns a function restoring
// the previous end.
func (c *Calendar) Resize(id string, end time.Time) (revert func(), err error) {
	return c.mutate(id, func(it *model.Event) {
		it.End = end
	})
}

func (c *Calendar) mutate(id string, fn func(*model.Event)) (func(), error) {
	for i := range c.items {
		if c.items[i].ID != id {
			continue
		}
		before := c.items[i]
		fn(&c.items[i])
		return func() { c.restore(before) }, nil
	}
	return nil, ErrNotDisplayed
}

func (c *Calendar) restore(before model.Event) {
	for i := range c.items {
		if c.items[i].ID == before.ID {
			c.items[i] = before
			return
		}
	}
}

// ShowError puts the widget in an error state; the displayed set is kept.
func (c *Calendar) ShowError(err error) {
	c.err = err
}

// Err returns the current error state, nil when healthy.
func (c *Calendar) Err() error {
	return c.err
}
