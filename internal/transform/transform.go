package transform

import (
	"time"

	"evcal/internal/model"
)

// Transformer maps wire records onto model.Event. Floating wire times are
// anchored in Location (time.Local when nil).
type Transformer struct {
	Location *time.Location
}

// New returns a Transformer anchoring floating times in loc.
func New(loc *time.Location) Transformer {
	return Transformer{Location: loc}
}

// Event converts a single wire record. It never fails: absent optional
// fields map to their zero values.
func (t Transformer) Event(w model.WireEvent) model.Event {
	loc := t.Location
	if loc == nil {
		loc = time.Local
	}

	ev := model.Event{
		ID:         w.ID,
		Title:      w.Title,
		Start:      w.StartTime.In(loc),
		End:        w.EndTime.In(loc),
		AllDay:     w.AllDay,
		Color:      w.Color,
		OriginalID: w.ID,
	}
	if ev.End.IsZero() || ev.End.Before(ev.Start) {
		ev.End = ev.Start
	}

	ev.Description = deref(w.Description)
	ev.Location = deref(w.Location)
	ev.EventType = deref(w.EventType)
	ev.RecurrenceRule = deref(w.RecurrenceRule)
	ev.IsRecurring = w.IsRecurring != nil && *w.IsRecurring && ev.RecurrenceRule != ""

	if w.RecurrenceEndDate != nil && !w.RecurrenceEndDate.IsZero() {
		end := w.RecurrenceEndDate.In(loc)
		if w.RecurrenceEndDate.DateOnly {
			// A bare date covers the whole day.
			end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		ev.RecurrenceEnd = end
	}

	return ev
}

// Events converts a batch, preserving order.
func (t Transformer) Events(ws []model.WireEvent) []model.Event {
	out := make([]model.Event, 0, len(ws))
	for _, w := range ws {
		out = append(out, t.Event(w))
	}
	return out
}

// Wire is the inverse mapping, used when events are handed back to the
// authority or re-exported.
func Wire(ev model.Event) model.WireEvent {
	w := model.WireEvent{
		ID:        ev.SourceID(),
		Title:     ev.Title,
		StartTime: model.WireTimeOf(ev.Start),
		EndTime:   model.WireTimeOf(ev.End),
		AllDay:    ev.AllDay,
		Color:     ev.Color,
	}
	w.Description = ref(ev.Description)
	w.Location = ref(ev.Location)
	w.EventType = ref(ev.EventType)
	if ev.IsRecurring {
		recurring := true
		w.IsRecurring = &recurring
		w.RecurrenceRule = ref(ev.RecurrenceRule)
		if !ev.RecurrenceEnd.IsZero() {
			end := model.WireTimeOf(ev.RecurrenceEnd)
			w.RecurrenceEndDate = &end
		}
	}
	return w
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
