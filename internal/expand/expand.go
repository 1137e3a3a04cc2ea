package expand

import (
	"errors"
	"strconv"

	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/recurrence"
)

const (
	DefaultMaxOccurrencesPerEvent = 5000
)

// ErrTruncated is reported in Result.Err when an event hit the occurrence cap.
var ErrTruncated = errors.New("expand: max occurrences reached")

// Expander turns canonical events into the items displayed for a window.
type Expander struct {
	// MaxOccurrencesPerEvent is a safety cap against huge expansions. If
	// zero, DefaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// Result is the outcome of expanding a single event. On a rule failure Items
// holds the unexpanded event and Err the *recurrence.ParseError or
// recurrence.ErrScanLimit; on
// truncation Items holds the capped occurrences and Err wraps ErrTruncated.
type Result struct {
	Items []model.Event
	Err   error
}

// Expand expands every event for window w, preserving input order. Each
// event is expanded in isolation: a broken rule degrades only that event to
// a pass-through.
func (x Expander) Expand(events []model.Event, w model.Window) []model.Event {
	out := make([]model.Event, 0, len(events))
	for _, ev := range events {
		res := x.Event(ev, w)
		if res.Err != nil {
			logFailure(ev, res.Err)
		}
		out = append(out, res.Items...)
	}
	return out
}

// Event expands a single event for window w.
func (x Expander) Event(ev model.Event, w model.Window) Result {
	if !ev.Expandable() {
		return Result{Items: []model.Event{ev}}
	}

	rule, err := recurrence.Parse(ev.RecurrenceRule, ev.Start, ev.RecurrenceEnd)
	if err != nil {
		return Result{Items: []model.Event{ev}, Err: err}
	}

	limit := x.MaxOccurrencesPerEvent
	if limit <= 0 {
		limit = DefaultMaxOccurrencesPerEvent
	}
	starts, truncated, err := rule.Between(w.Start, w.End, limit)
	if err != nil {
		return Result{Items: []model.Event{ev}, Err: err}
	}

	dur := ev.Duration()
	items := make([]model.Event, 0, len(starts))
	for i, start := range starts {
		occ := ev
		occ.ID = ev.ID + "_" + strconv.Itoa(i)
		occ.Start = start
		occ.End = start.Add(dur)
		occ.OriginalID = ev.ID
		occ.IsInstance = true
		items = append(items, occ)
	}

	res := Result{Items: items}
	if truncated {
		res.Err = ErrTruncated
	}
	return res
}

// Expand is a convenience wrapper using the default cap.
func Expand(events []model.Event, w model.Window) []model.Event {
	return Expander{}.Expand(events, w)
}

func logFailure(ev model.Event, err error) {
	if errors.Is(err, ErrTruncated) {
		appLog.Error("expand: truncated occurrences for event due to cap", err,
			"id", ev.ID,
		)
		return
	}
	appLog.Warn("expand: recurrence rule rejected; showing event unexpanded",
		"id", ev.ID,
		"rrule", ev.RecurrenceRule,
		"err", err,
	)
}
