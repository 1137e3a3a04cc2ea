package calsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"evcal/internal/expand"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/protocol"
	"evcal/internal/transform"
)

var (
	ErrFetch        = errors.New("calsync: fetch failed")
	ErrUnauthorized = errors.New("calsync: mutation requires admin capability")
)

// FetchError is shown on the widget when a range fetch fails.
type FetchError struct {
	Window model.Window
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("calsync: fetch %s: %v", e.Window, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetch, e.Err}
}

// Widget is the calendar display kept in sync with the remote authority.
type Widget interface {
	Window() model.Window
	ReplaceAll(items []model.Event)
	Add(items ...model.Event)
	Get(id string) (model.Event, bool)
	RemoveSeries(id string) int
	ShowError(err error)
}

// Pusher delivers notifications to the remote authority.
type Pusher interface {
	Push(ctx context.Context, typ string, payload any) error
}

// Fetcher starts a range fetch. The reply must be handed back through
// Controller.CompleteFetch on the controller's event loop.
type Fetcher interface {
	StartFetch(req FetchRequest)
}

// FetchRequest is a range fetch stamped with the generation it belongs to.
type FetchRequest struct {
	Generation uint64
	Window     model.Window
	Filter     string
}

// Payload returns the wire form of the request.
func (r FetchRequest) Payload() protocol.FetchEventsRequest {
	p := protocol.FetchEventsRequest{
		Start: model.WireTimeOf(r.Window.Start),
		End:   model.WireTimeOf(r.Window.End),
	}
	if r.Filter != "" {
		f := r.Filter
		p.Filter = &f
	}
	return p
}

// Options configures a Controller.
type Options struct {
	// IsAdmin is the immutable admin capability.
	IsAdmin bool
	// Location anchors floating wire times. If nil, time.Local is used.
	Location *time.Location
	// MaxOccurrencesPerEvent caps recurrence expansion per event.
	MaxOccurrencesPerEvent int
	// Filter is the initial server-side filter.
	Filter string
}

type opKind int

const (
	opUpsert opKind = iota
	opDelete
)

// journalEntry is a push applied while a fetch was in flight.
type journalEntry struct {
	kind  opKind
	event model.Event
	id    string
}

// Drop describes a drag-move of a displayed item.
type Drop struct {
	ItemID string
	Start  time.Time
	End    time.Time
	AllDay bool
	// Revert restores the item's pre-drag position on the widget.
	Revert func()
}

// Resize describes a resize of a displayed item.
type Resize struct {
	ItemID string
	Start  time.Time
	End    time.Time
	Revert func()
}

// Controller maps the remote event store onto the widget. It is not safe
// for concurrent use: every method must run on the same event loop
// (see Session).
type Controller struct {
	widget    Widget
	pusher    Pusher
	fetcher   Fetcher
	gate      Gate
	transform transform.Transformer
	expander  expand.Expander

	filter string
	// window is the window of the latest fetch request.
	window     model.Window
	generation uint64
	inFlight   bool
	journal    []journalEntry

	// sources holds the canonical (unexpanded) events by identifier.
	sources map[string]model.Event
}

func NewController(w Widget, p Pusher, f Fetcher, opts Options) *Controller {
	return &Controller{
		widget:    w,
		pusher:    p,
		fetcher:   f,
		gate:      NewGate(opts.IsAdmin),
		transform: transform.New(opts.Location),
		expander:  expand.Expander{MaxOccurrencesPerEvent: opts.MaxOccurrencesPerEvent},
		filter:    opts.Filter,
		sources:   make(map[string]model.Event),
	}
}

func (c *Controller) Filter() string {
	return c.filter
}

// Window returns the window of the latest fetch request.
func (c *Controller) Window() model.Window {
	return c.window
}

func (c *Controller) Gate() Gate {
	return c.gate
}

// Pending reports whether a fetch is outstanding.
func (c *Controller) Pending() bool {
	return c.inFlight
}

// Sources returns the canonical events currently known, ordered by start.
func (c *Controller) Sources() []model.Event {
	out := make([]model.Event, 0, len(c.sources))
	for _, ev := range c.sources {
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// WindowChanged starts a fetch when the widget's visible window differs from
// the one last fetched. It reports whether a fetch was started.
func (c *Controller) WindowChanged() bool {
	w := c.widget.Window()
	if c.generation > 0 && w.Equal(c.window) {
		return false
	}
	c.startFetch(w)
	return true
}

// Refetch fetches the current window again.
func (c *Controller) Refetch() FetchRequest {
	return c.startFetch(c.widget.Window())
}

func (c *Controller) startFetch(w model.Window) FetchRequest {
	c.generation++
	c.window = w
	c.journal = nil
	c.inFlight = true

	req := FetchRequest{Generation: c.generation, Window: w, Filter: c.filter}
	appLog.Debug("calsync: fetch start",
		"generation", req.Generation,
		"window", w.String(),
		"filter", req.Filter,
	)
	c.fetcher.StartFetch(req)
	return req
}

// CompleteFetch applies the reply of req. Replies of superseded requests
// are discarded; it reports whether the reply was applied.
func (c *Controller) CompleteFetch(req FetchRequest, events []model.WireEvent, err error) bool {
	if req.Generation != c.generation {
		appLog.Debug("calsync: discarding stale fetch reply",
			"generation", req.Generation,
			"current", c.generation,
			"window", req.Window.String(),
		)
		return false
	}
	journal := c.journal
	c.inFlight = false
	c.journal = nil

	if err != nil {
		ferr := &FetchError{Window: req.Window, Err: err}
		appLog.Error("calsync: fetch failed; keeping displayed events", err,
			"window", req.Window.String(),
		)
		c.widget.ShowError(ferr)
		return true
	}

	c.replace(c.transform.Events(events), req.Window)

	// Pushes that arrived while the fetch was outstanding may be newer than
	// the reply; apply them again on top of it.
	for _, e := range journal {
		switch e.kind {
		case opUpsert:
			c.upsert(e.event)
		case opDelete:
			c.remove(e.id)
		}
	}
	appLog.Info("calsync: events displayed",
		"window", req.Window.String(),
		"events", len(events),
		"replayed", len(journal),
	)
	return true
}

// Loaded replaces the displayed set with events pushed by the authority.
func (c *Controller) Loaded(events []model.WireEvent) {
	if c.inFlight {
		// The pushed set is at least as fresh as the outstanding reply,
		// which is dropped when it arrives.
		c.generation++
		c.inFlight = false
		c.journal = nil
	}
	c.replace(c.transform.Events(events), c.widget.Window())
}

func (c *Controller) replace(events []model.Event, w model.Window) {
	c.sources = make(map[string]model.Event, len(events))
	for _, ev := range events {
		c.sources[ev.ID] = ev
	}
	c.widget.ReplaceAll(c.expander.Expand(events, w))
}

// Created adds a newly created event to the widget.
func (c *Controller) Created(w model.WireEvent) {
	ev := c.transform.Event(w)
	c.record(journalEntry{kind: opUpsert, event: ev})
	// A created push may repeat an event already displayed; replace it.
	c.upsert(ev)
}

// Updated replaces every displayed item of the event with its new version.
func (c *Controller) Updated(w model.WireEvent) {
	ev := c.transform.Event(w)
	c.record(journalEntry{kind: opUpsert, event: ev})
	c.upsert(ev)
}

// Deleted removes the event and its occurrences. Unknown ids are ignored.
func (c *Controller) Deleted(id string) {
	c.record(journalEntry{kind: opDelete, id: id})
	c.remove(id)
}

// FilterChanged records the new filter and refetches the current window.
func (c *Controller) FilterChanged(filter string) FetchRequest {
	c.filter = filter
	return c.Refetch()
}

func (c *Controller) record(e journalEntry) {
	if c.inFlight {
		c.journal = append(c.journal, e)
	}
}

func (c *Controller) upsert(ev model.Event) {
	c.widget.RemoveSeries(ev.ID)
	c.sources[ev.ID] = ev
	c.widget.Add(c.expander.Expand([]model.Event{ev}, c.widget.Window())...)
}

func (c *Controller) remove(id string) {
	delete(c.sources, id)
	if n := c.widget.RemoveSeries(id); n == 0 {
		appLog.Debug("calsync: delete for event not displayed", "id", id)
	}
}

// resolveID maps a displayed item identifier to its stored event's identifier.
func (c *Controller) resolveID(itemID string) string {
	if it, ok := c.widget.Get(itemID); ok {
		return it.SourceID()
	}
	return itemID
}

// DateClick forwards a click on an empty date.
func (c *Controller) DateClick(ctx context.Context, date time.Time, allDay bool) error {
	if d := c.gate.Check(DateClick); !d.Allowed {
		return c.denied(DateClick, d, nil)
	}
	return c.push(ctx, protocol.TypeDateClicked, protocol.DateClicked{
		Date:   model.WireTimeOf(date),
		AllDay: allDay,
	})
}

// RangeSelect forwards a selected date range.
func (c *Controller) RangeSelect(ctx context.Context, start, end time.Time, allDay bool) error {
	if d := c.gate.Check(RangeSelect); !d.Allowed {
		return c.denied(RangeSelect, d, nil)
	}
	return c.push(ctx, protocol.TypeDateRangeSelected, protocol.DateRangeSelected{
		Start:  model.WireTimeOf(start),
		End:    model.WireTimeOf(end),
		AllDay: allDay,
	})
}

// EventClick reports which stored event was clicked. Viewing is not a
// mutation, so it is not gated.
func (c *Controller) EventClick(ctx context.Context, itemID string) error {
	return c.push(ctx, protocol.TypeEventClicked, protocol.EventClicked{ID: c.resolveID(itemID)})
}

// EventDrop forwards a drag-move. It is reverted without admin capability
// or when the authority cannot be reached.
func (c *Controller) EventDrop(ctx context.Context, d Drop) error {
	if dec := c.gate.Check(EventDrop); !dec.Allowed {
		return c.denied(EventDrop, dec, d.Revert)
	}
	err := c.push(ctx, protocol.TypeEventDropped, protocol.EventDropped{
		ID:     c.resolveID(d.ItemID),
		Start:  model.WireTimeOf(d.Start),
		End:    model.WireTimeOf(d.End),
		AllDay: d.AllDay,
	})
	if err != nil && d.Revert != nil {
		d.Revert()
	}
	return err
}

// EventResize forwards a resize. It is reverted without admin capability
// or when the authority cannot be reached.
func (c *Controller) EventResize(ctx context.Context, r Resize) error {
	if dec := c.gate.Check(EventResize); !dec.Allowed {
		return c.denied(EventResize, dec, r.Revert)
	}
	err := c.push(ctx, protocol.TypeEventResized, protocol.EventResized{
		ID:    c.resolveID(r.ItemID),
		Start: model.WireTimeOf(r.Start),
		End:   model.WireTimeOf(r.End),
	})
	if err != nil && r.Revert != nil {
		r.Revert()
	}
	return err
}

// Navigated reports the view title after a view command ran.
func (c *Controller) Navigated(ctx context.Context, title string) error {
	return c.push(ctx, protocol.TypeCalendarNavigated, protocol.CalendarNavigated{Title: title})
}

func (c *Controller) denied(i Interaction, d Decision, revert func()) error {
	if d.Revert && revert != nil {
		revert()
	}
	appLog.Debug("calsync: interaction denied", "interaction", i.String(), "reverted", d.Revert)
	return fmt.Errorf("%s: %w", i, ErrUnauthorized)
}

func (c *Controller) push(ctx context.Context, typ string, payload any) error {
	if err := c.pusher.Push(ctx, typ, payload); err != nil {
		appLog.Error("calsync: push failed", err, "type", typ)
		return fmt.Errorf("calsync: push %s: %w", typ, err)
	}
	return nil
}
