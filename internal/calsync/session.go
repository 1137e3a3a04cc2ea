package calsync

import (
	"context"
	"errors"
	"time"

	"evcal/internal/command"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/protocol"
)

const inboxSize = 64

var (
	ErrSessionClosed = errors.New("calsync: session closed")
	ErrItemNotFound  = errors.New("calsync: item not displayed")
)

// Authority is the remote event store.
type Authority interface {
	FetchEvents(ctx context.Context, req FetchRequest) ([]model.WireEvent, error)
	Pusher
}

// Display is the full widget surface a Session drives: the synced displayed
// set, command navigation and the drag/resize primitives.
type Display interface {
	Widget
	command.Navigator
	Items() []model.Event
	Err() error
	Move(id string, start, end time.Time, allDay bool) (revert func(), err error)
	Resize(id string, end time.Time) (revert func(), err error)
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Options
	// Views maps enabled view commands ("month", "week", ...) to widget views.
	Views map[string]string
}

// Snapshot is a consistent copy of what the widget shows.
type Snapshot struct {
	Items   []model.Event
	Window  model.Window
	Title   string
	Filter  string
	Pending bool
	Err     error
}

// Session is the event loop owning a Controller and its Display. Every
// handler runs on the loop goroutine, so no state needs locking; fetches
// run on helper goroutines and post their reply back to the loop.
type Session struct {
	display  Display
	auth     Authority
	ctrl     *Controller
	commands *command.Channel

	inbox chan func(ctx context.Context)
	done  chan struct{}
	// runCtx is set once Run starts and only read on the loop.
	runCtx context.Context
}

func NewSession(d Display, auth Authority, opts SessionOptions) *Session {
	s := &Session{
		display: d,
		auth:    auth,
		inbox:   make(chan func(ctx context.Context), inboxSize),
		done:    make(chan struct{}),
	}
	s.ctrl = NewController(d, auth, s, opts.Options)
	s.commands = command.New(d, opts.Views, func(title string) {
		_ = s.ctrl.Navigated(s.runCtx, title)
	})
	return s
}

// Run processes handlers until ctx is canceled. It issues the initial fetch
// for the widget's window.
func (s *Session) Run(ctx context.Context) error {
	s.runCtx = ctx
	defer close(s.done)

	s.ctrl.WindowChanged()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.inbox:
			fn(ctx)
		}
	}
}

// StartFetch runs the authority request off the loop and posts the reply
// back. It is called by the Controller on the loop.
func (s *Session) StartFetch(req FetchRequest) {
	ctx := s.runCtx
	go func() {
		events, err := s.auth.FetchEvents(ctx, req)
		_ = s.post(ctx, func(context.Context) {
			s.ctrl.CompleteFetch(req, events, err)
		})
	}()
}

func (s *Session) post(ctx context.Context, fn func(ctx context.Context)) error {
	select {
	case s.inbox <- fn:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the loop and waits for it to return.
func (s *Session) call(ctx context.Context, fn func(ctx context.Context)) error {
	finished := make(chan struct{})
	err := s.post(ctx, func(loopCtx context.Context) {
		defer close(finished)
		fn(loopCtx)
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleEnvelope applies a push from the authority. It returns once the push
// is queued on the loop.
func (s *Session) HandleEnvelope(ctx context.Context, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeEventsLoaded:
		var p protocol.EventsPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		return s.post(ctx, func(context.Context) { s.ctrl.Loaded(p.Events) })

	case protocol.TypeEventCreated:
		var p protocol.EventPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		return s.post(ctx, func(context.Context) { s.ctrl.Created(p.Event) })

	case protocol.TypeEventUpdated:
		var p protocol.EventPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		return s.post(ctx, func(context.Context) { s.ctrl.Updated(p.Event) })

	case protocol.TypeEventDeleted:
		var p protocol.DeletedPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		return s.post(ctx, func(context.Context) { s.ctrl.Deleted(p.ID) })

	case protocol.TypeFilterChanged:
		var p protocol.FilterPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		filter := ""
		if p.Filter != nil {
			filter = *p.Filter
		}
		return s.post(ctx, func(context.Context) { s.ctrl.FilterChanged(filter) })

	case protocol.TypeViewCommand:
		var p protocol.CommandPayload
		if err := env.Decode(&p); err != nil {
			return err
		}
		cmd := "null"
		if p.Command != nil {
			cmd = *p.Command
		}
		return s.post(ctx, func(context.Context) { s.applyCommand(cmd) })

	default:
		appLog.Warn("calsync: ignoring unknown push", "type", env.Type)
		return nil
	}
}

func (s *Session) applyCommand(cmd string) bool {
	ran := s.commands.Set(cmd)
	if ran {
		s.ctrl.WindowChanged()
	}
	return ran
}

// Command sets the view command slot and waits for it to be processed. It
// reports whether a navigation ran.
func (s *Session) Command(ctx context.Context, cmd string) (bool, error) {
	var ran bool
	err := s.call(ctx, func(context.Context) { ran = s.applyCommand(cmd) })
	return ran, err
}

// Refetch fetches the current window again (manual retry, scheduled refresh).
func (s *Session) Refetch(ctx context.Context) error {
	return s.call(ctx, func(context.Context) { s.ctrl.Refetch() })
}

// Snapshot returns a copy of the widget state.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.call(ctx, func(context.Context) {
		snap = Snapshot{
			Items:   s.display.Items(),
			Window:  s.display.Window(),
			Title:   s.display.Title(),
			Filter:  s.ctrl.Filter(),
			Pending: s.ctrl.Pending(),
			Err:     s.display.Err(),
		}
	})
	return snap, err
}

// Sources returns the canonical events known to the controller.
func (s *Session) Sources(ctx context.Context) ([]model.Event, error) {
	var out []model.Event
	err := s.call(ctx, func(context.Context) { out = s.ctrl.Sources() })
	return out, err
}

// DateClick forwards a date click through the admin gate.
func (s *Session) DateClick(ctx context.Context, date time.Time, allDay bool) error {
	return s.interact(ctx, func(loopCtx context.Context) error {
		return s.ctrl.DateClick(loopCtx, date, allDay)
	})
}

// RangeSelect forwards a range selection through the admin gate.
func (s *Session) RangeSelect(ctx context.Context, start, end time.Time, allDay bool) error {
	return s.interact(ctx, func(loopCtx context.Context) error {
		return s.ctrl.RangeSelect(loopCtx, start, end, allDay)
	})
}

// EventClick reports a click on a displayed item.
func (s *Session) EventClick(ctx context.Context, itemID string) error {
	return s.interact(ctx, func(loopCtx context.Context) error {
		return s.ctrl.EventClick(loopCtx, itemID)
	})
}

// EventDrop moves the item on the widget, then forwards the move; without
// admin capability the move is reverted.
func (s *Session) EventDrop(ctx context.Context, itemID string, start, end time.Time, allDay bool) error {
	return s.interact(ctx, func(loopCtx context.Context) error {
		if _, ok := s.display.Get(itemID); !ok {
			return ErrItemNotFound
		}
		revert, err := s.display.Move(itemID, start, end, allDay)
		if err != nil {
			return err
		}
		return s.ctrl.EventDrop(loopCtx, Drop{ItemID: itemID, Start: start, End: end, AllDay: allDay, Revert: revert})
	})
}

// EventResize resizes the item on the widget, then forwards the change;
// without admin capability the resize is reverted.
func (s *Session) EventResize(ctx context.Context, itemID string, end time.Time) error {
	return s.interact(ctx, func(loopCtx context.Context) error {
		item, ok := s.display.Get(itemID)
		if !ok {
			return ErrItemNotFound
		}
		revert, err := s.display.Resize(itemID, end)
		if err != nil {
			return err
		}
		return s.ctrl.EventResize(loopCtx, Resize{ItemID: itemID, Start: item.Start, End: end, Revert: revert})
	})
}

func (s *Session) interact(ctx context.Context, fn func(ctx context.Context) error) error {
	var result error
	if err := s.call(ctx, func(loopCtx context.Context) { result = fn(loopCtx) }); err != nil {
		return err
	}
	return result
}
