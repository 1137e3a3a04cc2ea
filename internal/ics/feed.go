package ics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"evcal/internal/calsync"
	appLog "evcal/internal/log"
	"evcal/internal/model"
	"evcal/internal/protocol"
	"evcal/internal/recurrence"
)

var ErrReadOnly = errors.New("ics: feed is read-only")

// Feed serves ICS subscriptions as a remote authority. Every fetch
// downloads the sources (conditionally, see Fetcher) and returns the events
// visible in the requested window. The feed never pushes.
type Feed struct {
	fetcher *Fetcher
	sources []Source
	loc     *time.Location
}

var _ calsync.Authority = (*Feed)(nil)

// NewFeed returns a Feed over sources. Floating times are resolved in loc
// for window filtering.
func NewFeed(fetcher *Fetcher, sources []Source, loc *time.Location) *Feed {
	if loc == nil {
		loc = time.Local
	}
	return &Feed{fetcher: fetcher, sources: sources, loc: loc}
}

// FetchEvents returns the events of all sources that overlap req's window
// and match its filter. It fails only when no source could be read.
func (f *Feed) FetchEvents(ctx context.Context, req calsync.FetchRequest) ([]model.WireEvent, error) {
	results, errs := f.fetcher.FetchAll(ctx, f.sources)

	var (
		out []model.WireEvent
		ok  int
	)
	for _, res := range results {
		events, err := Parse(res.Source, res.Body)
		if err != nil {
			appLog.Error("ics: parse failed", err, "source", res.Source.ID)
			errs = append(errs, err)
			continue
		}
		ok++
		for _, ev := range events {
			if f.visible(ev, req.Window) && matches(ev, res.Source, req.Filter) {
				out = append(out, ev)
			}
		}
	}

	if ok == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

func (f *Feed) visible(ev model.WireEvent, w model.Window) bool {
	start := ev.StartTime.In(f.loc)
	end := ev.EndTime.In(f.loc)
	if ev.RecurrenceRule == nil {
		return w.Overlaps(start, end)
	}

	if !start.Before(w.End) {
		return false
	}
	rule, err := recurrence.Parse(*ev.RecurrenceRule, start, time.Time{})
	if err != nil {
		// Pass it through; expansion reports the bad rule.
		return true
	}
	until := rule.Until()
	return until.IsZero() || !until.Before(w.Start)
}

// matches applies the server-side filter: an empty filter matches all, any
// other value matches the source id or the event type, case-insensitively.
func matches(ev model.WireEvent, src Source, filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	if strings.EqualFold(filter, src.ID) {
		return true
	}
	return ev.EventType != nil && strings.EqualFold(filter, *ev.EventType)
}

// Push accepts the view notifications and rejects every mutation.
func (f *Feed) Push(_ context.Context, typ string, _ any) error {
	switch typ {
	case protocol.TypeCalendarNavigated, protocol.TypeEventClicked:
		appLog.Debug("ics: notification ignored", "type", typ)
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrReadOnly, typ)
	}
}
