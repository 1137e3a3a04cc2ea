package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "evcal/internal/log"
	"evcal/internal/model"
)

var ErrEmptyBody = errors.New("ics: empty body")

const (
	layoutDate      = "20060102"
	layoutLocal     = "20060102T150405"
	layoutUTC       = "20060102T150405Z"
	propertyColor   = ical.ComponentProperty("COLOR")
	propertyRecurID = ical.ComponentProperty("RECURRENCE-ID")
)

// Parse maps the VEVENTs of an ICS payload onto wire events. Event ids are
// the UID prefixed with the source id. Single-instance overrides
// (RECURRENCE-ID) and cancelled events are skipped; a VEVENT that cannot be
// mapped is logged and skipped.
func Parse(src Source, body []byte) ([]model.WireEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse %s: %w", src.ID, err)
	}

	var (
		events  []model.WireEvent
		skipped int
	)
	for _, ve := range cal.Events() {
		if ve.GetProperty(propertyRecurID) != nil || isCancelled(ve) {
			skipped++
			continue
		}
		ev, err := parseVEvent(src, ve)
		if err != nil {
			appLog.Warn("ics: skipping vevent", "source", src.ID, "err", err.Error())
			skipped++
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics: parsed", "source", src.ID, "events", len(events), "skipped", skipped)
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (model.WireEvent, error) {
	uid := value(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return model.WireEvent{}, errors.New("missing UID")
	}

	start, err := propTime(ve, ical.ComponentPropertyDtStart)
	if err != nil {
		return model.WireEvent{}, fmt.Errorf("%s: DTSTART: %w", uid, err)
	}
	if start.IsZero() {
		return model.WireEvent{}, fmt.Errorf("%s: missing DTSTART", uid)
	}
	end, err := propTime(ve, ical.ComponentPropertyDtEnd)
	if err != nil {
		return model.WireEvent{}, fmt.Errorf("%s: DTEND: %w", uid, err)
	}
	if end.IsZero() {
		// Without DTEND an all-day event lasts one day, a timed one is instantaneous.
		end = start
		if start.DateOnly {
			end.Time = start.Time.AddDate(0, 0, 1)
		}
	}

	ev := model.WireEvent{
		ID:        eventID(src, uid),
		Title:     value(ve, ical.ComponentPropertySummary),
		StartTime: start,
		EndTime:   end,
		AllDay:    start.DateOnly,
		Color:     value(ve, propertyColor),
	}
	ev.Description = optional(value(ve, ical.ComponentPropertyDescription))
	ev.Location = optional(value(ve, ical.ComponentPropertyLocation))
	if cats := value(ve, ical.ComponentPropertyCategories); cats != "" {
		first, _, _ := strings.Cut(cats, ",")
		ev.EventType = optional(strings.TrimSpace(first))
	}
	if rule := value(ve, ical.ComponentPropertyRrule); rule != "" {
		recurring := true
		ev.IsRecurring = &recurring
		ev.RecurrenceRule = &rule
	}
	return ev, nil
}

func eventID(src Source, uid string) string {
	if src.ID == "" {
		return uid
	}
	return src.ID + "/" + uid
}

func isCancelled(ve *ical.VEvent) bool {
	return strings.EqualFold(value(ve, ical.ComponentPropertyStatus), "CANCELLED")
}

func value(ve *ical.VEvent, p ical.ComponentProperty) string {
	prop := ve.GetProperty(p)
	if prop == nil {
		return ""
	}
	return strings.TrimSpace(prop.Value)
}

func param(prop *ical.IANAProperty, name string) string {
	if vs, ok := prop.ICalParameters[name]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// propTime reads a DATE or DATE-TIME property. Dates and values without
// offset or TZID are floating; TZID values resolve to an instant. An absent
// property yields a zero WireTime.
func propTime(ve *ical.VEvent, p ical.ComponentProperty) (model.WireTime, error) {
	prop := ve.GetProperty(p)
	if prop == nil {
		return model.WireTime{}, nil
	}
	v := strings.TrimSpace(prop.Value)
	tzid := param(prop, "TZID")

	switch {
	case strings.EqualFold(param(prop, "VALUE"), "DATE") || !strings.Contains(v, "T"):
		t, err := time.Parse(layoutDate, v)
		if err != nil {
			return model.WireTime{}, err
		}
		return model.WireTime{Time: t, Floating: true, DateOnly: true}, nil

	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse(layoutUTC, v)
		if err != nil {
			return model.WireTime{}, err
		}
		return model.WireTimeOf(t), nil

	case tzid != "":
		loc, err := time.LoadLocation(tzid)
		if err != nil {
			appLog.Warn("ics: unknown TZID, treating as floating", "tzid", tzid)
			break
		}
		t, err := time.ParseInLocation(layoutLocal, v, loc)
		if err != nil {
			return model.WireTime{}, err
		}
		return model.WireTimeOf(t), nil
	}

	t, err := time.Parse(layoutLocal, v)
	if err != nil {
		return model.WireTime{}, err
	}
	return model.WireTime{Time: t, Floating: true}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
