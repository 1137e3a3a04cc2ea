package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"evcal/internal/model"
)

// Export serializes canonical events as an iCalendar document. Recurring
// events keep their rule; a recurrence end not already in the rule is added
// as UNTIL.
func Export(name string, events []model.Event, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//evcal//calendar export//EN")
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		if ev.IsInstance {
			continue
		}
		ve := cal.AddEvent(ev.SourceID())
		ve.SetDtStampTime(now)
		if ev.AllDay {
			ve.SetAllDayStartAt(ev.Start)
			ve.SetAllDayEndAt(ev.End)
		} else {
			ve.SetStartAt(ev.Start)
			ve.SetEndAt(ev.End)
		}
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.EventType != "" {
			ve.SetProperty(ical.ComponentPropertyCategories, ev.EventType)
		}
		if ev.Color != "" {
			ve.SetProperty(propertyColor, ev.Color)
		}
		if rule := exportRule(ev); rule != "" {
			ve.SetProperty(ical.ComponentPropertyRrule, rule)
		}
	}
	return cal.Serialize()
}

func exportRule(ev model.Event) string {
	if !ev.IsRecurring || ev.RecurrenceRule == "" {
		return ""
	}
	rule := strings.TrimPrefix(strings.TrimSpace(ev.RecurrenceRule), "RRULE:")
	upper := strings.ToUpper(rule)
	// UNTIL and COUNT are mutually exclusive.
	if ev.RecurrenceEnd.IsZero() || strings.Contains(upper, "UNTIL=") || strings.Contains(upper, "COUNT=") {
		return rule
	}
	return rule + ";UNTIL=" + ev.RecurrenceEnd.UTC().Format(layoutUTC)
}
