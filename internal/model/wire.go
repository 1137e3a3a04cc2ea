package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// WireEvent is the event record as sent by the remote authority.
type WireEvent struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	StartTime         WireTime  `json:"start_time"`
	EndTime           WireTime  `json:"end_time"`
	AllDay            bool      `json:"all_day"`
	Color             string    `json:"color"`
	Description       *string   `json:"description,omitempty"`
	Location          *string   `json:"location,omitempty"`
	EventType         *string   `json:"event_type,omitempty"`
	IsRecurring       *bool     `json:"is_recurring,omitempty"`
	RecurrenceRule    *string   `json:"recurrence_rule,omitempty"`
	RecurrenceEndDate *WireTime `json:"recurrence_end_date,omitempty"`
}

// WireTime is a timestamp as found on the wire. The authority sends RFC 3339
// values, offset-less local date-times, or bare dates.
type WireTime struct {
	Time time.Time
	// Floating is set when the value carried no offset; Time then holds the
	// wall clock in UTC and must be re-anchored in the display location.
	Floating bool
	// DateOnly is set for "2006-01-02" values.
	DateOnly bool
}

var floatingLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseWireTime parses the formats accepted on the wire.
func ParseWireTime(s string) (WireTime, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return WireTime{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return WireTime{Time: t}, nil
	}
	for _, layout := range floatingLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return WireTime{Time: t, Floating: true}, nil
		}
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return WireTime{Time: t, Floating: true, DateOnly: true}, nil
	}
	return WireTime{}, fmt.Errorf("wire time %q: unsupported format", s)
}

// WireTimeOf wraps an absolute instant.
func WireTimeOf(t time.Time) WireTime {
	return WireTime{Time: t}
}

func (w WireTime) IsZero() bool {
	return w.Time.IsZero()
}

// In resolves w to an instant, anchoring floating values in loc.
func (w WireTime) In(loc *time.Location) time.Time {
	if w.Time.IsZero() {
		return time.Time{}
	}
	if !w.Floating {
		return w.Time
	}
	if loc == nil {
		loc = time.Local
	}
	t := w.Time
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

func (w WireTime) String() string {
	switch {
	case w.Time.IsZero():
		return ""
	case w.DateOnly:
		return w.Time.Format(time.DateOnly)
	case w.Floating:
		return w.Time.Format("2006-01-02T15:04:05")
	default:
		return w.Time.Format(time.RFC3339)
	}
}

func (w WireTime) MarshalJSON() ([]byte, error) {
	if w.Time.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(w.String())
}

func (w *WireTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*w = WireTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseWireTime(s)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
