// Package protocol defines the JSON messages exchanged with the remote
// authority. Every frame is an Envelope; requests carry a Ref that the
// matching reply echoes.
package protocol

import (
	"encoding/json"
	"fmt"

	"evcal/internal/model"
)

// Requests and replies.
const (
	TypeFetchEvents = "fetch_events"
	TypeReply       = "reply"
)

// Pushes from the authority.
const (
	TypeEventsLoaded  = "events_loaded"
	TypeEventCreated  = "event_created"
	TypeEventUpdated  = "event_updated"
	TypeEventDeleted  = "event_deleted"
	TypeFilterChanged = "filter_changed"
	TypeViewCommand   = "view_command"
)

// Pushes to the authority.
const (
	TypeDateClicked       = "date_clicked"
	TypeDateRangeSelected = "date_range_selected"
	TypeEventClicked      = "event_clicked"
	TypeEventDropped      = "event_dropped"
	TypeEventResized      = "event_resized"
	TypeCalendarNavigated = "calendar_navigated"
)

type Envelope struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(typ, ref string, payload any) (Envelope, error) {
	env := Envelope{Type: typ, Ref: ref}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: encode %s: %w", typ, err)
	}
	env.Payload = raw
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("protocol: %s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("protocol: decode %s: %w", e.Type, err)
	}
	return nil
}

type FetchEventsRequest struct {
	Start  model.WireTime `json:"start"`
	End    model.WireTime `json:"end"`
	Filter *string        `json:"filter"`
}

type EventsPayload struct {
	Events []model.WireEvent `json:"events"`
}

type EventPayload struct {
	Event model.WireEvent `json:"event"`
}

type DeletedPayload struct {
	ID string `json:"id"`
}

type FilterPayload struct {
	Filter *string `json:"filter"`
}

type CommandPayload struct {
	Command *string `json:"command"`
}

type DateClicked struct {
	Date   model.WireTime `json:"date"`
	AllDay bool           `json:"allDay"`
}

type DateRangeSelected struct {
	Start  model.WireTime `json:"start"`
	End    model.WireTime `json:"end"`
	AllDay bool           `json:"allDay"`
}

type EventClicked struct {
	ID string `json:"id"`
}

type EventDropped struct {
	ID     string         `json:"id"`
	Start  model.WireTime `json:"start"`
	End    model.WireTime `json:"end"`
	AllDay bool           `json:"allDay"`
}

type EventResized struct {
	ID    string         `json:"id"`
	Start model.WireTime `json:"start"`
	End   model.WireTime `json:"end"`
}

type CalendarNavigated struct {
	Title string `json:"title"`
}
