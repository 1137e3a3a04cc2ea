package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evcal/internal/model"
)

func TestNewEnvelope(t *testing.T) {
	filter := "work"
	env, err := NewEnvelope(TypeFetchEvents, "ref-1", FetchEventsRequest{
		Start:  model.WireTimeOf(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		End:    model.WireTimeOf(time.Date(2024, 2, 12, 0, 0, 0, 0, time.UTC)),
		Filter: &filter,
	})
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "fetch_events",
		"ref": "ref-1",
		"payload": {"start": "2024-01-01T00:00:00Z", "end": "2024-02-12T00:00:00Z", "filter": "work"}
	}`, string(raw))

	env, err = NewEnvelope(TypeFetchEvents, "", FetchEventsRequest{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"start": null, "end": null, "filter": null}`, string(env.Payload))

	env, err = NewEnvelope(TypeReply, "ref-1", nil)
	require.NoError(t, err)
	assert.Empty(t, env.Payload)
}

func TestEnvelope_Decode(t *testing.T) {
	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(`{
		"type": "event_created",
		"payload": {"event": {
			"id": "a",
			"title": "Lunch",
			"start_time": "2024-01-10T12:00:00",
			"end_time": "2024-01-10T13:00:00",
			"all_day": false,
			"color": "#ff0000",
			"is_recurring": true,
			"recurrence_rule": "FREQ=DAILY",
			"recurrence_end_date": "2024-01-20"
		}}
	}`), &env))

	var p EventPayload
	require.NoError(t, env.Decode(&p))
	assert.Equal(t, "a", p.Event.ID)
	assert.True(t, p.Event.StartTime.Floating)
	require.NotNil(t, p.Event.RecurrenceEndDate)
	assert.True(t, p.Event.RecurrenceEndDate.DateOnly)
	assert.Nil(t, p.Event.Description)

	assert.Error(t, Envelope{Type: TypeEventDeleted}.Decode(&DeletedPayload{}))
	assert.Error(t, Envelope{Type: TypeEventDeleted, Payload: json.RawMessage(`{"id": 3}`)}.Decode(&DeletedPayload{}))
}

func TestCommandPayload_Null(t *testing.T) {
	var p CommandPayload
	require.NoError(t, json.Unmarshal([]byte(`{"command": null}`), &p))
	assert.Nil(t, p.Command)

	require.NoError(t, json.Unmarshal([]byte(`{"command": "today"}`), &p))
	require.NotNil(t, p.Command)
	assert.Equal(t, "today", *p.Command)
}
