package transform

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evcal/internal/model"
)

func decode(t *testing.T, raw string) model.WireEvent {
	t.Helper()
	var w model.WireEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &w))
	return w
}

func TestTransformer_Event(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	tr := New(seoul)

	t.Run("maps wire fields", func(t *testing.T) {
		ev := tr.Event(decode(t, `{
			"id": "42",
			"title": "Standup",
			"start_time": "2024-01-01T09:00:00Z",
			"end_time": "2024-01-01T09:15:00Z",
			"all_day": false,
			"color": "#06b6d4",
			"description": "daily sync",
			"location": "Room 1",
			"event_type": "meeting",
			"is_recurring": true,
			"recurrence_rule": "FREQ=DAILY",
			"recurrence_end_date": "2024-01-22T09:00:00Z"
		}`))

		assert.Equal(t, "42", ev.ID)
		assert.Equal(t, "42", ev.OriginalID)
		assert.Equal(t, "Standup", ev.Title)
		assert.True(t, ev.Start.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)))
		assert.Equal(t, 15*time.Minute, ev.Duration())
		assert.Equal(t, "#06b6d4", ev.Color)
		assert.Equal(t, "daily sync", ev.Description)
		assert.Equal(t, "Room 1", ev.Location)
		assert.Equal(t, "meeting", ev.EventType)
		assert.True(t, ev.IsRecurring)
		assert.Equal(t, "FREQ=DAILY", ev.RecurrenceRule)
		assert.True(t, ev.RecurrenceEnd.Equal(time.Date(2024, 1, 22, 9, 0, 0, 0, time.UTC)))
		assert.False(t, ev.IsInstance)
	})

	t.Run("absent optional fields", func(t *testing.T) {
		ev := tr.Event(decode(t, `{"id":"1","title":"x","start_time":"2024-01-01T09:00:00Z","end_time":"2024-01-01T10:00:00Z","all_day":true,"color":""}`))
		assert.Empty(t, ev.Description)
		assert.Empty(t, ev.Location)
		assert.Empty(t, ev.EventType)
		assert.False(t, ev.IsRecurring)
		assert.True(t, ev.RecurrenceEnd.IsZero())
		assert.True(t, ev.AllDay)
	})

	t.Run("floating times use transformer location", func(t *testing.T) {
		ev := tr.Event(decode(t, `{"id":"1","title":"x","start_time":"2024-01-01T09:00:00","end_time":"2024-01-01T10:00"}`))
		assert.Equal(t, time.Date(2024, 1, 1, 9, 0, 0, 0, seoul), ev.Start)
		assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, seoul), ev.End)
	})

	t.Run("recurring flag without rule is cleared", func(t *testing.T) {
		ev := tr.Event(decode(t, `{"id":"1","title":"x","start_time":"2024-01-01T09:00:00Z","end_time":"2024-01-01T10:00:00Z","is_recurring":true}`))
		assert.False(t, ev.IsRecurring)
		assert.False(t, ev.Expandable())
	})

	t.Run("date-only recurrence end covers the whole day", func(t *testing.T) {
		ev := tr.Event(decode(t, `{"id":"1","title":"x","start_time":"2024-01-01T09:00:00","end_time":"2024-01-01T10:00:00","is_recurring":true,"recurrence_rule":"FREQ=WEEKLY","recurrence_end_date":"2024-01-22"}`))
		want := time.Date(2024, 1, 23, 0, 0, 0, 0, seoul).Add(-time.Nanosecond)
		assert.Equal(t, want, ev.RecurrenceEnd)
	})

	t.Run("end before start is clamped", func(t *testing.T) {
		ev := tr.Event(decode(t, `{"id":"1","title":"x","start_time":"2024-01-01T09:00:00Z","end_time":"2024-01-01T08:00:00Z"}`))
		assert.True(t, ev.End.Equal(ev.Start))
	})
}

func TestWire(t *testing.T) {
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	ev := model.Event{
		ID:             "7_2",
		OriginalID:     "7",
		Title:          "Gym",
		Start:          start,
		End:            start.Add(time.Hour),
		IsRecurring:    true,
		RecurrenceRule: "FREQ=WEEKLY",
		Location:       "Club",
	}

	w := Wire(ev)
	assert.Equal(t, "7", w.ID)
	require.NotNil(t, w.RecurrenceRule)
	assert.Equal(t, "FREQ=WEEKLY", *w.RecurrenceRule)
	assert.Nil(t, w.Description)
	require.NotNil(t, w.Location)
	assert.Equal(t, "Club", *w.Location)

	back := New(time.UTC).Event(w)
	assert.Equal(t, "7", back.ID)
	assert.True(t, back.Start.Equal(start))
	assert.True(t, back.IsRecurring)
}
