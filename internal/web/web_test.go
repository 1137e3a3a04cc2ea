package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evcal/internal/calsync"
	"evcal/internal/config"
	appLog "evcal/internal/log"
	"evcal/internal/model"
)

func init() {
	appLog.SetOutput(io.Discard)
}

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeCalendar records calls and returns canned state.
type fakeCalendar struct {
	snap    calsync.Snapshot
	sources []model.Event
	err     error
	calls   []string
}

func (f *fakeCalendar) record(format string, args ...any) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeCalendar) Snapshot(context.Context) (calsync.Snapshot, error) {
	return f.snap, nil
}

func (f *fakeCalendar) Sources(context.Context) ([]model.Event, error) {
	return f.sources, nil
}

func (f *fakeCalendar) Command(_ context.Context, cmd string) (bool, error) {
	err := f.record("command %s", cmd)
	return cmd == "week", err
}

func (f *fakeCalendar) Refetch(context.Context) error {
	return f.record("refetch")
}

func (f *fakeCalendar) DateClick(_ context.Context, date time.Time, allDay bool) error {
	return f.record("date_click %s %t", date.Format(time.RFC3339), allDay)
}

func (f *fakeCalendar) RangeSelect(_ context.Context, start, end time.Time, allDay bool) error {
	return f.record("range_select %s %s %t", start.Format(time.RFC3339), end.Format(time.RFC3339), allDay)
}

func (f *fakeCalendar) EventClick(_ context.Context, itemID string) error {
	return f.record("event_click %s", itemID)
}

func (f *fakeCalendar) EventDrop(_ context.Context, itemID string, start, end time.Time, allDay bool) error {
	return f.record("event_drop %s %s %s %t", itemID, start.Format(time.RFC3339), end.Format(time.RFC3339), allDay)
}

func (f *fakeCalendar) EventResize(_ context.Context, itemID string, end time.Time) error {
	return f.record("event_resize %s %s", itemID, end.Format(time.RFC3339))
}

func newServer(t *testing.T, cal *fakeCalendar, mutate func(*config.Config)) http.Handler {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	loc := time.FixedZone("UTC+1", 3600)
	return NewServer(cfg, cal, loc).Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newServer(t, &fakeCalendar{}, nil)
	rec := do(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestEvents(t *testing.T) {
	cal := &fakeCalendar{snap: calsync.Snapshot{
		Title:  "January 2024",
		Window: model.Window{Start: jan1, End: jan1.AddDate(0, 0, 42)},
		Items: []model.Event{
			{ID: "E_1", OriginalID: "E", Title: "standup", Start: jan1.Add(9 * time.Hour), End: jan1.Add(10 * time.Hour), IsInstance: true},
			{ID: "a", Title: "lunch", Start: jan1.Add(12 * time.Hour), End: jan1.Add(13 * time.Hour)},
		},
		Err: errors.New("calsync: fetch failed"),
	}}
	h := newServer(t, cal, func(c *config.Config) { c.IsAdmin = true })

	rec := do(h, http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp eventsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "January 2024", resp.Title)
	assert.True(t, resp.IsAdmin)
	assert.Equal(t, "UTC+1", resp.Timezone)
	assert.Equal(t, "calsync: fetch failed", resp.Error)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "E", resp.Items[0].OriginalID)
	assert.True(t, resp.Items[0].IsInstance)
	assert.Equal(t, "a", resp.Items[1].OriginalID)
}

func TestICalDownload(t *testing.T) {
	cal := &fakeCalendar{sources: []model.Event{
		{ID: "E", Title: "standup", Start: jan1.Add(9 * time.Hour), End: jan1.Add(10 * time.Hour), IsRecurring: true, RecurrenceRule: "FREQ=DAILY"},
	}}
	h := newServer(t, cal, nil)

	rec := do(h, http.MethodGet, "/api/calendar.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "calendar.ics")
	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "UID:E")
	assert.Contains(t, body, "RRULE:FREQ=DAILY")
}

func TestCommand(t *testing.T) {
	cal := &fakeCalendar{snap: calsync.Snapshot{Title: "Jan 8 – 14, 2024"}}
	h := newServer(t, cal, nil)

	rec := do(h, http.MethodPost, "/api/command", `{"command":"week"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp commandResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Ran)
	assert.Equal(t, "Jan 8 – 14, 2024", resp.Title)

	rec = do(h, http.MethodPost, "/api/command", `{"command":null}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodPost, "/api/command", `{"cmd":"week"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, []string{"command week", "command null"}, cal.calls)

	rec = do(h, http.MethodGet, "/api/command", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRefresh(t *testing.T) {
	cal := &fakeCalendar{}
	h := newServer(t, cal, nil)
	rec := do(h, http.MethodPost, "/api/refresh", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"refetch"}, cal.calls)
}

func TestInteractions(t *testing.T) {
	tests := []struct {
		kind   string
		body   string
		status int
		call   string
	}{
		{"date_click", `{"date":"2024-01-10","all_day":true}`, http.StatusNoContent, "date_click 2024-01-10T00:00:00+01:00 true"},
		{"date_click", `{}`, http.StatusBadRequest, ""},
		{"range_select", `{"start":"2024-01-10T09:00:00Z","end":"2024-01-10T10:00:00Z"}`, http.StatusNoContent, "range_select 2024-01-10T09:00:00Z 2024-01-10T10:00:00Z false"},
		{"range_select", `{"start":"2024-01-10T09:00:00Z","end":"2024-01-09T10:00:00Z"}`, http.StatusBadRequest, ""},
		{"event_click", `{"id":"E_3"}`, http.StatusNoContent, "event_click E_3"},
		{"event_drop", `{"id":"E_1","start":"2024-01-11T09:00:00","end":"2024-01-11T10:00:00"}`, http.StatusNoContent, "event_drop E_1 2024-01-11T09:00:00+01:00 2024-01-11T10:00:00+01:00 false"},
		{"event_resize", `{"id":"E_1","end":"2024-01-08T11:00:00Z"}`, http.StatusNoContent, "event_resize E_1 2024-01-08T11:00:00Z"},
		{"event_resize", `{"id":"E_1"}`, http.StatusBadRequest, ""},
		{"teleport", `{}`, http.StatusNotFound, ""},
		{"event_click", `not json`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			cal := &fakeCalendar{}
			h := newServer(t, cal, nil)
			rec := do(h, http.MethodPost, "/api/interactions/"+tt.kind, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.call == "" {
				assert.Empty(t, cal.calls)
			} else {
				assert.Equal(t, []string{tt.call}, cal.calls)
			}
		})
	}
}

func TestInteractionErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"denied", fmt.Errorf("event_drop: %w", calsync.ErrUnauthorized), http.StatusForbidden},
		{"not displayed", calsync.ErrItemNotFound, http.StatusNotFound},
		{"session closed", calsync.ErrSessionClosed, http.StatusServiceUnavailable},
		{"push failed", errors.New("calsync: push event_dropped: broken pipe"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newServer(t, &fakeCalendar{err: tt.err}, nil)
			rec := do(h, http.MethodPost, "/api/interactions/event_drop", `{"id":"E_1","start":"2024-01-11T09:00:00Z"}`)
			assert.Equal(t, tt.status, rec.Code)

			var resp struct {
				Error string `json:"error"`
			}
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tt.err.Error(), resp.Error)
		})
	}
}

func TestInteractions_ViewerClicksAreIgnored(t *testing.T) {
	tests := []struct {
		kind   string
		body   string
		status int
	}{
		{"date_click", `{"date":"2024-01-10"}`, http.StatusNoContent},
		{"range_select", `{"start":"2024-01-10T09:00:00Z","end":"2024-01-10T10:00:00Z"}`, http.StatusNoContent},
		{"event_drop", `{"id":"E_1","start":"2024-01-11T09:00:00Z"}`, http.StatusForbidden},
		{"event_resize", `{"id":"E_1","end":"2024-01-08T11:00:00Z"}`, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			cal := &fakeCalendar{err: fmt.Errorf("%s: %w", tt.kind, calsync.ErrUnauthorized)}
			h := newServer(t, cal, nil)
			rec := do(h, http.MethodPost, "/api/interactions/"+tt.kind, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Len(t, cal.calls, 1)
		})
	}
}

func TestBasicAuth(t *testing.T) {
	h := newServer(t, &fakeCalendar{}, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	})

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/health", "").Code)

	rec := do(h, http.MethodGet, "/api/events", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req.SetBasicAuth("admin", "pw")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
