package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"evcal/internal/calsync"
	"evcal/internal/clock"
	"evcal/internal/config"
	"evcal/internal/display"
	"evcal/internal/ics"
	appLog "evcal/internal/log"
	"evcal/internal/model"
)

const maxBodyBytes = 64 << 10

// Calendar is the session surface the API drives.
type Calendar interface {
	Snapshot(ctx context.Context) (calsync.Snapshot, error)
	Sources(ctx context.Context) ([]model.Event, error)
	Command(ctx context.Context, cmd string) (bool, error)
	Refetch(ctx context.Context) error
	DateClick(ctx context.Context, date time.Time, allDay bool) error
	RangeSelect(ctx context.Context, start, end time.Time, allDay bool) error
	EventClick(ctx context.Context, itemID string) error
	EventDrop(ctx context.Context, itemID string, start, end time.Time, allDay bool) error
	EventResize(ctx context.Context, itemID string, end time.Time) error
}

// Server exposes the displayed calendar to a local renderer.
type Server struct {
	cfg   *config.Config
	cal   Calendar
	loc   *time.Location
	clock clock.Clock
	mux   *http.ServeMux
}

func NewServer(cfg *config.Config, cal Calendar, loc *time.Location) *Server {
	if loc == nil {
		loc = time.Local
	}
	s := &Server{
		cfg:   cfg,
		cal:   cal,
		loc:   loc,
		clock: clock.NewSystem(),
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the routes, behind Basic Auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("web: basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Run serves on cfg.Listen until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		appLog.Info("web: listening", "listen", "http://"+s.cfg.Listen)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	appLog.Info("web: stopped")
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards every route except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="evcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/calendar.ics", s.handleICal)
	s.mux.HandleFunc("POST /api/command", s.handleCommand)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("POST /api/interactions/{kind}", s.handleInteraction)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON shape of GET /api/events.
type eventsResponse struct {
	Title      string    `json:"title"`
	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`
	Timezone   string    `json:"timezone"`
	WeekStart  string    `json:"week_start"`
	Views      []string  `json:"views"`
	IsAdmin    bool      `json:"is_admin"`
	Filter     string    `json:"filter,omitempty"`
	Loading    bool      `json:"loading"`
	Error      string    `json:"error,omitempty"`
	Items      []itemDTO `json:"items"`
}

type itemDTO struct {
	ID          string    `json:"id"`
	OriginalID  string    `json:"original_id"`
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
	Color       string    `json:"color,omitempty"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	EventType   string    `json:"event_type,omitempty"`
	IsInstance  bool      `json:"is_instance"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cal.Snapshot(r.Context())
	if err != nil {
		s.writeCalendarError(w, err)
		return
	}

	items := make([]itemDTO, 0, len(snap.Items))
	for _, it := range snap.Items {
		items = append(items, itemDTO{
			ID:          it.ID,
			OriginalID:  it.SourceID(),
			Title:       it.Title,
			Start:       it.Start,
			End:         it.End,
			AllDay:      it.AllDay,
			Color:       it.Color,
			Description: it.Description,
			Location:    it.Location,
			EventType:   it.EventType,
			IsInstance:  it.IsInstance,
		})
	}
	resp := eventsResponse{
		Title:      snap.Title,
		RangeStart: snap.Window.Start,
		RangeEnd:   snap.Window.End,
		Timezone:   s.loc.String(),
		WeekStart:  s.cfg.WeekStart,
		Views:      s.cfg.Views,
		IsAdmin:    s.cfg.IsAdmin,
		Filter:     snap.Filter,
		Loading:    snap.Pending,
		Items:      items,
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleICal downloads the known events as an iCalendar file.
func (s *Server) handleICal(w http.ResponseWriter, r *http.Request) {
	events, err := s.cal.Sources(r.Context())
	if err != nil {
		s.writeCalendarError(w, err)
		return
	}
	body := ics.Export(s.cfg.CalendarName, events, s.clock.Now())

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

type commandRequest struct {
	Command *string `json:"command"`
}

type commandResponse struct {
	Ran   bool   `json:"ran"`
	Title string `json:"title"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cmd := "null"
	if req.Command != nil {
		cmd = *req.Command
	}

	ran, err := s.cal.Command(r.Context(), cmd)
	if err != nil {
		s.writeCalendarError(w, err)
		return
	}
	snap, err := s.cal.Snapshot(r.Context())
	if err != nil {
		s.writeCalendarError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Ran: ran, Title: snap.Title})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.cal.Refetch(r.Context()); err != nil {
		s.writeCalendarError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshing"})
}

// interactionRequest carries the fields of every interaction kind; each kind
// reads the ones it needs.
type interactionRequest struct {
	ID     string         `json:"id"`
	Date   model.WireTime `json:"date"`
	Start  model.WireTime `json:"start"`
	End    model.WireTime `json:"end"`
	AllDay bool           `json:"all_day"`
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	date := req.Date.In(s.loc)
	start := req.Start.In(s.loc)
	end := req.End.In(s.loc)

	var err error
	kind := r.PathValue("kind")
	switch kind {
	case "date_click":
		if date.IsZero() {
			writeError(w, http.StatusBadRequest, "date is required")
			return
		}
		err = s.cal.DateClick(ctx, date, req.AllDay)
	case "range_select":
		if start.IsZero() || end.IsZero() || end.Before(start) {
			writeError(w, http.StatusBadRequest, "start and end are required, end not before start")
			return
		}
		err = s.cal.RangeSelect(ctx, start, end, req.AllDay)
	case "event_click":
		if req.ID == "" {
			writeError(w, http.StatusBadRequest, "id is required")
			return
		}
		err = s.cal.EventClick(ctx, req.ID)
	case "event_drop":
		if req.ID == "" || start.IsZero() {
			writeError(w, http.StatusBadRequest, "id and start are required")
			return
		}
		if end.IsZero() {
			end = start
		}
		err = s.cal.EventDrop(ctx, req.ID, start, end, req.AllDay)
	case "event_resize":
		if req.ID == "" || end.IsZero() {
			writeError(w, http.StatusBadRequest, "id and end are required")
			return
		}
		err = s.cal.EventResize(ctx, req.ID, end)
	default:
		writeError(w, http.StatusNotFound, "unknown interaction "+kind)
		return
	}

	// Viewer clicks and selections are dropped without a revert.
	if errors.Is(err, calsync.ErrUnauthorized) && (kind == "date_click" || kind == "range_select") {
		err = nil
	}
	if err != nil {
		s.writeCalendarError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeCalendarError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, calsync.ErrUnauthorized):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, calsync.ErrItemNotFound), errors.Is(err, display.ErrNotDisplayed):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, calsync.ErrSessionClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		appLog.Error("web: calendar request failed", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("web: failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
