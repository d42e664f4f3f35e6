package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"opscal/internal/capture"
	"opscal/internal/config"
	"opscal/internal/filter"
	"opscal/internal/grid"
	icsexport "opscal/internal/ics"
	appLog "opscal/internal/log"
	"opscal/internal/model"
	"opscal/internal/session"
	"opscal/internal/store"
)

// Server exposes the scheduling core over HTTP: week grid projection, event
// CRUD, filter toggles, an ICS feed and PDF export. Each authenticated user
// gets one store/filter session, created lazily and kept live by the change
// feed until the server's context ends.
type Server struct {
	cfg *config.Config
	db  store.Persistence
	mux *http.ServeMux

	// ctx scopes the per-session reconcile loops.
	ctx context.Context

	mu       sync.Mutex
	sessions map[string]*userSession
}

type userSession struct {
	store    *store.Store
	registry *filter.Registry
}

// NewServer constructs a Server. ctx bounds the lifetime of all change-feed
// subscriptions the server acquires.
func NewServer(ctx context.Context, cfg *config.Config, db store.Persistence) *Server {
	s := &Server{
		cfg:      cfg,
		db:       db,
		mux:      http.NewServeMux(),
		ctx:      ctx,
		sessions: make(map[string]*userSession),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// /calendar authenticates through its token parameter so the
		// headless export's navigation can reach it.
		if r.URL.Path == "/health" || r.URL.Path == "/calendar" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="opscal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /calendar", s.handleCalendar)
	s.mux.HandleFunc("GET /api/week", s.handleWeek)
	s.mux.HandleFunc("GET /api/filters", s.handleFilters)
	s.mux.HandleFunc("POST /api/filters/{type}/toggle", s.handleFilterToggle)
	s.mux.HandleFunc("POST /api/events", s.handleCreate)
	s.mux.HandleFunc("PATCH /api/events/{id}", s.handleUpdate)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDelete)
	s.mux.HandleFunc("POST /api/events/{id}/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/events/{id}/reschedule", s.handleReschedule)
	s.mux.HandleFunc("GET /api/calendar.ics", s.handleICS)
	s.mux.HandleFunc("GET /api/export.pdf", s.handleExportPDF)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// sessionFor returns the per-owner store and registry, creating them on
// first use. The store is loaded once and then kept in sync by its
// reconcile loop.
func (s *Server) sessionFor(ctx context.Context, owner string) *userSession {
	s.mu.Lock()
	us, ok := s.sessions[owner]
	if !ok {
		registry := filter.NewRegistry(s.cfg.ColorOverrides())
		st := store.New(s.db, registry, owner)
		us = &userSession{store: st, registry: registry}
		s.sessions[owner] = us
		s.mu.Unlock()

		if err := st.Load(ctx); err != nil {
			appLog.Warn("initial load failed; rendering empty", "owner", owner)
		}
		go func() {
			if err := st.Run(s.ctx); err != nil {
				appLog.Error("change feed stopped", err, "owner", owner)
			}
		}()
		return us
	}
	s.mu.Unlock()
	return us
}

// ReconcileAll reloads every live session from the backing store. The cron
// scheduler calls this as a backstop for missed notifications.
func (s *Server) ReconcileAll(ctx context.Context) {
	s.mu.Lock()
	stores := make([]*store.Store, 0, len(s.sessions))
	for _, us := range s.sessions {
		stores = append(stores, us.store)
	}
	s.mu.Unlock()

	for _, st := range stores {
		if err := st.Load(ctx); err != nil {
			appLog.Warn("scheduled reconcile failed", "owner", st.Owner())
		}
	}
}

// identify resolves the request's session from the Authorization header or,
// for navigations that cannot carry headers, a token query parameter.
// ok=false means no usable session.
func (s *Server) identify(r *http.Request) (string, bool) {
	if tok := r.URL.Query().Get("token"); tok != "" {
		sess, err := session.Parse([]byte(s.cfg.JWTSecret), tok)
		if err != nil {
			return "", false
		}
		return sess.UserID, true
	}
	sess, ok := session.FromRequest([]byte(s.cfg.JWTSecret), r)
	if !ok {
		return "", false
	}
	return sess.UserID, true
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimPrefix(auth, prefix)
}

/* ---------- DTOs ---------- */

type eventDTO struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Type        string    `json:"type"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	EmployeeID  string    `json:"employee_id,omitempty"`
	CandidateID string    `json:"candidate_id,omitempty"`
	TeamID      string    `json:"team_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Color       string    `json:"color,omitempty"`
}

func toDTO(ev model.CalendarEvent) eventDTO {
	return eventDTO{
		ID:          ev.ID,
		Title:       ev.Title,
		Type:        string(ev.Type),
		Start:       ev.Start,
		End:         ev.End,
		Description: ev.Description,
		Location:    ev.Location,
		EmployeeID:  ev.EmployeeID,
		CandidateID: ev.CandidateID,
		TeamID:      ev.TeamID,
		Status:      string(ev.Status),
		Color:       ev.Color,
	}
}

func fromDTO(d eventDTO) model.CalendarEvent {
	return model.CalendarEvent{
		ID:          d.ID,
		Title:       d.Title,
		Type:        model.EventType(d.Type),
		Start:       d.Start,
		End:         d.End,
		Description: d.Description,
		Location:    d.Location,
		EmployeeID:  d.EmployeeID,
		CandidateID: d.CandidateID,
		TeamID:      d.TeamID,
		Status:      model.LeaveStatus(d.Status),
		Color:       d.Color,
	}
}

type cellDTO struct {
	Day    time.Time  `json:"day"`
	Hour   int        `json:"hour"`
	Events []eventDTO `json:"events"`
}

type weekResponse struct {
	View        string      `json:"view"`
	Placeholder bool        `json:"placeholder"`
	Days        []time.Time `json:"days,omitempty"`
	Cells       []cellDTO   `json:"cells,omitempty"`
	Timezone    string      `json:"timezone"`
	WeekStart   string      `json:"week_start"`
}

/* ---------- Handlers ---------- */

// handleWeek projects the visible week grid.
//
// GET /api/week?date=2026-01-05&view=week
//   - date: reference date (RFC3339 or YYYY-MM-DD); defaults to now
//   - view: week|month|day|agenda; non-week views answer a placeholder
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	loc := s.cfg.Location()
	ref := parseDateDefault(r.URL.Query().Get("date"), time.Now(), loc)
	view := grid.ViewMode(r.URL.Query().Get("view"))
	if !view.Valid() {
		view = grid.ViewWeek
	}

	p := grid.NewProjector(ref, loc, s.cfg.WeekStartDay())
	p.SetView(view)

	var events []model.CalendarEvent
	if owner, ok := s.identify(r); ok {
		us := s.sessionFor(r.Context(), owner)
		events = us.registry.Apply(us.store.Events())
	}
	// No session: an empty grid, not an error.

	week := p.Project(events)

	resp := weekResponse{
		View:        string(week.View),
		Placeholder: week.Placeholder,
		Timezone:    loc.String(),
		WeekStart:   s.cfg.WeekStart,
	}
	if !week.Placeholder {
		resp.Days = week.Days[:]
		for d := 0; d < 7; d++ {
			for h := 0; h < grid.HoursPerDay; h++ {
				if len(week.Cells[d][h]) == 0 {
					continue
				}
				cell := cellDTO{Day: week.Days[d], Hour: h}
				for _, ev := range week.Cells[d][h] {
					cell.Events = append(cell.Events, toDTO(ev))
				}
				resp.Cells = append(resp.Cells, cell)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.identify(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	us := s.sessionFor(r.Context(), owner)
	writeJSON(w, http.StatusOK, us.registry.Filters())
}

func (s *Server) handleFilterToggle(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.identify(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	us := s.sessionFor(r.Context(), owner)
	t := model.EventType(r.PathValue("type"))
	if !us.registry.Toggle(t) {
		writeError(w, http.StatusNotFound, "unknown event type")
		return
	}
	writeJSON(w, http.StatusOK, us.registry.Filters())
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.identify(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	var dto eventDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	us := s.sessionFor(r.Context(), owner)
	created, err := us.store.Create(r.Context(), fromDTO(dto))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDTO(created))
}

// patchDTO mirrors store.Patch for JSON bodies; absent fields stay nil.
type patchDTO struct {
	Title       *string    `json:"title"`
	Type        *string    `json:"type"`
	Start       *time.Time `json:"start"`
	End         *time.Time `json:"end"`
	Description *string    `json:"description"`
	Location    *string    `json:"location"`
	EmployeeID  *string    `json:"employee_id"`
	CandidateID *string    `json:"candidate_id"`
	TeamID      *string    `json:"team_id"`
	Status      *string    `json:"status"`
	Color       *string    `json:"color"`
}

func (p patchDTO) toPatch() store.Patch {
	out := store.Patch{
		Title:       p.Title,
		Start:       p.Start,
		End:         p.End,
		Description: p.Description,
		Location:    p.Location,
		EmployeeID:  p.EmployeeID,
		CandidateID: p.CandidateID,
		TeamID:      p.TeamID,
		Color:       p.Color,
	}
	if p.Type != nil {
		t := model.EventType(*p.Type)
		out.Type = &t
	}
	if p.Status != nil {
		st := model.LeaveStatus(*p.Status)
		out.Status = &st
	}
	return out
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.identify(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	var dto patchDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	us := s.sessionFor(r.Context(), owner)
	id := r.PathValue("id")
	if err := us.store.Update(r.Context(), id, dto.toPatch()); err != nil {
		writeStoreError(w, err)
		return
	}
	ev, _ := us.store.Get(id)
	writeJSON(w, http.StatusOK, toDTO(ev))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.identify(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	us := s.sessionFor(r.Context(), owner)
	if err := us.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.identify(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	us := s.sessionFor(r.Context(), owner)
	id := r.PathValue("id")
	if err := us.store.SetStatus(r.Context(), id, model.LeaveStatus(body.Status)); err != nil {
		writeStoreError(w, err)
		return
	}
	ev, found := us.store.Get(id)
	if !found {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, toDTO(ev))
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.identify(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	var body struct {
		Start time.Time `json:"start"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Start.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	us := s.sessionFor(r.Context(), owner)
	id := r.PathValue("id")
	if err := us.store.Reschedule(r.Context(), id, body.Start); err != nil {
		writeStoreError(w, err)
		return
	}
	ev, _ := us.store.Get(id)
	writeJSON(w, http.StatusOK, toDTO(ev))
}

// handleICS serves the owner's visible events as an iCalendar feed.
func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.identify(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	us := s.sessionFor(r.Context(), owner)
	visible := us.registry.Apply(us.store.Events())

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(icsexport.Export(visible, "Recruiting Schedule")))
}

// handleExportPDF prints the week view to PDF via headless Chromium.
//
// GET /api/export.pdf?date=2026-01-05
func (s *Server) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(r); !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}

	pdf, err := capture.WeekPDF(r.Context(), capture.Options{URL: s.exportTargetURL(r)})
	if err != nil {
		appLog.Error("pdf export failed", err)
		writeError(w, http.StatusInternalServerError, "failed to export PDF")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

// exportTargetURL builds the /calendar URL the headless browser navigates
// to, forwarding the caller's date and session token as query parameters.
func (s *Server) exportTargetURL(r *http.Request) string {
	q := url.Values{}
	if date := r.URL.Query().Get("date"); date != "" {
		q.Set("date", date)
	}
	if tok := bearerToken(r); tok != "" {
		q.Set("token", tok)
	}
	target := "http://" + s.cfg.Listen + "/calendar"
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	return target
}

/* ---------- helpers ---------- */

func parseDateDefault(s string, def time.Time, loc *time.Location) time.Time {
	if s == "" {
		return def
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t
	}
	return def
}

// writeStoreError maps the store error taxonomy onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	var ve *store.ValidationError
	var se *store.SaveError
	var le *store.LoadError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusUnprocessableEntity, ve.Error())
	case errors.As(err, &se):
		writeError(w, http.StatusBadGateway, se.Error())
	case errors.As(err, &le):
		writeError(w, http.StatusServiceUnavailable, le.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
