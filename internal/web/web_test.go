package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"opscal/internal/config"
	"opscal/internal/model"
	"opscal/internal/session"
)

type fakeDB struct {
	events map[string][]model.CalendarEvent
}

func newFakeDB() *fakeDB {
	return &fakeDB{events: make(map[string][]model.CalendarEvent)}
}

func (f *fakeDB) List(_ context.Context, owner string) ([]model.CalendarEvent, error) {
	return append([]model.CalendarEvent(nil), f.events[owner]...), nil
}

func (f *fakeDB) Insert(_ context.Context, owner string, ev model.CalendarEvent) error {
	f.events[owner] = append(f.events[owner], ev)
	return nil
}

func (f *fakeDB) Update(_ context.Context, owner string, ev model.CalendarEvent) error {
	for i := range f.events[owner] {
		if f.events[owner][i].ID == ev.ID {
			f.events[owner][i] = ev
		}
	}
	return nil
}

func (f *fakeDB) Delete(_ context.Context, owner, id string) error {
	list := f.events[owner]
	for i := range list {
		if list[i].ID == id {
			f.events[owner] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeDB) Subscribe(context.Context, string) (<-chan struct{}, error) {
	return make(chan struct{}), nil
}

var testSecret = "test-secret"

func newTestServer(t *testing.T, db *fakeDB) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.JWTSecret = testSecret
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewServer(ctx, cfg, db)
}

func mintToken(t *testing.T, userID string) string {
	t.Helper()
	tok, err := session.Token([]byte(testSecret), userID)
	if err != nil {
		t.Fatalf("token mint failed: %v", err)
	}
	return tok
}

func TestCalendarPageRendersWeek(t *testing.T) {
	db := newFakeDB()
	db.events["u1"] = []model.CalendarEvent{{
		ID:    "e1",
		Title: "Interview: Dana",
		Type:  model.TypeInterview,
		Start: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
		Color: "#3B82F6",
	}}
	srv := newTestServer(t, db)

	r := httptest.NewRequest("GET", "/calendar?date=2026-01-05&token="+mintToken(t, "u1"), nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `data-ready="true"`) {
		t.Error("page must carry the render-complete marker the capture waits for")
	}
	if !strings.Contains(body, "Interview: Dana") {
		t.Error("expected the owner's event on the page")
	}
	if !strings.Contains(body, "Week of Jan 4, 2026") {
		t.Error("expected the Sunday-start week heading")
	}
}

func TestCalendarPageWithoutTokenRendersEmptyGrid(t *testing.T) {
	db := newFakeDB()
	db.events["u1"] = []model.CalendarEvent{{
		ID:    "e1",
		Title: "Private standup",
		Type:  model.TypeEvent,
		Start: time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC),
	}}
	srv := newTestServer(t, db)

	r := httptest.NewRequest("GET", "/calendar?date=2026-01-05", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("no session must still render, got %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `data-ready="true"`) {
		t.Error("empty grid must still signal render completion")
	}
	if strings.Contains(body, "Private standup") {
		t.Error("no session means no events on the page")
	}
}

func TestCalendarExemptFromBasicAuth(t *testing.T) {
	db := newFakeDB()
	srv := newTestServer(t, db)
	srv.cfg.BasicAuth = &config.BasicAuthConfig{Username: "ops", Password: "secret"}
	h := srv.Handler()

	r := httptest.NewRequest("GET", "/calendar", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("headless navigation cannot send credentials; expected 200, got %d", w.Code)
	}

	r = httptest.NewRequest("GET", "/api/week", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("API routes must stay behind basic auth, got %d", w.Code)
	}
}

func TestExportTargetURLEscapesQuery(t *testing.T) {
	srv := newTestServer(t, newFakeDB())
	tok := mintToken(t, "u1")

	r := httptest.NewRequest("GET", "/api/export.pdf?date="+url.QueryEscape("2026-01-05&view=x"), nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	target, err := url.Parse(srv.exportTargetURL(r))
	if err != nil {
		t.Fatalf("export target is not a valid URL: %v", err)
	}
	if target.Path != "/calendar" {
		t.Errorf("expected /calendar path, got %q", target.Path)
	}
	q := target.Query()
	if got := q.Get("date"); got != "2026-01-05&view=x" {
		t.Errorf("date must round-trip through escaping, got %q", got)
	}
	if q.Get("token") != tok {
		t.Error("expected the caller's session token to be forwarded")
	}
}
