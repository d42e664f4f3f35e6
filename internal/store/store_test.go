package store

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"opscal/internal/model"
)

// fakeDB is an in-memory Persistence with switchable failures.
type fakeDB struct {
	mu        sync.Mutex
	events    []model.CalendarEvent
	listErr   error
	insertErr error
	updateErr error
	deleteErr error
	deletes   int
	notify    chan struct{}
}

func newFakeDB() *fakeDB {
	return &fakeDB{notify: make(chan struct{}, 1)}
}

func (f *fakeDB) List(_ context.Context, _ string) ([]model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]model.CalendarEvent, len(f.events))
	copy(out, f.events)
	return out, nil
}

func (f *fakeDB) Insert(_ context.Context, _ string, ev model.CalendarEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeDB) Update(_ context.Context, _ string, ev model.CalendarEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	for i := range f.events {
		if f.events[i].ID == ev.ID {
			f.events[i] = ev
			return nil
		}
	}
	return errors.New("not found")
}

func (f *fakeDB) Delete(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.events {
		if f.events[i].ID == id {
			f.events = append(f.events[:i], f.events[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeDB) Subscribe(_ context.Context, _ string) (<-chan struct{}, error) {
	return f.notify, nil
}

func draft(title string, start, end time.Time) model.CalendarEvent {
	return model.CalendarEvent{
		Title: title,
		Type:  model.TypeInterview,
		Start: start,
		End:   end,
	}
}

var (
	t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	t1 = time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)
)

func TestCreateAssignsDefaults(t *testing.T) {
	db := newFakeDB()
	s := New(db, nil, "u1")

	ev, err := s.Create(context.Background(), model.CalendarEvent{
		Title: "David K. - Sick Leave",
		Type:  model.TypeLeave,
		Start: t0,
		End:   t1,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ev.ID == "" {
		t.Error("expected a generated id")
	}
	if ev.Status != model.StatusPending {
		t.Errorf("expected leave status pending, got %q", ev.Status)
	}
	if ev.Color != "#EF4444" {
		t.Errorf("expected leave default color, got %q", ev.Color)
	}
	if got := s.Events(); len(got) != 1 {
		t.Fatalf("expected 1 event in store, got %d", len(got))
	}
}

func TestCreateKeepsExplicitStatusAndColor(t *testing.T) {
	db := newFakeDB()
	s := New(db, nil, "u1")

	ev, err := s.Create(context.Background(), model.CalendarEvent{
		Title:  "Vacation",
		Type:   model.TypeLeave,
		Start:  t0,
		End:    t1,
		Status: model.StatusApproved,
		Color:  "#000000",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if ev.Status != model.StatusApproved {
		t.Errorf("explicit status overwritten: %q", ev.Status)
	}
	if ev.Color != "#000000" {
		t.Errorf("explicit color overwritten: %q", ev.Color)
	}
}

func TestCreateValidation(t *testing.T) {
	db := newFakeDB()
	s := New(db, nil, "u1")

	cases := []struct {
		name  string
		ev    model.CalendarEvent
		field string
	}{
		{"empty title", draft("", t0, t1), "title"},
		{"end equals start", draft("x", t0, t0), "end"},
		{"end before start", draft("x", t1, t0), "end"},
		{"unknown type", model.CalendarEvent{Title: "x", Type: "party", Start: t0, End: t1}, "type"},
	}

	for _, tc := range cases {
		_, err := s.Create(context.Background(), tc.ev)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
		if ve.Field != tc.field {
			t.Errorf("%s: expected field %q, got %q", tc.name, tc.field, ve.Field)
		}
	}
	if len(db.events) != 0 {
		t.Error("validation failures must never reach the backing store")
	}
}

func TestCreatePersistenceFailureLeavesCollectionUnchanged(t *testing.T) {
	db := newFakeDB()
	s := New(db, nil, "u1")
	if _, err := s.Create(context.Background(), draft("existing", t0, t1)); err != nil {
		t.Fatalf("seed create failed: %v", err)
	}
	before := s.Events()

	db.insertErr = errors.New("connection reset")
	_, err := s.Create(context.Background(), draft("doomed", t0, t1))
	var se *SaveError
	if !errors.As(err, &se) {
		t.Fatalf("expected SaveError, got %v", err)
	}
	if !reflect.DeepEqual(s.Events(), before) {
		t.Error("local collection changed despite persistence failure")
	}
}

func TestUpdateRollsBackOnFailure(t *testing.T) {
	db := newFakeDB()
	s := New(db, nil, "u1")
	ev, err := s.Create(context.Background(), draft("Standup", t0, t1))
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}
	before := s.Events()

	db.updateErr = errors.New("write refused")
	title := "Renamed"
	err = s.Update(context.Background(), ev.ID, Patch{Title: &title})
	var se *SaveError
	if !errors.As(err, &se) {
		t.Fatalf("expected SaveError, got %v", err)
	}
	if !reflect.DeepEqual(s.Events(), before) {
		t.Error("local collection not rolled back to pre-patch value")
	}
}

func TestUpdateValidatesMergedEvent(t *testing.T) {
	db := newFakeDB()
	s := New(db, nil, "u1")
	ev, err := s.Create(context.Background(), draft("Standup", t0, t1))
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}

	bad := t0.Add(-time.Hour)
	err = s.Update(context.Background(), ev.ID, Patch{End: &bad})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for end before start, got %v", err)
	}
	got, _ := s.Get(ev.ID)
	if !got.End.Equal(t1) {
		t.Error("rejected patch must not change the stored event")
	}
}

func TestReschedulePreservesDuration(t *testing.T) {
	db := newFakeDB()
	s := New(db, nil, "u1")
	ev, err := s.Create(context.Background(), draft("Standup", t0, t1))
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}

	newStart := time.Date(2026, 1, 6, 14, 0, 0, 0, time.UTC)
	if err := s.Reschedule(context.Background(), ev.ID, newStart); err != nil {
		t.Fatalf("Reschedule failed: %v", err)
	}

	got, _ := s.Get(ev.ID)
	if !got.Start.Equal(newStart) {
		t.Errorf("expected start %v, got %v", newStart, got.Start)
	}
	if got.Duration() != t1.Sub(t0) {
		t.Errorf("duration not preserved: %v != %v", got.Duration(), t1.Sub(t0))
	}
}

func TestSetStatusOnNonLeaveIsNoop(t *testing.T) {
	db := newFakeDB()
	s := New(db, nil, "u1")
	ev, err := s.Create(context.Background(), draft("Interview", t0, t1))
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}

	if err := s.SetStatus(context.Background(), ev.ID, model.StatusApproved); err != nil {
		t.Fatalf("SetStatus on non-leave must not error, got %v", err)
	}
	got, _ := s.Get(ev.ID)
	if got.Status != "" {
		t.Errorf("non-leave event gained a status: %q", got.Status)
	}
}

func TestSetStatusUnknownIDIsNoop(t *testing.T) {
	s := New(newFakeDB(), nil, "u1")
	if err := s.SetStatus(context.Background(), "missing", model.StatusApproved); err != nil {
		t.Fatalf("SetStatus on unknown id must not error, got %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	db := newFakeDB()
	s := New(db, nil, "u1")
	ev, err := s.Create(context.Background(), draft("Standup", t0, t1))
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}

	if err := s.Delete(context.Background(), ev.ID); err != nil {
		t.Fatalf("first delete failed: %v", err)
	}
	if err := s.Delete(context.Background(), ev.ID); err != nil {
		t.Fatalf("second delete must be a no-op, got %v", err)
	}
	if len(s.Events()) != 0 {
		t.Error("expected empty collection")
	}
}

func TestLoadFailureYieldsEmptyCollection(t *testing.T) {
	db := newFakeDB()
	s := New(db, nil, "u1")
	if _, err := s.Create(context.Background(), draft("Standup", t0, t1)); err != nil {
		t.Fatalf("seed create failed: %v", err)
	}

	db.listErr = errors.New("timeout")
	err := s.Load(context.Background())
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if len(s.Events()) != 0 {
		t.Error("failed load must leave an empty collection, not stale data")
	}
}

func TestNoSessionLoadsEmpty(t *testing.T) {
	db := newFakeDB()
	db.events = []model.CalendarEvent{draft("someone else's", t0, t1)}
	s := New(db, nil, "")

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("no-session load must not error, got %v", err)
	}
	if len(s.Events()) != 0 {
		t.Error("no session means no events")
	}
}

func TestRunReconcilesOnNotification(t *testing.T) {
	db := newFakeDB()
	s := New(db, nil, "u1")
	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("initial load failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()

	// Out-of-band change lands in the backing store.
	db.mu.Lock()
	oob := draft("added elsewhere", t0, t1)
	oob.ID = "oob-1"
	db.events = append(db.events, oob)
	db.mu.Unlock()
	db.notify <- struct{}{}

	deadline := time.After(2 * time.Second)
	for {
		if len(s.Events()) == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("store never reconciled after change notification")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestConcurrentUpdateAndDeleteOnDifferentIDs(t *testing.T) {
	db := newFakeDB()
	s := New(db, nil, "u1")

	// Many short-lived events in front of the one being updated, so every
	// delete shifts the updated event's position in the collection.
	const n = 100
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ev, err := s.Create(context.Background(), draft("ephemeral "+strconv.Itoa(i), t0, t1))
		if err != nil {
			t.Fatalf("seed create failed: %v", err)
		}
		ids[i] = ev.ID
	}
	keep, err := s.Create(context.Background(), draft("keep", t0, t1))
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for _, id := range ids {
			_ = s.Delete(context.Background(), id)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			title := "keep " + strconv.Itoa(i)
			_ = s.Update(context.Background(), keep.ID, Patch{Title: &title})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			_ = s.Load(context.Background())
		}
	}()
	wg.Wait()

	if err := s.Load(context.Background()); err != nil {
		t.Fatalf("final load failed: %v", err)
	}
	got, ok := s.Get(keep.ID)
	if !ok {
		t.Fatal("event vanished under unrelated deletes")
	}
	if got.Title != "keep "+strconv.Itoa(n-1) {
		t.Errorf("expected the last update to win, got title %q", got.Title)
	}
	if events := s.Events(); len(events) != 1 {
		t.Errorf("expected only the surviving event, got %d", len(events))
	}
}

func TestConcurrentSameIDMutationsSerialize(t *testing.T) {
	db := newFakeDB()
	s := New(db, nil, "u1")
	ev, err := s.Create(context.Background(), draft("Standup", t0, t1))
	if err != nil {
		t.Fatalf("seed create failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Reschedule(context.Background(), ev.ID, t0.Add(time.Duration(i)*time.Hour))
		}(i)
	}
	wg.Wait()

	got, ok := s.Get(ev.ID)
	if !ok {
		t.Fatal("event vanished")
	}
	if got.Duration() != t1.Sub(t0) {
		t.Errorf("duration corrupted under concurrent reschedules: %v", got.Duration())
	}
	// Local and remote must agree after the dust settles.
	remote, _ := db.List(context.Background(), "u1")
	if !reflect.DeepEqual(remote, s.Events()) {
		t.Error("local collection diverged from backing store")
	}
}
