package store

import (
	"context"
	"errors"
	"sync"
	"time"

	appLog "opscal/internal/log"
	"opscal/internal/model"
)

// Persistence is the external backing store the session collection
// synchronizes with. All queries are scoped by the owning user; the backing
// store is the source of truth across sessions.
type Persistence interface {
	List(ctx context.Context, owner string) ([]model.CalendarEvent, error)
	Insert(ctx context.Context, owner string, ev model.CalendarEvent) error
	Update(ctx context.Context, owner string, ev model.CalendarEvent) error
	Delete(ctx context.Context, owner, id string) error

	// Subscribe returns a channel that receives a signal whenever the
	// owner's backing data changes out-of-band. The channel is closed when
	// ctx ends.
	Subscribe(ctx context.Context, owner string) (<-chan struct{}, error)
}

// Colors supplies the default display color per event type, consulted at
// creation time when a draft carries none.
type Colors interface {
	ColorFor(t model.EventType) string
}

// ErrNoSession is returned (wrapped in a SaveError) when a mutation is
// attempted without an authenticated owner.
var ErrNoSession = errors.New("no session")

// Store holds the event collection for one owner's UI session. It is the
// single source of truth for readers; the Event Editor and the reschedule
// path are its only writers. Mutations on the same event id serialize;
// mutations on different ids are independent.
type Store struct {
	db     Persistence
	colors Colors
	owner  string

	mu     sync.RWMutex
	events []model.CalendarEvent

	opMu sync.Mutex
	ops  map[string]*sync.Mutex
}

// New creates a Store for the given owner. colors may be nil, in which case
// the built-in type table supplies defaults.
func New(db Persistence, colors Colors, owner string) *Store {
	return &Store{
		db:     db,
		colors: colors,
		owner:  owner,
		ops:    make(map[string]*sync.Mutex),
	}
}

// Owner returns the owning user id this store is scoped to.
func (s *Store) Owner() string { return s.owner }

// lockFor returns the per-id mutex, creating it on first use. Holding it
// serializes all mutations for that event id.
func (s *Store) lockFor(id string) *sync.Mutex {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	m, ok := s.ops[id]
	if !ok {
		m = &sync.Mutex{}
		s.ops[id] = m
	}
	return m
}

// Events returns a snapshot of the collection in insertion order.
func (s *Store) Events() []model.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.CalendarEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Get returns the event with the given id, if present.
func (s *Store) Get(id string) (model.CalendarEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ev := range s.events {
		if ev.ID == id {
			return ev, true
		}
	}
	return model.CalendarEvent{}, false
}

// Load replaces the local collection with the owner's events from the
// backing store. A missing session yields an empty collection, not an error.
// On failure the collection is emptied and a LoadError is returned.
func (s *Store) Load(ctx context.Context) error {
	if s.owner == "" {
		s.mu.Lock()
		s.events = nil
		s.mu.Unlock()
		return nil
	}

	events, err := s.db.List(ctx, s.owner)
	if err != nil {
		s.mu.Lock()
		s.events = nil
		s.mu.Unlock()
		appLog.Error("event load failed", err, "owner", s.owner)
		return &LoadError{Err: err}
	}

	s.mu.Lock()
	s.events = events
	s.mu.Unlock()
	appLog.Debug("events loaded", "owner", s.owner, "count", len(events))
	return nil
}

// ValidateEvent checks the committed-event invariants: non-empty title,
// known type, and end strictly after start.
func ValidateEvent(ev model.CalendarEvent) error {
	if ev.Title == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if !ev.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "unknown event type"}
	}
	if ev.Start.IsZero() || ev.End.IsZero() {
		return &ValidationError{Field: "start", Reason: "start and end are required"}
	}
	if !ev.End.After(ev.Start) {
		return &ValidationError{Field: "end", Reason: "must be after start"}
	}
	return nil
}

// Create validates the draft, fills defaults (id, color, leave status),
// persists it and appends it to the local collection. On persistence failure
// the local collection is unchanged and a SaveError is returned.
func (s *Store) Create(ctx context.Context, draft model.CalendarEvent) (model.CalendarEvent, error) {
	if err := ValidateEvent(draft); err != nil {
		return model.CalendarEvent{}, err
	}
	if s.owner == "" {
		return model.CalendarEvent{}, &SaveError{Op: "create", Err: ErrNoSession}
	}

	ev := draft
	if ev.ID == "" {
		ev.ID = model.NewID()
	}
	if ev.Color == "" {
		ev.Color = s.colorFor(ev.Type)
	}
	if ev.Type == model.TypeLeave && ev.Status == "" {
		ev.Status = model.StatusPending
	}

	lock := s.lockFor(ev.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.db.Insert(ctx, s.owner, ev); err != nil {
		appLog.Error("event create failed", err, "owner", s.owner, "id", ev.ID)
		return model.CalendarEvent{}, &SaveError{Op: "create", Err: err}
	}

	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()

	appLog.Info("event created", "owner", s.owner, "id", ev.ID, "type", ev.Type)
	return ev, nil
}

// Patch is a partial event update; nil fields are left untouched.
type Patch struct {
	Title       *string
	Type        *model.EventType
	Start       *time.Time
	End         *time.Time
	Description *string
	Location    *string
	EmployeeID  *string
	CandidateID *string
	TeamID      *string
	Status      *model.LeaveStatus
	Color       *string
}

func (p Patch) apply(ev model.CalendarEvent) model.CalendarEvent {
	if p.Title != nil {
		ev.Title = *p.Title
	}
	if p.Type != nil {
		ev.Type = *p.Type
	}
	if p.Start != nil {
		ev.Start = *p.Start
	}
	if p.End != nil {
		ev.End = *p.End
	}
	if p.Description != nil {
		ev.Description = *p.Description
	}
	if p.Location != nil {
		ev.Location = *p.Location
	}
	if p.EmployeeID != nil {
		ev.EmployeeID = *p.EmployeeID
	}
	if p.CandidateID != nil {
		ev.CandidateID = *p.CandidateID
	}
	if p.TeamID != nil {
		ev.TeamID = *p.TeamID
	}
	if p.Status != nil {
		ev.Status = *p.Status
	}
	if p.Color != nil {
		ev.Color = *p.Color
	}
	return ev
}

// Update merges the patch into the matching event and persists the result.
// On persistence failure the local collection is rolled back to its
// pre-patch value.
func (s *Store) Update(ctx context.Context, id string, patch Patch) error {
	if s.owner == "" {
		return &SaveError{Op: "update", Err: ErrNoSession}
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	// Merge, validate and apply under one critical section: deletes of other
	// ids and reconcile reloads resize the slice, so an index captured before
	// an unlock cannot be written to afterwards.
	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return &SaveError{Op: "update", Err: errors.New("event not found: " + id)}
	}
	prev := s.events[idx]
	merged := patch.apply(prev)
	if err := ValidateEvent(merged); err != nil {
		s.mu.Unlock()
		return err
	}
	// Optimistic local apply, rolled back if the backing store refuses.
	s.events[idx] = merged
	s.mu.Unlock()

	if err := s.db.Update(ctx, s.owner, merged); err != nil {
		s.mu.Lock()
		if i := s.indexOf(id); i >= 0 {
			s.events[i] = prev
		}
		s.mu.Unlock()
		appLog.Error("event update failed", err, "owner", s.owner, "id", id)
		return &SaveError{Op: "update", Err: err}
	}

	appLog.Debug("event updated", "owner", s.owner, "id", id)
	return nil
}

// Reschedule shifts the event to newStart, preserving its duration.
func (s *Store) Reschedule(ctx context.Context, id string, newStart time.Time) error {
	ev, ok := s.Get(id)
	if !ok {
		return &SaveError{Op: "reschedule", Err: errors.New("event not found: " + id)}
	}
	newEnd := newStart.Add(ev.Duration())
	return s.Update(ctx, id, Patch{Start: &newStart, End: &newEnd})
}

// SetStatus changes the approval status of a leave-type event. For any other
// type it is a silent no-op, as is an unknown id.
func (s *Store) SetStatus(ctx context.Context, id string, status model.LeaveStatus) error {
	ev, ok := s.Get(id)
	if !ok || ev.Type != model.TypeLeave {
		return nil
	}
	if !status.Valid() {
		return &ValidationError{Field: "status", Reason: "unknown status"}
	}
	return s.Update(ctx, id, Patch{Status: &status})
}

// Delete removes the event locally and from the backing store. Deleting an
// unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if s.owner == "" {
		return &SaveError{Op: "delete", Err: ErrNoSession}
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := s.db.Delete(ctx, s.owner, id); err != nil {
		appLog.Error("event delete failed", err, "owner", s.owner, "id", id)
		return &SaveError{Op: "delete", Err: err}
	}

	s.mu.Lock()
	if idx := s.indexOf(id); idx >= 0 {
		s.events = append(s.events[:idx], s.events[idx+1:]...)
	}
	s.mu.Unlock()

	appLog.Info("event deleted", "owner", s.owner, "id", id)
	return nil
}

// indexOf must be called with s.mu held.
func (s *Store) indexOf(id string) int {
	for i, ev := range s.events {
		if ev.ID == id {
			return i
		}
	}
	return -1
}

// Run subscribes to the backing store's change feed and fully reconciles
// (reloads) on every notification. It blocks until ctx ends or the feed
// closes; the subscription is released with it, so a late notification can
// never touch a disposed store.
func (s *Store) Run(ctx context.Context) error {
	if s.owner == "" {
		<-ctx.Done()
		return nil
	}

	ch, err := s.db.Subscribe(ctx, s.owner)
	if err != nil {
		appLog.Error("change feed subscribe failed", err, "owner", s.owner)
		return &LoadError{Err: err}
	}
	appLog.Info("change feed subscribed", "owner", s.owner)

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			if err := s.Load(ctx); err != nil {
				appLog.Warn("reconcile failed; keeping empty collection", "owner", s.owner)
			}
		}
	}
}

func (s *Store) colorFor(t model.EventType) string {
	if s.colors != nil {
		if c := s.colors.ColorFor(t); c != "" {
			return c
		}
	}
	if spec, ok := model.SpecFor(t); ok {
		return spec.Color
	}
	return "#3B82F6"
}
