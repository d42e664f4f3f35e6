// Package editor produces validated event records from a modal form. All
// validation happens locally, before the backing store is contacted; a draft
// that fails validation never reaches the store.
package editor

import (
	"context"
	"time"

	"opscal/internal/grid"
	"opscal/internal/model"
	"opscal/internal/store"
)

// Saver is the store subset the editor writes through.
type Saver interface {
	Create(ctx context.Context, draft model.CalendarEvent) (model.CalendarEvent, error)
	Update(ctx context.Context, id string, patch store.Patch) error
}

// Draft is the partial event the form edits. Description and location sit
// behind an "advanced" disclosure in the UI; that is presentation only and
// does not change this contract.
type Draft struct {
	ID          string
	Title       string
	Type        model.EventType
	Start       time.Time
	End         time.Time
	Description string
	Location    string
	EmployeeID  string
	CandidateID string
	TeamID      string
}

// Editor drives one create/update form.
type Editor struct {
	store Saver
	draft Draft
	open  bool
}

func New(store Saver) *Editor {
	return &Editor{store: store}
}

// IsOpen reports whether a form is active.
func (e *Editor) IsOpen() bool { return e.open }

// Draft returns a pointer to the active draft for field edits.
func (e *Editor) Draft() *Draft { return &e.draft }

// Open starts a blank create form. Start and end are left unset.
func (e *Editor) Open() {
	e.draft = Draft{Type: model.TypeInterview}
	e.open = true
}

// OpenForCell starts a create form pre-filled from a grid-cell click: start
// at the top of the cell, end one hour later.
func (e *Editor) OpenForCell(cell grid.Cell) {
	at := cell.At()
	e.draft = Draft{
		Type:  model.TypeInterview,
		Start: at,
		End:   at.Add(time.Hour),
	}
	e.open = true
}

// OpenForEvent starts an edit form for an existing event.
func (e *Editor) OpenForEvent(ev model.CalendarEvent) {
	e.draft = Draft{
		ID:          ev.ID,
		Title:       ev.Title,
		Type:        ev.Type,
		Start:       ev.Start,
		End:         ev.End,
		Description: ev.Description,
		Location:    ev.Location,
		EmployeeID:  ev.EmployeeID,
		CandidateID: ev.CandidateID,
		TeamID:      ev.TeamID,
	}
	e.open = true
}

// Close abandons the form without side effects.
func (e *Editor) Close() {
	e.open = false
	e.draft = Draft{}
}

// Submit validates the draft and writes it through the store: create when
// the draft has no id, update otherwise. On success the form closes; on
// failure it stays open so the user can retry.
func (e *Editor) Submit(ctx context.Context) (model.CalendarEvent, error) {
	ev := model.CalendarEvent{
		ID:          e.draft.ID,
		Title:       e.draft.Title,
		Type:        e.draft.Type,
		Start:       e.draft.Start,
		End:         e.draft.End,
		Description: e.draft.Description,
		Location:    e.draft.Location,
		EmployeeID:  e.draft.EmployeeID,
		CandidateID: e.draft.CandidateID,
		TeamID:      e.draft.TeamID,
	}

	if err := store.ValidateEvent(ev); err != nil {
		return model.CalendarEvent{}, err
	}

	if ev.ID == "" {
		created, err := e.store.Create(ctx, ev)
		if err != nil {
			return model.CalendarEvent{}, err
		}
		e.Close()
		return created, nil
	}

	patch := store.Patch{
		Title:       &e.draft.Title,
		Type:        &e.draft.Type,
		Start:       &e.draft.Start,
		End:         &e.draft.End,
		Description: &e.draft.Description,
		Location:    &e.draft.Location,
		EmployeeID:  &e.draft.EmployeeID,
		CandidateID: &e.draft.CandidateID,
		TeamID:      &e.draft.TeamID,
	}
	if err := e.store.Update(ctx, ev.ID, patch); err != nil {
		return model.CalendarEvent{}, err
	}
	e.Close()
	return ev, nil
}
