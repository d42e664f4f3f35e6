// Package panel is the read-only detail surface for a selected event, plus
// its three commands: approve, reject and delete.
package panel

import (
	"context"

	"opscal/internal/model"
)

// Commands is the store subset the panel issues against.
type Commands interface {
	Get(id string) (model.CalendarEvent, bool)
	SetStatus(ctx context.Context, id string, status model.LeaveStatus) error
	Delete(ctx context.Context, id string) error
}

// Panel holds the current selection. Selecting a different event replaces
// it; clicking empty grid space closes the panel without side effects.
type Panel struct {
	store    Commands
	selected string
}

func New(store Commands) *Panel {
	return &Panel{store: store}
}

// Select shows the event with the given id and reports whether it exists.
// An unknown id clears the panel.
func (p *Panel) Select(id string) bool {
	if _, ok := p.store.Get(id); !ok {
		p.selected = ""
		return false
	}
	p.selected = id
	return true
}

// Selected returns the current event, re-read from the store so status
// changes are reflected.
func (p *Panel) Selected() (model.CalendarEvent, bool) {
	if p.selected == "" {
		return model.CalendarEvent{}, false
	}
	ev, ok := p.store.Get(p.selected)
	if !ok {
		// Deleted out from under us; drop the selection.
		p.selected = ""
	}
	return ev, ok
}

// Clear closes the panel. Clicking empty grid space maps here.
func (p *Panel) Clear() {
	p.selected = ""
}

// CanModerate reports whether approve/reject are enabled: only for a
// pending leave-type event.
func (p *Panel) CanModerate() bool {
	ev, ok := p.Selected()
	return ok && ev.Type == model.TypeLeave && ev.Status == model.StatusPending
}

// Approve marks the selected leave request approved. Once approved or
// rejected, further approve/reject calls are no-ops.
func (p *Panel) Approve(ctx context.Context) error {
	return p.moderate(ctx, model.StatusApproved)
}

// Reject marks the selected leave request rejected.
func (p *Panel) Reject(ctx context.Context) error {
	return p.moderate(ctx, model.StatusRejected)
}

func (p *Panel) moderate(ctx context.Context, status model.LeaveStatus) error {
	if !p.CanModerate() {
		return nil
	}
	return p.store.SetStatus(ctx, p.selected, status)
}

// Delete removes the selected event and closes the panel.
func (p *Panel) Delete(ctx context.Context) error {
	if p.selected == "" {
		return nil
	}
	id := p.selected
	if err := p.store.Delete(ctx, id); err != nil {
		return err
	}
	p.selected = ""
	return nil
}
