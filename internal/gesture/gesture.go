// Package gesture models drag-and-drop rescheduling as a transport-free
// state machine. The carrying mechanism (native drag events, pointer events,
// a test harness) only needs to report Begin/Enter/Drop/Cancel; no store
// mutation happens before a drop on a valid cell.
package gesture

import (
	"context"
	"errors"
	"time"

	"opscal/internal/grid"
	"opscal/internal/model"
)

// Phase is the gesture state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDragging
)

var (
	ErrUnknownEvent = errors.New("gesture: unknown event id")
	ErrNotDragging  = errors.New("gesture: no drag in progress")
)

// Rescheduler is the store subset the gesture engine commits against.
type Rescheduler interface {
	Get(id string) (model.CalendarEvent, bool)
	Reschedule(ctx context.Context, id string, newStart time.Time) error
}

// Drag tracks a single in-flight gesture. It carries only the dragged event
// id and the hovered cell; the hovered cell is visual feedback state and is
// never written to the store.
type Drag struct {
	store Rescheduler

	phase   Phase
	eventID string
	hover   grid.Cell
	hovered bool
}

func New(store Rescheduler) *Drag {
	return &Drag{store: store}
}

func (d *Drag) Phase() Phase { return d.phase }

// EventID returns the drag payload, empty when idle.
func (d *Drag) EventID() string { return d.eventID }

// Hover returns the current candidate drop cell, if any.
func (d *Drag) Hover() (grid.Cell, bool) {
	return d.hover, d.hovered && d.phase == PhaseDragging
}

// Begin starts a drag originating on the given event item.
func (d *Drag) Begin(id string) error {
	if _, ok := d.store.Get(id); !ok {
		return ErrUnknownEvent
	}
	d.phase = PhaseDragging
	d.eventID = id
	d.hovered = false
	return nil
}

// Enter records the cell under the pointer. It has no effect outside a drag.
func (d *Drag) Enter(cell grid.Cell) {
	if d.phase != PhaseDragging {
		return
	}
	d.hover = cell
	d.hovered = true
}

// Leave clears the candidate drop cell.
func (d *Drag) Leave() {
	d.hovered = false
}

// Cancel aborts the gesture without mutating the store. Dropping outside any
// valid cell is a cancel.
func (d *Drag) Cancel() {
	d.reset()
}

// Drop commits the gesture over the given cell: the event moves to the
// target day and hour, keeping its original minute/second offset and its
// duration. The gesture returns to idle whether or not the store accepts;
// on error the caller reverts the visual position, since the store was left
// at the pre-drag state.
func (d *Drag) Drop(ctx context.Context, cell grid.Cell) error {
	if d.phase != PhaseDragging {
		return ErrNotDragging
	}
	id := d.eventID
	d.reset()

	ev, ok := d.store.Get(id)
	if !ok {
		return ErrUnknownEvent
	}

	orig := ev.Start.In(cell.Day.Location())
	newStart := time.Date(
		cell.Day.Year(), cell.Day.Month(), cell.Day.Day(),
		cell.Hour, orig.Minute(), orig.Second(), 0,
		cell.Day.Location(),
	)

	return d.store.Reschedule(ctx, id, newStart)
}

func (d *Drag) reset() {
	d.phase = PhaseIdle
	d.eventID = ""
	d.hovered = false
}
