package grid

import (
	"time"

	"opscal/internal/model"
)

// ViewMode selects the calendar layout. Only the week view is functional;
// the others are explicit placeholders and must render a neutral empty
// state, never an error.
type ViewMode string

const (
	ViewMonth  ViewMode = "month"
	ViewWeek   ViewMode = "week"
	ViewDay    ViewMode = "day"
	ViewAgenda ViewMode = "agenda"
)

func (v ViewMode) Valid() bool {
	switch v {
	case ViewMonth, ViewWeek, ViewDay, ViewAgenda:
		return true
	}
	return false
}

// Implemented reports whether the view has a real grid behind it.
func (v ViewMode) Implemented() bool {
	return v == ViewWeek
}

// HoursPerDay is the number of hour rows in the week grid.
const HoursPerDay = 24

// Cell identifies one (day, hour) unit of the week grid, used both for
// placement and as a drop target. Day is a midnight in the display zone.
type Cell struct {
	Day  time.Time
	Hour int
}

// At returns the instant at the top of the cell.
func (c Cell) At() time.Time {
	return time.Date(c.Day.Year(), c.Day.Month(), c.Day.Day(), c.Hour, 0, 0, 0, c.Day.Location())
}

// Week is the projected 7-day grid. Cells[d][h] holds the events whose start
// falls on day d at hour h, in the insertion order of the source collection.
type Week struct {
	View        ViewMode
	Placeholder bool
	Days        [7]time.Time
	Cells       [7][HoursPerDay][]model.CalendarEvent
}

// Projector computes which events occupy which (day, hour) cell for the
// 7-day window around a reference date.
type Projector struct {
	ref       time.Time
	loc       *time.Location
	weekStart time.Weekday
	view      ViewMode
}

// NewProjector creates a projector anchored at ref. loc is the display
// timezone (nil means time.Local); weekStart is the weekday rendered at day
// index 0.
func NewProjector(ref time.Time, loc *time.Location, weekStart time.Weekday) *Projector {
	if loc == nil {
		loc = time.Local
	}
	return &Projector{
		ref:       ref.In(loc),
		loc:       loc,
		weekStart: weekStart,
		view:      ViewWeek,
	}
}

// Reference returns the current reference date.
func (p *Projector) Reference() time.Time { return p.ref }

// View returns the active view mode.
func (p *Projector) View() ViewMode { return p.view }

// SetView switches the view mode; unknown values fall back to week.
func (p *Projector) SetView(v ViewMode) {
	if !v.Valid() {
		v = ViewWeek
	}
	p.view = v
}

// Next advances the reference date by exactly 7 days in week view. The
// placeholder views do not navigate.
func (p *Projector) Next() {
	if p.view == ViewWeek {
		p.ref = p.ref.AddDate(0, 0, 7)
	}
}

// Prev moves the reference date back by exactly 7 days in week view.
func (p *Projector) Prev() {
	if p.view == ViewWeek {
		p.ref = p.ref.AddDate(0, 0, -7)
	}
}

// WeekDays returns the 7 midnights of the visible week, starting at the
// week boundary on or before the reference date.
func (p *Projector) WeekDays() [7]time.Time {
	anchor := weekAnchor(p.ref, p.weekStart, p.loc)
	var days [7]time.Time
	for i := 0; i < 7; i++ {
		days[i] = anchor.AddDate(0, 0, i)
	}
	return days
}

// Project places each event into the single cell matching its start calendar
// day (by local date, not instant) and start hour. Events spanning several
// hours still render only in their start-hour cell. Events outside the
// visible week are dropped.
func (p *Projector) Project(events []model.CalendarEvent) Week {
	w := Week{View: p.view}
	if !p.view.Implemented() {
		w.Placeholder = true
		return w
	}

	w.Days = p.WeekDays()

	for _, ev := range events {
		local := ev.Start.In(p.loc)
		day := midnight(local)
		for d := 0; d < 7; d++ {
			if day.Equal(w.Days[d]) {
				h := local.Hour()
				w.Cells[d][h] = append(w.Cells[d][h], ev)
				break
			}
		}
	}

	return w
}

// weekAnchor returns the midnight of the week boundary on or before ref.
func weekAnchor(ref time.Time, weekStart time.Weekday, loc *time.Location) time.Time {
	d := midnight(ref.In(loc))
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
