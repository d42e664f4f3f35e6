// Package ics publishes the visible schedule as an iCalendar feed so
// recruiters can subscribe from their own calendar clients.
package ics

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"opscal/internal/model"
)

const prodID = "-//opscal//calendar//EN"

// Export serializes the given events into a VCALENDAR payload. Event order
// follows the input; filtering is the caller's concern.
func Export(events []model.CalendarEvent, name string) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(prodID)
	if name != "" {
		cal.SetName(name)
		cal.SetXWRCalName(name)
	}

	now := time.Now().UTC()
	for _, ev := range events {
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(now)
		ve.SetStartAt(ev.Start)
		ve.SetEndAt(ev.End)
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		// Carry the category so clients can color-code the way the
		// week grid does.
		ve.AddProperty(ical.ComponentPropertyCategories, string(ev.Type))
	}

	return cal.Serialize()
}
