package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of event categories the scheduling view knows.
type EventType string

const (
	TypeInterview EventType = "interview"
	TypeLeave     EventType = "leave"
	TypeShift     EventType = "shift"
	TypeEvent     EventType = "event"
	TypeReminder  EventType = "reminder"
)

// Types lists all event types in display order.
var Types = []EventType{TypeInterview, TypeLeave, TypeShift, TypeEvent, TypeReminder}

func (t EventType) Valid() bool {
	_, ok := typeSpecs[t]
	return ok
}

// LeaveStatus is the approval state of a leave-type event. It has no meaning
// for other event types.
type LeaveStatus string

const (
	StatusPending  LeaveStatus = "pending"
	StatusApproved LeaveStatus = "approved"
	StatusRejected LeaveStatus = "rejected"
)

func (s LeaveStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// CalendarEvent is a single scheduled occurrence. Start and End are absolute
// instants; End must be strictly after Start for any committed event.
type CalendarEvent struct {
	ID    string    `json:"id"`
	Title string    `json:"title"`
	Type  EventType `json:"type"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	// Optional foreign references owned by the HR / applicant subsystems.
	// The scheduling core never resolves these.
	EmployeeID  string `json:"employee_id,omitempty"`
	CandidateID string `json:"candidate_id,omitempty"`
	TeamID      string `json:"team_id,omitempty"`

	// Status is populated only for leave-type events.
	Status LeaveStatus `json:"status,omitempty"`

	Color string `json:"color,omitempty"`
}

// Duration returns the event length.
func (e CalendarEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// CalendarFilter is a per-type visibility toggle plus display metadata.
// There is exactly one filter entry per event type.
type CalendarFilter struct {
	Type    EventType `json:"type"`
	Enabled bool      `json:"enabled"`
	Label   string    `json:"label"`
	Color   string    `json:"color"`
}

// TypeSpec carries the per-type defaults consulted at event creation time.
type TypeSpec struct {
	Label string
	Color string
	// RequiresStatus marks types whose events carry an approval status.
	RequiresStatus bool
}

var typeSpecs = map[EventType]TypeSpec{
	TypeInterview: {Label: "Interviews", Color: "#3B82F6"},
	TypeLeave:     {Label: "Leave", Color: "#EF4444", RequiresStatus: true},
	TypeShift:     {Label: "Shifts", Color: "#10B981"},
	TypeEvent:     {Label: "Events", Color: "#8B5CF6"},
	TypeReminder:  {Label: "Reminders", Color: "#F59E0B"},
}

// SpecFor returns the defaults for the given event type.
func SpecFor(t EventType) (TypeSpec, bool) {
	spec, ok := typeSpecs[t]
	return spec, ok
}

// NewID generates a client-side event id for optimistic inserts. The backing
// store keeps it as-is on confirmation.
func NewID() string {
	return uuid.NewString()
}
