package filter

import (
	"sync"

	"opscal/internal/model"
)

// Registry holds exactly one visibility entry per event type. It resets to
// all-enabled every session; toggles are never persisted and never mutate
// the event collection.
type Registry struct {
	mu      sync.RWMutex
	entries []model.CalendarFilter
}

// NewRegistry builds the default all-enabled registry. colorOverrides may
// replace the built-in display color per type; it can be nil.
func NewRegistry(colorOverrides map[model.EventType]string) *Registry {
	entries := make([]model.CalendarFilter, 0, len(model.Types))
	for _, t := range model.Types {
		spec, _ := model.SpecFor(t)
		color := spec.Color
		if c, ok := colorOverrides[t]; ok {
			color = c
		}
		entries = append(entries, model.CalendarFilter{
			Type:    t,
			Enabled: true,
			Label:   spec.Label,
			Color:   color,
		})
	}
	return &Registry{entries: entries}
}

// Toggle flips the enabled flag for exactly one entry and reports whether
// the type was known.
func (r *Registry) Toggle(t model.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].Type == t {
			r.entries[i].Enabled = !r.entries[i].Enabled
			return true
		}
	}
	return false
}

// Filters returns a snapshot of all entries in display order.
func (r *Registry) Filters() []model.CalendarFilter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.CalendarFilter, len(r.entries))
	copy(out, r.entries)
	return out
}

// Enabled reports whether the given type is currently visible.
func (r *Registry) Enabled(t model.EventType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Type == t {
			return e.Enabled
		}
	}
	return false
}

// Visible returns the set of currently enabled types.
func (r *Registry) Visible() map[model.EventType]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[model.EventType]bool)
	for _, e := range r.entries {
		if e.Enabled {
			out[e.Type] = true
		}
	}
	return out
}

// ColorFor returns the display color for the given type, or "" for an
// unknown type. This implements store.Colors.
func (r *Registry) ColorFor(t model.EventType) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Type == t {
			return e.Color
		}
	}
	return ""
}

// Apply returns the subset of events whose type is enabled, preserving
// order. It is a pure view over the input.
func (r *Registry) Apply(events []model.CalendarEvent) []model.CalendarEvent {
	visible := r.Visible()
	out := make([]model.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if visible[ev.Type] {
			out = append(out, ev)
		}
	}
	return out
}
