// Package lifecycle implements the task status state machine over a
// configured state diagram. All operations are pure lookups.
package lifecycle

import (
	"encoding/json"
	"fmt"

	"github.com/cloud-shuttle/fieldsync/internal/schema"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// Diagram answers transition queries for a fixed set of statuses
type Diagram struct {
	states map[string]schema.Status
	names  []string
}

// New indexes the given statuses
func New(states []schema.Status) *Diagram {
	d := &Diagram{states: make(map[string]schema.Status, len(states))}
	for _, st := range states {
		d.states[st.Name] = st
		d.names = append(d.names, st.Name)
	}
	return d
}

// Known reports whether status is part of the diagram
func (d *Diagram) Known(status string) bool {
	_, ok := d.states[status]
	return ok
}

// Names returns the configured statuses in configuration order
func (d *Diagram) Names() []string { return d.names }

// IsTransitionValid reports whether to is an allowed successor of from.
// An unknown from status never has valid transitions.
func (d *Diagram) IsTransitionValid(from, to string) bool {
	st, ok := d.states[from]
	if !ok {
		return false
	}
	for _, t := range st.Transitions {
		if t == to {
			return true
		}
	}
	return false
}

// PossibleDestinations returns the statuses reachable from status, or None
// when status is unknown or has no outgoing transitions.
func (d *Diagram) PossibleDestinations(status string) Destinations {
	st, ok := d.states[status]
	if !ok || len(st.Transitions) == 0 {
		return None()
	}
	return Some(st.Transitions...)
}

// IsTerminal reports whether status requires a timesheet
func (d *Diagram) IsTerminal(status string) (bool, error) {
	st, ok := d.states[status]
	if !ok {
		return false, fmt.Errorf("%w: %q", types.ErrUnknownStatus, status)
	}
	return st.Terminal, nil
}

// Destinations is either a non-empty set of statuses or None
type Destinations struct {
	statuses []string
	some     bool
}

// None is the absence of further transitions
func None() Destinations { return Destinations{} }

// Some wraps a set of reachable statuses
func Some(statuses ...string) Destinations {
	cp := make([]string, len(statuses))
	copy(cp, statuses)
	return Destinations{statuses: cp, some: true}
}

// Get returns the statuses and whether any exist
func (d Destinations) Get() ([]string, bool) { return d.statuses, d.some }

// IsNone reports whether there are no further transitions
func (d Destinations) IsNone() bool { return !d.some }

// Contains reports whether status is a destination
func (d Destinations) Contains(status string) bool {
	for _, s := range d.statuses {
		if s == status {
			return true
		}
	}
	return false
}

// MarshalJSON encodes None as null and Some as an array
func (d Destinations) MarshalJSON() ([]byte, error) {
	if !d.some {
		return []byte("null"), nil
	}
	return json.Marshal(d.statuses)
}
