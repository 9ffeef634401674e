// Package types defines core data structures for fieldsync
package types

import (
	"fmt"
	"sort"
)

// Action is the kind of change an inbound dispatch event carries
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is one of the known actions
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Task is a stored task record. Properties are keyed by configured property
// name and hold storage-normalized values; TaskID and Start mirror the
// designated identifier and start-time properties so storage can index them.
type Task struct {
	StorageID  int64          `json:"_id"`
	TaskID     string         `json:"taskId"`
	AssignedTo string         `json:"_assignedTo"`
	Start      int64          `json:"start"`
	Properties map[string]any `json:"properties"`
	UpdatedAt  int64          `json:"updated_at"`
}

// Get returns the stored value of a property
func (t *Task) Get(name string) (any, bool) {
	if t == nil || t.Properties == nil {
		return nil, false
	}
	v, ok := t.Properties[name]
	return v, ok
}

// Text returns a property value formatted as a string, or "" when absent
func (t *Task) Text(name string) string {
	v, ok := t.Get(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Clone returns a deep copy of the record's top-level property map
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Properties = make(map[string]any, len(t.Properties))
	for k, v := range t.Properties {
		c.Properties[k] = v
	}
	return &c
}

// SortByStart orders tasks ascending by start time, breaking ties by storage id
func SortByStart(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Start != tasks[j].Start {
			return tasks[i].Start < tasks[j].Start
		}
		return tasks[i].StorageID < tasks[j].StorageID
	})
}

// TaskFilter selects stored tasks. Zero-valued fields do not constrain.
type TaskFilter struct {
	TaskID      string
	EngineerIDs []string
	// StartFrom is inclusive, StartBefore exclusive; both epoch milliseconds.
	StartFrom   *int64
	StartBefore *int64
}

// Empty reports whether the filter selects every record
func (f TaskFilter) Empty() bool {
	return f.TaskID == "" && len(f.EngineerIDs) == 0 && f.StartFrom == nil && f.StartBefore == nil
}

// InboundEvent is a dispatch event demultiplexed from its wire format.
// Properties hold storage-normalized values.
type InboundEvent struct {
	Action     Action         `json:"action"`
	AssignedTo string         `json:"assignedTo"`
	Properties map[string]any `json:"properties"`
}

// Ack is the acknowledgement returned to the dispatch authority for one event
type Ack struct {
	Action  Action `json:"action"`
	Success bool   `json:"success"`
}

// WireField is one property of an outbound message in wire representation
type WireField struct {
	Object string `json:"object"`
	Name   string `json:"name"`
	Value  string `json:"value"`
}

// OutboundMessage carries an engineer-initiated change to the dispatch authority
type OutboundMessage struct {
	ID         string      `json:"id"`
	TaskID     string      `json:"taskId"`
	EngineerID string      `json:"engineerId"`
	Fields     []WireField `json:"fields"`
	CreatedAt  int64       `json:"created_at"`
}
