// Package policy decides which of an engineer's tasks may currently be edited.
//
// With dripfeed disabled every task whose status has outgoing transitions is
// editable. With dripfeed enabled the engineer's schedule is walked in start
// order and only the first task that still has transitions is editable.
package policy

import (
	"fmt"

	"github.com/cloud-shuttle/fieldsync/internal/lifecycle"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// Engine evaluates editability against a state diagram
type Engine struct {
	diagram        *lifecycle.Diagram
	statusProperty string
	dripfeed       bool
}

// New creates a policy engine
func New(diagram *lifecycle.Diagram, statusProperty string, dripfeed bool) *Engine {
	return &Engine{diagram: diagram, statusProperty: statusProperty, dripfeed: dripfeed}
}

// Dripfeed reports whether sequential mode is enabled
func (e *Engine) Dripfeed() bool { return e.dripfeed }

func (e *Engine) open(t *types.Task) bool {
	return !e.diagram.PossibleDestinations(t.Text(e.statusProperty)).IsNone()
}

// Annotate returns the editability of each task of one engineer's schedule.
// The schedule must already be sorted by start time.
func (e *Engine) Annotate(sorted []*types.Task) []bool {
	out := make([]bool, len(sorted))
	if !e.dripfeed {
		for i, t := range sorted {
			out[i] = e.open(t)
		}
		return out
	}
	for i, t := range sorted {
		if e.open(t) {
			out[i] = true
			break
		}
	}
	return out
}

// Check decides whether taskID may be edited by the owner of schedule.
// schedule holds every task assigned to the engineer, in any order.
//
// It returns nil when editable, ErrNotEditable when the task has no further
// transitions, ErrPolicyViolation when an earlier task is still open, and
// ErrAuthorizationDenied when the task is not part of the schedule.
func (e *Engine) Check(schedule []*types.Task, taskID string) error {
	if len(schedule) == 0 {
		return fmt.Errorf("%w: empty schedule, task %s is not assigned", types.ErrAuthorizationDenied, taskID)
	}

	if !e.dripfeed {
		for _, t := range schedule {
			if t.TaskID != taskID {
				continue
			}
			if !e.open(t) {
				return fmt.Errorf("%w: task %s has status %q", types.ErrNotEditable, taskID, t.Text(e.statusProperty))
			}
			return nil
		}
		return fmt.Errorf("%w: task %s is not assigned", types.ErrAuthorizationDenied, taskID)
	}

	sorted := make([]*types.Task, len(schedule))
	copy(sorted, schedule)
	types.SortByStart(sorted)

	for _, t := range sorted {
		if t.TaskID == taskID {
			if !e.open(t) {
				return fmt.Errorf("%w: task %s has status %q", types.ErrNotEditable, taskID, t.Text(e.statusProperty))
			}
			return nil
		}
		if e.open(t) {
			return fmt.Errorf("%w: task %s must be finished before %s", types.ErrPolicyViolation, t.TaskID, taskID)
		}
	}
	return fmt.Errorf("%w: task %s is not assigned", types.ErrAuthorizationDenied, taskID)
}
