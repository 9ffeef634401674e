// Package schedule compiles stored tasks into per-engineer, display-ready
// schedule views annotated with permitted transitions and editability.
package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloud-shuttle/fieldsync/internal/clock"
	"github.com/cloud-shuttle/fieldsync/internal/convert"
	"github.com/cloud-shuttle/fieldsync/internal/lifecycle"
	"github.com/cloud-shuttle/fieldsync/internal/logging"
	"github.com/cloud-shuttle/fieldsync/internal/policy"
	"github.com/cloud-shuttle/fieldsync/internal/schema"
	"github.com/cloud-shuttle/fieldsync/pkg/telemetry"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// Store is the read access the compiler needs
type Store interface {
	Find(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error)
	FindOne(ctx context.Context, filter types.TaskFilter) (*types.Task, error)
}

// Field is one projected property of a task
type Field struct {
	Type           string                  `json:"type"`
	DisplayName    string                  `json:"displayName,omitempty"`
	ReadOnly       bool                    `json:"readOnly"`
	Value          any                     `json:"value"`
	MaxLength      int                     `json:"maxlength,omitempty"`
	Mask           string                  `json:"mask,omitempty"`
	ValidateRegexp string                  `json:"validateRegexp,omitempty"`
	Transitions    *lifecycle.Destinations `json:"transitions,omitempty"`
	TaskIsEditable *bool                   `json:"taskIsEditable,omitempty"`
}

// TaskView is a task projected for display, keyed by property name
type TaskView map[string]Field

// View maps engineer id to that engineer's ordered tasks
type View map[string][]TaskView

// Deps holds the collaborators of a Compiler
type Deps struct {
	Store     Store
	Schema    *schema.Schema
	Diagram   *lifecycle.Diagram
	Policy    *policy.Engine
	Converter *convert.Pipeline
	Days      *clock.Resolver
	Logger    *slog.Logger
}

// Compiler builds schedule views
type Compiler struct {
	store   Store
	schema  *schema.Schema
	diagram *lifecycle.Diagram
	policy  *policy.Engine
	conv    *convert.Pipeline
	days    *clock.Resolver
	logger  *slog.Logger
}

// NewCompiler creates a compiler
func NewCompiler(d Deps) *Compiler {
	return &Compiler{
		store:   d.Store,
		schema:  d.Schema,
		diagram: d.Diagram,
		policy:  d.Policy,
		conv:    d.Converter,
		days:    d.Days,
		logger:  logging.Component(d.Logger, "schedule"),
	}
}

// Days returns the day resolver used for windows
func (c *Compiler) Days() *clock.Resolver { return c.days }

// Compile returns the schedule of each engineer for the day at offset.
// Every requested engineer appears in the result, with an empty sequence
// when they have no tasks that day.
func (c *Compiler) Compile(ctx context.Context, engineerIDs []string, offset int) (View, error) {
	ctx, span := telemetry.StartScheduleSpan(ctx, telemetry.SpanScheduleCompile, engineerIDs, offset)
	defer span.End()

	view := make(View, len(engineerIDs))
	for _, id := range engineerIDs {
		view[id] = []TaskView{}
	}
	if len(engineerIDs) == 0 {
		return view, nil
	}

	start, end := c.days.Window(offset)
	from, before := start.UnixMilli(), end.UnixMilli()
	tasks, err := c.store.Find(ctx, types.TaskFilter{
		EngineerIDs: engineerIDs,
		StartFrom:   &from,
		StartBefore: &before,
	})
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryStorage)
		return nil, fmt.Errorf("compiling schedule: %w", err)
	}

	groups := make(map[string][]*types.Task)
	for _, t := range tasks {
		status := t.Text(c.schema.StatusProperty())
		if !c.diagram.Known(status) {
			c.logger.Debug("skipping task with unconfigured status", "task", t.TaskID, "status", status)
			continue
		}
		groups[t.AssignedTo] = append(groups[t.AssignedTo], t)
	}

	for engineer, group := range groups {
		types.SortByStart(group)
		editable := c.policy.Annotate(group)
		for i, t := range group {
			view[engineer] = append(view[engineer], c.project(t, true, &editable[i]))
		}
	}
	return view, nil
}

// Details returns every configured property of one of the engineer's tasks
func (c *Compiler) Details(ctx context.Context, engineerID, taskID string) (TaskView, error) {
	ctx, span := telemetry.StartTaskSpan(ctx, telemetry.SpanScheduleDetails, taskID, engineerID)
	defer span.End()

	task, err := c.store.FindOne(ctx, types.TaskFilter{TaskID: taskID})
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryStorage)
		return nil, fmt.Errorf("loading task %s: %w", taskID, err)
	}
	if task == nil {
		return nil, fmt.Errorf("task %s: %w", taskID, types.ErrNotFound)
	}
	if task.AssignedTo != engineerID {
		return nil, fmt.Errorf("task %s is not assigned to %s: %w", taskID, engineerID, types.ErrAuthorizationDenied)
	}
	return c.project(task, false, nil), nil
}

// project converts a task for display. When visibleOnly is set, properties
// hidden from the schedule are left out.
func (c *Compiler) project(t *types.Task, visibleOnly bool, editable *bool) TaskView {
	tv := make(TaskView)
	for _, p := range c.schema.Properties() {
		if visibleOnly && !p.VisibleInSchedule {
			continue
		}
		raw, ok := t.Get(p.Name)
		if !ok {
			continue
		}
		value, err := c.conv.Convert(p.Name, raw, convert.ToDisplay)
		if err != nil {
			c.logger.Warn("dropping unconvertible value", "task", t.TaskID, "property", p.Name, "error", err)
			continue
		}

		f := Field{
			Type:        string(p.Type),
			DisplayName: p.DisplayName,
			ReadOnly:    p.ReadOnly,
			Value:       value,
		}
		if p.Name == c.schema.StatusProperty() {
			dest := c.diagram.PossibleDestinations(t.Text(p.Name))
			f.Transitions = &dest
			f.TaskIsEditable = editable
		}
		switch p.Type {
		case schema.TypeString:
			if !p.ReadOnly && p.MaxLength > 0 {
				f.MaxLength = p.MaxLength
			}
		case schema.TypeDatetime, schema.TypeDuration:
			f.Mask = p.DisplayFormat
			f.ValidateRegexp = p.ValidationPattern
		}
		tv[p.Name] = f
	}
	return tv
}
