package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloud-shuttle/fieldsync/internal/convert"
	"github.com/cloud-shuttle/fieldsync/internal/schedule"
	"github.com/cloud-shuttle/fieldsync/pkg/telemetry"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// ErrNoScheduleSource is returned by Populate when no source is configured
var ErrNoScheduleSource = errors.New("no schedule source configured")

// Populate replaces an engineer's stored tasks with the schedule provided by
// the dispatch authority and returns the compiled view for the day offset.
// Entries are inserted one at a time so a failure leaves a consistent prefix.
func (e *Engine) Populate(ctx context.Context, engineerID string, offset int) ([]schedule.TaskView, error) {
	ctx, span := telemetry.StartScheduleSpan(ctx, telemetry.SpanSchedulePopulate, []string{engineerID}, offset)
	defer span.End()

	tasks, err := e.populate(ctx, engineerID, offset)
	telemetry.RecordErrorWithStatus(span, err, errorCategory(err))
	if err != nil {
		e.logger.Error("populating schedule failed", "engineer", engineerID, "error", err)
		return nil, err
	}
	return tasks, nil
}

func (e *Engine) populate(ctx context.Context, engineerID string, offset int) ([]schedule.TaskView, error) {
	if e.source == nil {
		return nil, ErrNoScheduleSource
	}
	entries, err := e.source.Schedule(ctx, engineerID, offset)
	if err != nil {
		return nil, fmt.Errorf("fetching schedule of %s: %w", engineerID, err)
	}

	removed, err := e.store.Remove(ctx, types.TaskFilter{EngineerIDs: []string{engineerID}})
	if err != nil {
		return nil, err
	}

	for i, entry := range entries {
		props, err := e.conv.Record(entry, convert.ToStorage)
		if err != nil {
			return nil, fmt.Errorf("schedule entry %d: %w", i, err)
		}
		task, err := e.schema.NewTask(engineerID, props)
		if err != nil {
			return nil, fmt.Errorf("schedule entry %d: %w", i, err)
		}
		// The dispatch authority is the source of truth for assignment.
		if _, err := e.store.Remove(ctx, types.TaskFilter{TaskID: task.TaskID}); err != nil {
			return nil, err
		}
		if _, err := e.store.Insert(ctx, task); err != nil {
			return nil, err
		}
	}
	e.logger.Info("schedule populated", "engineer", engineerID, "removed", removed, "inserted", len(entries))

	view, err := e.compiler.Compile(ctx, []string{engineerID}, offset)
	if err != nil {
		return nil, err
	}
	return view[engineerID], nil
}
