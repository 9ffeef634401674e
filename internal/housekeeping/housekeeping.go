// Package housekeeping periodically purges stale sessions and past tasks
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cloud-shuttle/fieldsync/internal/clock"
	"github.com/cloud-shuttle/fieldsync/internal/logging"
	"github.com/cloud-shuttle/fieldsync/pkg/telemetry"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// DefaultSchedule runs a pass at the top of every hour
const DefaultSchedule = "@hourly"

// retention is how many whole days before today are kept
const retention = 2

// SessionPurger removes sessions idle since before a cutoff
type SessionPurger interface {
	Purge(ctx context.Context, cutoff time.Time) (int64, error)
}

// TaskPurger removes stored tasks
type TaskPurger interface {
	Remove(ctx context.Context, filter types.TaskFilter) (int64, error)
}

// Result summarizes one pass
type Result struct {
	Sessions int64
	Tasks    int64
	// TasksSkipped is set when a fake date keeps past tasks in place
	TasksSkipped bool
}

// Janitor runs housekeeping passes on a cron schedule
type Janitor struct {
	sessions SessionPurger
	tasks    TaskPurger
	days     *clock.Resolver
	logger   *slog.Logger
	cron     *cron.Cron
}

// New creates a janitor
func New(sessions SessionPurger, tasks TaskPurger, days *clock.Resolver, logger *slog.Logger) *Janitor {
	return &Janitor{
		sessions: sessions,
		tasks:    tasks,
		days:     days,
		logger:   logging.Component(logger, "housekeeping"),
	}
}

// Start schedules passes. spec is a standard cron expression or descriptor.
func (j *Janitor) Start(spec string) error {
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(spec, func() {
		if _, err := j.RunOnce(context.Background()); err != nil {
			j.logger.Error("housekeeping pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling housekeeping %q: %w", spec, err)
	}
	j.cron.Start()
	j.logger.Info("housekeeping scheduled", "schedule", spec)
	return nil
}

// Stop stops the schedule and waits for a running pass
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

// RunOnce purges sessions that were never identified or were last used before
// the start of the day two days ago. Unless a fake date is configured, it also
// purges tasks starting before the end of that day.
func (j *Janitor) RunOnce(ctx context.Context) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanHousekeeping)
	defer span.End()

	var res Result
	cutoff := j.days.Today().AddDate(0, 0, -retention)

	n, err := j.sessions.Purge(ctx, cutoff)
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryStorage)
		return res, fmt.Errorf("purging sessions: %w", err)
	}
	res.Sessions = n

	if j.days.Faked() {
		res.TasksSkipped = true
		j.logger.Info("fake date set, keeping past tasks", "sessions_purged", n)
		return res, nil
	}

	before := cutoff.Add(24 * time.Hour).UnixMilli()
	n, err = j.tasks.Remove(ctx, types.TaskFilter{StartBefore: &before})
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryStorage)
		return res, fmt.Errorf("purging tasks: %w", err)
	}
	res.Tasks = n
	j.logger.Info("housekeeping pass complete", "sessions_purged", res.Sessions, "tasks_purged", res.Tasks,
		"cutoff", cutoff.Format(time.DateOnly))
	return res, nil
}
