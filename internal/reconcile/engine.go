// Package reconcile applies dispatch events and engineer transitions to the
// task store and refreshes the live sessions they affect.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cloud-shuttle/fieldsync/internal/convert"
	"github.com/cloud-shuttle/fieldsync/internal/events"
	"github.com/cloud-shuttle/fieldsync/internal/lifecycle"
	"github.com/cloud-shuttle/fieldsync/internal/logging"
	"github.com/cloud-shuttle/fieldsync/internal/metrics"
	"github.com/cloud-shuttle/fieldsync/internal/policy"
	"github.com/cloud-shuttle/fieldsync/internal/schedule"
	"github.com/cloud-shuttle/fieldsync/internal/schema"
	"github.com/cloud-shuttle/fieldsync/pkg/telemetry"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// fanoutTimeout bounds one background schedule refresh
const fanoutTimeout = 30 * time.Second

// TaskStore is the storage the engine mutates
type TaskStore interface {
	Find(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error)
	FindOne(ctx context.Context, filter types.TaskFilter) (*types.Task, error)
	Insert(ctx context.Context, task *types.Task) (int64, error)
	UpdateByID(ctx context.Context, id int64, task *types.Task) (int64, error)
	Remove(ctx context.Context, filter types.TaskFilter) (int64, error)
}

// SessionLookup finds the live sessions of engineers
type SessionLookup interface {
	SessionsFor(ctx context.Context, engineerIDs []string) ([]types.SessionRef, error)
}

// Pusher delivers fire-and-forget messages to sessions
type Pusher interface {
	SendTo(sessionID, event string, data any) int
}

// Forwarder hands outbound messages to the dispatch authority
type Forwarder interface {
	Forward(ctx context.Context, msg *types.OutboundMessage) error
}

// ScheduleSource provides an engineer's full schedule from the dispatch authority.
// Entries hold wire-format values keyed by property name.
type ScheduleSource interface {
	Schedule(ctx context.Context, engineerID string, dayOffset int) ([]map[string]any, error)
}

// Deps holds the collaborators of an Engine
type Deps struct {
	Store     TaskStore
	Sessions  SessionLookup
	Push      Pusher
	Compiler  *schedule.Compiler
	Schema    *schema.Schema
	Diagram   *lifecycle.Diagram
	Policy    *policy.Engine
	Converter *convert.Pipeline
	Forwarder Forwarder
	Source    ScheduleSource
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Engine is the reconciliation engine
type Engine struct {
	store     TaskStore
	sessions  SessionLookup
	push      Pusher
	compiler  *schedule.Compiler
	schema    *schema.Schema
	diagram   *lifecycle.Diagram
	policy    *policy.Engine
	conv      *convert.Pipeline
	forwarder Forwarder
	source    ScheduleSource
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// background tracks fanout and forwarding started after a mutation
	background sync.WaitGroup
}

// New creates an engine
func New(d Deps) *Engine {
	return &Engine{
		store:     d.Store,
		sessions:  d.Sessions,
		push:      d.Push,
		compiler:  d.Compiler,
		schema:    d.Schema,
		diagram:   d.Diagram,
		policy:    d.Policy,
		conv:      d.Converter,
		forwarder: d.Forwarder,
		source:    d.Source,
		metrics:   d.Metrics,
		logger:    logging.Component(d.Logger, "reconcile"),
	}
}

// Flush waits until background pushes and forwards have finished
func (e *Engine) Flush() {
	e.background.Wait()
}

// Apply processes one inbound dispatch event and returns its acknowledgement.
// The acknowledgement reflects only the storage outcome; session refreshes
// run in the background after the mutation.
func (e *Engine) Apply(ctx context.Context, ev *types.InboundEvent) (types.Ack, error) {
	taskID := textOf(ev.Properties[e.schema.IdentifierProperty()])
	ctx, span := telemetry.StartTaskSpan(ctx, telemetry.SpanReconcileApply, taskID, ev.AssignedTo)
	defer span.End()
	telemetry.SetAction(span, ev.Action)

	var err error
	switch ev.Action {
	case types.ActionCreate:
		err = e.create(ctx, ev)
	case types.ActionUpdate:
		err = e.update(ctx, ev)
	case types.ActionDelete:
		err = e.remove(ctx, ev)
	default:
		err = fmt.Errorf("%w: unknown action %q", types.ErrValidationFailed, ev.Action)
	}

	ack := types.Ack{Action: ev.Action, Success: err == nil}
	e.metrics.Inbound(ev.Action, ack.Success)
	telemetry.RecordErrorWithStatus(span, err, errorCategory(err))
	if err != nil {
		e.logger.Error("dispatch event failed", "action", ev.Action, "task", taskID, "engineer", ev.AssignedTo, "error", err)
	} else {
		e.logger.Info("dispatch event applied", "action", ev.Action, "task", taskID, "engineer", ev.AssignedTo)
	}
	return ack, err
}

func (e *Engine) create(ctx context.Context, ev *types.InboundEvent) error {
	task, err := e.schema.NewTask(ev.AssignedTo, ev.Properties)
	if err != nil {
		return err
	}

	// A redelivered create for a stored task is applied as an update.
	existing, err := e.store.FindOne(ctx, types.TaskFilter{TaskID: task.TaskID})
	if err != nil {
		return err
	}
	if existing != nil {
		e.logger.Debug("create for stored task, applying as update", "task", task.TaskID, "engineer", ev.AssignedTo)
		return e.update(ctx, ev)
	}

	refs, err := e.sessions.SessionsFor(ctx, []string{ev.AssignedTo})
	if err != nil {
		return fmt.Errorf("looking up sessions of %s: %w", ev.AssignedTo, err)
	}
	if len(refs) == 0 {
		e.logger.Debug("engineer offline, task not retained", "task", task.TaskID, "engineer", ev.AssignedTo)
		return nil
	}

	if _, err := e.store.Insert(ctx, task); err != nil {
		return err
	}
	e.refresh(ctx, refs)
	return nil
}

func (e *Engine) update(ctx context.Context, ev *types.InboundEvent) error {
	task, err := e.schema.NewTask(ev.AssignedTo, ev.Properties)
	if err != nil {
		return err
	}

	existing, err := e.store.FindOne(ctx, types.TaskFilter{TaskID: task.TaskID})
	if err != nil {
		return err
	}
	refs, err := e.sessions.SessionsFor(ctx, []string{ev.AssignedTo})
	if err != nil {
		return fmt.Errorf("looking up sessions of %s: %w", ev.AssignedTo, err)
	}
	online := len(refs) > 0

	switch {
	case existing == nil && !online:
		e.logger.Debug("engineer offline, update ignored", "task", task.TaskID, "engineer", ev.AssignedTo)
		return nil

	case existing == nil:
		if _, err := e.store.Insert(ctx, task); err != nil {
			return err
		}
		e.refresh(ctx, refs)
		return nil

	case online:
		n, err := e.store.UpdateByID(ctx, existing.StorageID, task)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("updating task %s: %w", task.TaskID, types.ErrNotFound)
		}
		affected := []string{ev.AssignedTo}
		if existing.AssignedTo != ev.AssignedTo {
			affected = append(affected, existing.AssignedTo)
		}
		e.notify(ctx, affected)
		return nil

	default:
		// Reassigned to an engineer who is offline: the local copy only
		// tracks tasks of online engineers.
		if _, err := e.store.Remove(ctx, types.TaskFilter{TaskID: task.TaskID}); err != nil {
			return err
		}
		e.notify(ctx, []string{existing.AssignedTo})
		return nil
	}
}

func (e *Engine) remove(ctx context.Context, ev *types.InboundEvent) error {
	taskID := textOf(ev.Properties[e.schema.IdentifierProperty()])
	if taskID == "" {
		return fmt.Errorf("%w: delete without %s", types.ErrValidationFailed, e.schema.IdentifierProperty())
	}

	existing, err := e.store.FindOne(ctx, types.TaskFilter{TaskID: taskID})
	if err != nil {
		return err
	}
	n, err := e.store.Remove(ctx, types.TaskFilter{TaskID: taskID})
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	affected := []string{ev.AssignedTo}
	if existing != nil && existing.AssignedTo != ev.AssignedTo {
		affected = append(affected, existing.AssignedTo)
	}
	e.notify(ctx, affected)
	return nil
}

// notify looks up the sessions of engineers and pushes them fresh schedules
// in the background
func (e *Engine) notify(ctx context.Context, engineers []string) {
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fanoutTimeout)
		defer cancel()

		refs, err := e.sessions.SessionsFor(ctx, engineers)
		if err != nil {
			e.metrics.FanoutError()
			e.logger.Warn("session lookup for refresh failed", "engineers", engineers, "error", err)
			return
		}
		e.pushSchedules(ctx, refs)
	}()
}

// refresh pushes fresh schedules to already known sessions in the background
func (e *Engine) refresh(ctx context.Context, refs []types.SessionRef) {
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fanoutTimeout)
		defer cancel()
		e.pushSchedules(ctx, refs)
	}()
}

func (e *Engine) pushSchedules(ctx context.Context, refs []types.SessionRef) {
	if len(refs) == 0 {
		return
	}
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanReconcileFanout,
		attribute.Int(telemetry.KeySessionCount, len(refs)))
	defer span.End()

	var engineers []string
	seen := make(map[string]bool)
	for _, ref := range refs {
		if !seen[ref.EngineerID] {
			seen[ref.EngineerID] = true
			engineers = append(engineers, ref.EngineerID)
		}
	}

	offset := e.compiler.Days().DayOffset()
	view, err := e.compiler.Compile(ctx, engineers, offset)
	if err != nil {
		e.metrics.FanoutError()
		telemetry.RecordError(span, err, telemetry.ErrorCategoryPush)
		e.logger.Warn("compiling schedule for refresh failed", "engineers", engineers, "error", err)
		return
	}

	for _, ref := range refs {
		n := e.push.SendTo(ref.SessionID, events.EventSendSchedule, events.SchedulePayload{
			DayOffset: offset,
			Tasks:     view[ref.EngineerID],
		})
		e.metrics.Push(events.EventSendSchedule, n)
		if n == 0 {
			e.logger.Debug("session has no live subscribers", "session", ref.SessionID, "engineer", ref.EngineerID)
		}
	}
}

func errorCategory(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, types.ErrStorageFailure), errors.Is(err, types.ErrNotFound):
		return telemetry.ErrorCategoryStorage
	case errors.Is(err, types.ErrNotEditable), errors.Is(err, types.ErrPolicyViolation), errors.Is(err, types.ErrAuthorizationDenied):
		return telemetry.ErrorCategoryPolicy
	default:
		return telemetry.ErrorCategoryValidation
	}
}

func textOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
