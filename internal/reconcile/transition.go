package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/cloud-shuttle/fieldsync/internal/convert"
	"github.com/cloud-shuttle/fieldsync/internal/events"
	"github.com/cloud-shuttle/fieldsync/internal/schema"
	"github.com/cloud-shuttle/fieldsync/pkg/telemetry"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// TransitionRequest is an engineer's claimed new state of one task.
// Task values use the display representation sent to clients.
type TransitionRequest struct {
	EngineerID string
	// SessionID is the originating session; its peers get a pull request
	SessionID string
	Task      map[string]any
}

// Transition validates and applies an engineer-initiated status change.
// On success the change is forwarded to the dispatch authority and the
// engineer's other sessions are asked to reload.
func (e *Engine) Transition(ctx context.Context, req TransitionRequest) error {
	taskID := textOf(req.Task[e.schema.IdentifierProperty()])
	ctx, span := telemetry.StartTaskSpan(ctx, telemetry.SpanTransition, taskID, req.EngineerID)
	defer span.End()

	err := e.transition(ctx, req, taskID)
	e.metrics.Transition(err)
	telemetry.RecordErrorWithStatus(span, err, errorCategory(err))
	if err != nil {
		e.logger.Warn("transition rejected", "task", taskID, "engineer", req.EngineerID, "code", types.Code(err), "error", err)
		return err
	}
	e.logger.Info("transition applied", "task", taskID, "engineer", req.EngineerID,
		"status", textOf(req.Task[e.schema.StatusProperty()]))
	return nil
}

func (e *Engine) transition(ctx context.Context, req TransitionRequest, taskID string) error {
	if taskID == "" {
		return fmt.Errorf("%w: missing %s", types.ErrValidationFailed, e.schema.IdentifierProperty())
	}

	current, err := e.store.FindOne(ctx, types.TaskFilter{TaskID: taskID})
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("task %s: %w", taskID, types.ErrNotFound)
	}

	engineerTasks, err := e.store.Find(ctx, types.TaskFilter{EngineerIDs: []string{req.EngineerID}})
	if err != nil {
		return err
	}
	if err := e.policy.Check(engineerTasks, taskID); err != nil {
		return err
	}

	statusProp := e.schema.StatusProperty()
	oldStatus := current.Text(statusProp)
	newStatus := textOf(req.Task[statusProp])
	if !e.diagram.IsTransitionValid(oldStatus, newStatus) {
		return fmt.Errorf("%w: %q to %q", types.ErrInvalidTransition, oldStatus, newStatus)
	}
	terminal, err := e.diagram.IsTerminal(newStatus)
	if err != nil {
		return err
	}
	telemetry.SetTaskStatus(trace.SpanFromContext(ctx), newStatus)

	updated := current.Clone()
	updated.AssignedTo = req.EngineerID
	updated.Properties[statusProp] = newStatus

	names := make([]string, 0, len(req.Task))
	for name := range req.Task {
		if name != statusProp {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		p, ok := e.schema.Property(name)
		if !ok {
			return fmt.Errorf("%w: %s", types.ErrUnknownProperty, name)
		}
		claimed := req.Task[name]
		claimedText := textOf(claimed)
		if e.unchanged(current, p, claimed, claimedText) {
			continue
		}

		if p.ReadOnly {
			if !terminal || !e.schema.IsTimesheetProperty(name) {
				return fmt.Errorf("%w: %s", types.ErrReadOnlyViolation, name)
			}
		} else if err := e.validateMutable(p, claimedText); err != nil {
			return err
		}

		stored, err := e.conv.Convert(name, claimed, convert.ToUpdateStorage)
		if err != nil {
			return err
		}
		updated.Properties[name] = stored
	}

	start, okStart := schema.Millis(updated.Properties[e.schema.StartProperty()])
	finish, okFinish := schema.Millis(updated.Properties[e.schema.FinishProperty()])
	if !okStart || !okFinish || finish <= start {
		return fmt.Errorf("%w: task %s", types.ErrInvalidInterval, taskID)
	}
	updated.Start = start

	n, err := e.store.UpdateByID(ctx, current.StorageID, updated)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", taskID, types.ErrNotFound)
	}

	e.forward(ctx, updated)
	e.pullPeers(ctx, req.EngineerID, req.SessionID)
	return nil
}

// unchanged reports whether the claimed value equals the stored one. Times
// and durations compare by stored value so that equivalent notations of the
// same instant match.
func (e *Engine) unchanged(t *types.Task, p *schema.Property, claimed any, claimedText string) bool {
	switch p.Type {
	case schema.TypeDatetime, schema.TypeDuration:
		stored, ok := t.Get(p.Name)
		if !ok || stored == nil || claimed == nil || claimedText == "" {
			return (!ok || stored == nil) && claimedText == ""
		}
		want, ok := schema.Millis(stored)
		if !ok {
			break
		}
		cv, err := e.conv.Convert(p.Name, claimed, convert.ToUpdateStorage)
		if err != nil {
			return false
		}
		got, ok := schema.Millis(cv)
		return ok && got == want
	}
	return claimedText == e.displayText(t, p.Name)
}

// displayText renders the stored value of a property the way clients see it
func (e *Engine) displayText(t *types.Task, name string) string {
	v, ok := t.Get(name)
	if !ok || v == nil {
		return ""
	}
	dv, err := e.conv.Convert(name, v, convert.ToDisplay)
	if err != nil {
		return textOf(v)
	}
	return textOf(dv)
}

func (e *Engine) validateMutable(p *schema.Property, value string) error {
	if p.Type == schema.TypeString && p.MaxLength > 0 && utf8.RuneCountInString(value) > p.MaxLength {
		return fmt.Errorf("%w: %s longer than %d characters", types.ErrValidationFailed, p.Name, p.MaxLength)
	}
	if re := e.schema.Pattern(p.Name); re != nil && value != "" && !re.MatchString(value) {
		return fmt.Errorf("%w: %s does not match %s", types.ErrValidationFailed, p.Name, p.ValidationPattern)
	}
	return nil
}

// forward hands the updated task to the dispatch authority in the background
func (e *Engine) forward(ctx context.Context, task *types.Task) {
	if e.forwarder == nil {
		return
	}
	fields, err := e.conv.Wire(task)
	if err != nil {
		e.logger.Error("rendering outbound message failed", "task", task.TaskID, "error", err)
		return
	}
	msg := &types.OutboundMessage{
		ID:         uuid.NewString(),
		TaskID:     task.TaskID,
		EngineerID: task.AssignedTo,
		Fields:     fields,
		CreatedAt:  time.Now().UnixMilli(),
	}

	e.background.Add(1)
	go func() {
		defer e.background.Done()
		if err := e.forwarder.Forward(context.WithoutCancel(ctx), msg); err != nil {
			e.logger.Error("forwarding update failed", "task", msg.TaskID, "message", msg.ID, "error", err)
		}
	}()
}

// pullPeers asks the engineer's other sessions to reload their schedule
func (e *Engine) pullPeers(ctx context.Context, engineerID, originSessionID string) {
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fanoutTimeout)
		defer cancel()

		refs, err := e.sessions.SessionsFor(ctx, []string{engineerID})
		if err != nil {
			e.metrics.FanoutError()
			e.logger.Warn("session lookup for pull request failed", "engineer", engineerID, "error", err)
			return
		}
		for _, ref := range refs {
			if ref.SessionID == originSessionID {
				continue
			}
			n := e.push.SendTo(ref.SessionID, events.EventSchedulePullRequest, nil)
			e.metrics.Push(events.EventSchedulePullRequest, n)
		}
	}()
}
