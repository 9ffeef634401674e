// Package workflow delivers outbound messages through DBOS durable workflows,
// so deliveries that were accepted survive a process restart.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"

	"github.com/cloud-shuttle/fieldsync/internal/logging"
	"github.com/cloud-shuttle/fieldsync/internal/metrics"
	"github.com/cloud-shuttle/fieldsync/internal/outbound"
	"github.com/cloud-shuttle/fieldsync/pkg/telemetry"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// QueueName is the DBOS queue outbound deliveries run on
const QueueName = "fieldsync-outbound"

// DeliveryOutcome is the recorded result of one delivery workflow
type DeliveryOutcome struct {
	MessageID  string
	StatusCode int
	Success    bool
	Error      string
}

// DurableForwarder enqueues one DBOS workflow per outbound message
type DurableForwarder struct {
	dbosCtx dbos.DBOSContext
	queue   dbos.WorkflowQueue
	sender  outbound.Sender
	retries int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDurableForwarder registers the delivery workflow and its queue. It must
// be called before dbos.Launch.
func NewDurableForwarder(dbosCtx dbos.DBOSContext, sender outbound.Sender, retries int, m *metrics.Metrics, logger *slog.Logger) *DurableForwarder {
	f := &DurableForwarder{
		dbosCtx: dbosCtx,
		sender:  sender,
		retries: retries,
		metrics: m,
		logger:  logging.Component(logger, "workflow"),
	}
	f.queue = dbos.NewWorkflowQueue(dbosCtx, QueueName,
		dbos.WithQueueBasePollingInterval(100*time.Millisecond),
	)
	dbos.RegisterWorkflow(dbosCtx, f.DeliverWorkflow)
	return f
}

// Forward enqueues a delivery workflow and returns once it is recorded
func (f *DurableForwarder) Forward(_ context.Context, msg *types.OutboundMessage) error {
	if _, err := dbos.RunWorkflow(f.dbosCtx, f.DeliverWorkflow, *msg, dbos.WithQueue(f.queue.Name)); err != nil {
		return fmt.Errorf("enqueueing delivery of %s: %w", msg.ID, err)
	}
	f.logger.Debug("delivery enqueued", "message", msg.ID, "task", msg.TaskID)
	return nil
}

// DeliverWorkflow sends one message as a checkpointed step. A rejected
// message completes the workflow with an unsuccessful outcome.
func (f *DurableForwarder) DeliverWorkflow(ctx dbos.DBOSContext, msg types.OutboundMessage) (DeliveryOutcome, error) {
	_, span := telemetry.StartTaskSpan(ctx, telemetry.SpanOutboundDeliver, msg.TaskID, msg.EngineerID)
	defer span.End()

	outcome := DeliveryOutcome{MessageID: msg.ID}
	code, err := dbos.RunAsStep(ctx, func(stepCtx context.Context) (int, error) {
		return f.sender.Send(stepCtx, &msg)
	}, dbos.WithStepMaxRetries(f.retries))
	outcome.StatusCode = code
	outcome.Success = err == nil
	f.metrics.Delivery(outcome.Success)

	if err != nil {
		outcome.Error = err.Error()
		telemetry.RecordError(span, err, telemetry.ErrorCategoryOutbound)
		f.logger.Error("durable delivery failed", "message", msg.ID, "task", msg.TaskID, "error", err)
		return outcome, nil
	}
	f.logger.Info("durable delivery completed", "message", msg.ID, "task", msg.TaskID, "status", code)
	return outcome, nil
}
