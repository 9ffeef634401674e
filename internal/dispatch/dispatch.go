// Package dispatch is the inbound interface for the dispatch authority: it
// turns one raw message into a reconciled event and its acknowledgement.
package dispatch

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cloud-shuttle/fieldsync/internal/convert"
	"github.com/cloud-shuttle/fieldsync/internal/logging"
	"github.com/cloud-shuttle/fieldsync/internal/metrics"
	"github.com/cloud-shuttle/fieldsync/internal/schema"
	"github.com/cloud-shuttle/fieldsync/internal/sxp"
	"github.com/cloud-shuttle/fieldsync/pkg/telemetry"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// Applier applies inbound events to storage
type Applier interface {
	Apply(ctx context.Context, ev *types.InboundEvent) (types.Ack, error)
}

// Interface processes dispatch messages
type Interface struct {
	schema  *schema.Schema
	conv    *convert.Pipeline
	engine  Applier
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a dispatch interface
func New(s *schema.Schema, conv *convert.Pipeline, engine Applier, m *metrics.Metrics, logger *slog.Logger) *Interface {
	return &Interface{
		schema:  s,
		conv:    conv,
		engine:  engine,
		metrics: m,
		logger:  logging.Component(logger, "dispatch"),
	}
}

// IsMalformed reports whether err means the message itself could not be understood
func IsMalformed(err error) bool {
	return errors.Is(err, sxp.ErrMalformed) || errors.Is(err, sxp.ErrUnknownMessage) || errors.Is(err, sxp.ErrNoEngineer)
}

// Handle processes one message and returns the acknowledgement to send back.
// An error is returned only when the message cannot be parsed; failures to
// apply a parsed event are reported through the acknowledgement.
func (i *Interface) Handle(ctx context.Context, body []byte) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, telemetry.SpanDispatchReceive)
	defer span.End()

	ev, err := sxp.Parse(body, i.schema)
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryValidation)
		i.logger.Warn("rejecting dispatch message", "error", err)
		return nil, err
	}
	telemetry.SetAction(span, ev.Action)

	props, err := i.conv.Record(ev.Properties, convert.ToStorage)
	if err != nil {
		telemetry.RecordError(span, err, telemetry.ErrorCategoryValidation)
		i.metrics.Inbound(ev.Action, false)
		i.logger.Error("converting dispatch message failed", "action", ev.Action, "engineer", ev.AssignedTo, "error", err)
		return sxp.Ack(ev.Action, false), nil
	}
	ev.Properties = props

	ack, _ := i.engine.Apply(ctx, ev)
	span.SetAttributes(attribute.Bool(telemetry.KeyAckSuccess, ack.Success))
	return sxp.Ack(ack.Action, ack.Success), nil
}
