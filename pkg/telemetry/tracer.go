// Package telemetry provides OpenTelemetry observability for fieldsync
package telemetry

import (
	"context"

	"github.com/cloud-shuttle/fieldsync/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer is the global tracer for fieldsync
var tracer = otel.Tracer("fieldsync")

// Span names for fieldsync operations
const (
	// Dispatch spans
	SpanDispatchReceive = "fieldsync.dispatch.receive"
	SpanReconcileApply  = "fieldsync.reconcile.apply"
	SpanReconcileFanout = "fieldsync.reconcile.fanout"

	// Engineer spans
	SpanTransition = "fieldsync.transition"

	// Schedule spans
	SpanScheduleCompile  = "fieldsync.schedule.compile"
	SpanScheduleDetails  = "fieldsync.schedule.details"
	SpanSchedulePopulate = "fieldsync.schedule.populate"

	// Outbound spans
	SpanOutboundDeliver = "fieldsync.outbound.deliver"

	// Maintenance spans
	SpanHousekeeping = "fieldsync.housekeeping.run"
)

// StartSpan starts a span with the given attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartTaskSpan starts a span for an operation on one task
func StartTaskSpan(ctx context.Context, name, taskID, engineerID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String(KeyTaskID, taskID),
		attribute.String(KeyEngineerID, engineerID),
	)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartScheduleSpan starts a span for a schedule operation over a set of engineers
func StartScheduleSpan(ctx context.Context, name string, engineerIDs []string, dayOffset int) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.StringSlice(KeyEngineerIDs, engineerIDs),
		attribute.Int(KeyDayOffset, dayOffset),
	))
}

// RecordError records an error on a span with its taxonomy code and category
func RecordError(span trace.Span, err error, errorCategory string) {
	if err == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("exception.message", err.Error()),
		attribute.String("exception.type", ErrorTypeFromError(err)),
	}
	if errorCategory != "" {
		attrs = append(attrs, attribute.String(KeyErrorCategory, errorCategory))
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
}

// RecordErrorWithStatus records an error, or marks the span ok when err is nil
func RecordErrorWithStatus(span trace.Span, err error, errorCategory string) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	RecordError(span, err, errorCategory)
}

// SetTaskStatus sets the task status as a span attribute
func SetTaskStatus(span trace.Span, status string) {
	span.SetAttributes(attribute.String(KeyTaskStatus, status))
}

// SetAction sets the dispatch action as a span attribute
func SetAction(span trace.Span, action types.Action) {
	span.SetAttributes(attribute.String(KeyDispatchAction, string(action)))
}

// GetTraceID returns the trace ID from context if available
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// ErrorTypeFromError maps an error onto its taxonomy code
func ErrorTypeFromError(err error) string {
	return types.Code(err)
}
