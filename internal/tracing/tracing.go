package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/corda/corda-runtime-os-sub030/core"
)

const TracerName = "flow-engine"

// StartEventSpan starts the consumer span covering the processing of one flow event.
func StartEventSpan(ctx context.Context, tracer trace.Tracer, event *core.FlowEvent) (context.Context, trace.Span) {
	return tracer.Start(ctx, "FlowEvent: "+event.Type.String(),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String(FlowID, event.FlowID),
			attribute.String(EventType, event.Type.String()),
		))
}

// AddStartContext tags the span with the correlation ids of the flow's start context.
func AddStartContext(span trace.Span, sc *core.FlowStartContext) {
	if sc == nil {
		return
	}

	span.SetAttributes(
		attribute.String(FlowName, sc.FlowName),
		attribute.String(RequestID, sc.RequestID),
		attribute.String(Identity, sc.Identity.ShortHash()),
		attribute.String(Initiator, sc.InitiatedBy.String()),
	)
}
