package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Kernel-boundary semantic convention attributes.
var (
	AttrModelID     = attribute.Key("organon.kernel.model_id")
	AttrModelKind   = attribute.Key("organon.kernel.model_kind")
	AttrRunID       = attribute.Key("organon.kernel.run_id")
	AttrOK          = attribute.Key("organon.kernel.ok")
	AttrFailureCode = attribute.Key("organon.kernel.failure_code")

	AttrGoalID        = attribute.Key("organon.taw.goal_id")
	AttrStepID        = attribute.Key("organon.taw.step_id")
	AttrCorrelationID = attribute.Key("organon.taw.correlation_id")
)

// KernelRun creates the attributes known before a kernel run starts.
// Empty values are left out.
func KernelRun(modelID, modelKind, runID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrModelID.String(modelID)}
	if modelKind != "" {
		attrs = append(attrs, AttrModelKind.String(modelKind))
	}
	if runID != "" {
		attrs = append(attrs, AttrRunID.String(runID))
	}
	return attrs
}

// KernelOutcome creates the attributes describing how a run ended.
func KernelOutcome(ok bool, failureCode string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{AttrOK.Bool(ok)}
	if !ok && failureCode != "" {
		attrs = append(attrs, AttrFailureCode.String(failureCode))
	}
	return attrs
}

// Correlation creates the taw correlation attributes. Empty values are left out.
func Correlation(goalID, stepID, correlationID string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if goalID != "" {
		attrs = append(attrs, AttrGoalID.String(goalID))
	}
	if stepID != "" {
		attrs = append(attrs, AttrStepID.String(stepID))
	}
	if correlationID != "" {
		attrs = append(attrs, AttrCorrelationID.String(correlationID))
	}
	return attrs
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
