package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// GetTraceID returns the trace id embedded in the current span context, or
// the zero trace id when the context carries no recorded span.
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return trace.TraceID{}.String()
	}
	return sc.TraceID().String()
}
