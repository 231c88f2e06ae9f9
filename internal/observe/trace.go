package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/voxorder"

// Tracer returns the voxorder tracer from the global provider installed by
// [InitProvider]. Before InitProvider runs, spans are no-ops.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the voxorder tracer. Session setup is traced end
// to end: "voice.connect" covers one Connect call and the credential request
// it makes ("sessioncfg.fetch") is its child, so a slow or failing endpoint
// shows up inside the connect it delayed.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID returns the hex trace ID of the span in ctx, or "" without
// one. The ops server returns it as X-Correlation-ID so an operator can find
// the request in the logs.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger tags base with trace_id and span_id when ctx carries a span, so the
// log lines of one connect attempt or ops request can be grouped. A nil base
// means [slog.Default].
func Logger(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return base
	}
	return base.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
