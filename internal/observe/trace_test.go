package observe

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	tp, _ := newTestTracerProvider(t)
	seen := make(map[string]bool)
	for range 20 {
		ctx, span := tp.Tracer("test").Start(context.Background(), "sessioncfg.fetch")
		cid := CorrelationID(ctx)
		span.End()

		if _, err := hex.DecodeString(cid); err != nil || len(cid) != 32 {
			t.Fatalf("correlation ID %q is not a 32-char hex trace id", cid)
		}
		if seen[cid] {
			t.Fatalf("duplicate correlation ID %s", cid)
		}
		seen[cid] = true
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	ctx, span := StartSpan(context.Background(), "voice.connect")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan did not create a span with a trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "voice.connect" {
		t.Fatalf("spans = %v, want one voice.connect span", spans)
	}
}

func TestLogger(t *testing.T) {
	tp, _ := newTestTracerProvider(t)

	tests := []struct {
		name      string
		withSpan  bool
		wantTrace bool
	}{
		{"inside span", true, true},
		{"no span", false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			base := slog.New(slog.NewTextHandler(&buf, nil)).With("component", "voice")

			ctx := context.Background()
			if tc.withSpan {
				c, s := tp.Tracer("test").Start(ctx, "voice.connect")
				defer s.End()
				ctx = c
			}
			Logger(ctx, base).Info("connected")

			out := buf.String()
			if !strings.Contains(out, "component=voice") {
				t.Errorf("base attributes lost: %s", out)
			}
			if got := strings.Contains(out, "trace_id=") && strings.Contains(out, "span_id="); got != tc.wantTrace {
				t.Errorf("trace attributes present = %v, want %v: %s", got, tc.wantTrace, out)
			}
		})
	}
}

func TestLogger_NilBaseUsesDefault(t *testing.T) {
	if Logger(context.Background(), nil) != slog.Default() {
		t.Error("Logger(ctx, nil) without a span should return slog.Default()")
	}
}
