package observe

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// opsFixture wires the middleware in front of a mux shaped like the ops
// server, with metrics, spans and logs captured in memory.
type opsFixture struct {
	handler http.Handler
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	logs    *bytes.Buffer
}

func newOpsFixture(t *testing.T, readyStatus int) *opsFixture {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(readyStatus)
	})
	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Correlation", CorrelationID(r.Context()))
		w.WriteHeader(http.StatusAccepted)
	})

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return &opsFixture{
		handler: Middleware(m, logger)(mux),
		reader:  reader,
		spans:   exp,
		logs:    logs,
	}
}

func (f *opsFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_SpanAndCorrelationID(t *testing.T) {
	f := newOpsFixture(t, http.StatusOK)

	rec := f.do(httptest.NewRequest("GET", "/sessions/abc", nil))

	cid := rec.Header().Get("X-Correlation-ID")
	if len(cid) != 32 {
		t.Fatalf("X-Correlation-ID = %q, want a 32-char trace id", cid)
	}
	if got := rec.Header().Get("X-Seen-Correlation"); got != cid {
		t.Errorf("handler saw correlation %q, response header %q", got, cid)
	}

	spans := f.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /sessions/abc" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if spans[0].SpanKind != trace.SpanKindServer {
		t.Errorf("span kind = %v, want server", spans[0].SpanKind)
	}
}

func TestMiddleware_ContinuesIncomingTraceContext(t *testing.T) {
	f := newOpsFixture(t, http.StatusOK)

	req := httptest.NewRequest("GET", "/sessions/abc", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := f.do(req)

	const want = "4bf92f3577b34da6a3ce929d0e0e4736"
	if got := rec.Header().Get("X-Correlation-ID"); got != want {
		t.Errorf("X-Correlation-ID = %q, want %q", got, want)
	}
	if tp := rec.Header().Get("traceparent"); !strings.Contains(tp, want) {
		t.Errorf("response traceparent = %q, want trace id %s", tp, want)
	}
}

func TestMiddleware_LabelsRoutePatternAndStatus(t *testing.T) {
	f := newOpsFixture(t, http.StatusOK)

	for _, id := range []string{"1", "2", "3"} {
		f.do(httptest.NewRequest("GET", "/sessions/"+id, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voxorder.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1 (one series per route)", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 3 {
		t.Errorf("sample count = %d, want 3", dp.Count)
	}
	if v, _ := dp.Attributes.Value("path"); v.AsString() != "GET /sessions/{id}" {
		t.Errorf("path attribute = %q, want route pattern", v.AsString())
	}
	if v, _ := dp.Attributes.Value("status"); v.AsString() != "202" {
		t.Errorf("status attribute = %q, want 202", v.AsString())
	}
	if v, _ := dp.Attributes.Value("method"); v.AsString() != "GET" {
		t.Errorf("method attribute = %q, want GET", v.AsString())
	}
}

func TestMiddleware_UnmatchedRouteFallsBackToPath(t *testing.T) {
	f := newOpsFixture(t, http.StatusOK)

	rec := f.do(httptest.NewRequest("GET", "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	var rm metricdata.ResourceMetrics
	if err := f.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	dp := findMetric(rm, "voxorder.http.request.duration").Data.(metricdata.Histogram[float64]).DataPoints[0]
	if v, _ := dp.Attributes.Value("path"); v.AsString() != "/nope" {
		t.Errorf("path attribute = %q, want /nope", v.AsString())
	}
	if v, _ := dp.Attributes.Value("status"); v.AsString() != "404" {
		t.Errorf("status attribute = %q, want 404", v.AsString())
	}
}

func TestMiddleware_ProbeLogLevel(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{"ready probe is quiet", http.StatusOK, "level=DEBUG"},
		{"unready probe is loud", http.StatusServiceUnavailable, "level=INFO"},
		{"probe server error is loud", http.StatusInternalServerError, "level=INFO"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newOpsFixture(t, tc.status)
			f.do(httptest.NewRequest("GET", "/readyz", nil))

			line := f.logs.String()
			if !strings.Contains(line, "request completed") || !strings.Contains(line, "component=http") {
				t.Fatalf("missing completion log: %s", line)
			}
			if !strings.Contains(line, tc.wantLevel) {
				t.Errorf("log = %s, want %s", line, tc.wantLevel)
			}
		})
	}
}

func TestMiddleware_RegularRequestsLogAtInfo(t *testing.T) {
	f := newOpsFixture(t, http.StatusOK)
	f.do(httptest.NewRequest("GET", "/sessions/abc", nil))

	line := f.logs.String()
	if !strings.Contains(line, "level=INFO") || !strings.Contains(line, "status=202") {
		t.Errorf("log = %s, want info line with status=202", line)
	}
	if !strings.Contains(line, "trace_id=") {
		t.Errorf("log = %s, want trace_id attribute", line)
	}
}
