// Package observe provides application-wide observability primitives for
// voxorder: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voxorder metrics.
const meterName = "github.com/MrWong99/voxorder"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CredentialFetchDuration tracks ephemeral credential round trips.
	CredentialFetchDuration metric.Float64Histogram

	// TurnDuration tracks the time from audio commit to response done.
	TurnDuration metric.Float64Histogram

	// ConnectDuration tracks time from Connect to a ready session.
	ConnectDuration metric.Float64Histogram

	// --- Counters ---

	// StateTransitions counts session state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...), attribute.String("event", ...)
	StateTransitions metric.Int64Counter

	// RejectedTransitions counts events the state machine refused. Use with
	// attributes: attribute.String("state", ...), attribute.String("event", ...)
	RejectedTransitions metric.Int64Counter

	// ReconnectAttempts counts transport reconnect attempts. Use with attribute:
	//   attribute.String("status", ...)
	ReconnectAttempts metric.Int64Counter

	// QueueDrops counts outbound messages dropped because the queue was full.
	//   attribute.String("type", ...)
	QueueDrops metric.Int64Counter

	// MessagesSent counts outbound frames written to the socket by type.
	MessagesSent metric.Int64Counter

	// MessagesReceived counts inbound frames by type.
	MessagesReceived metric.Int64Counter

	// AudioFrames counts encoded audio frames. Use with attribute:
	//   attribute.Bool("voice", ...)
	AudioFrames metric.Int64Counter

	// OrderIntents counts order intents. Use with attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	OrderIntents metric.Int64Counter

	// MalformedPayloads counts dropped inbound payloads. Use with attribute:
	//   attribute.String("type", ...)
	MalformedPayloads metric.Int64Counter

	// DuplicateEvents counts inbound events ignored as replays.
	DuplicateEvents metric.Int64Counter

	// RateLimited counts rate-limit signals from the remote service.
	RateLimited metric.Int64Counter

	// CredentialFetches counts credential endpoint calls. Use with attribute:
	//   attribute.String("status", ...)
	CredentialFetches metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// QueueDepth tracks messages waiting in outbound queues.
	QueueDepth metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// conversational turn latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CredentialFetchDuration, err = m.Float64Histogram("voxorder.credential.fetch.duration",
		metric.WithDescription("Latency of ephemeral credential fetches."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("voxorder.turn.duration",
		metric.WithDescription("Time from audio commit to completed response."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("voxorder.connect.duration",
		metric.WithDescription("Time from connect to a ready session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.StateTransitions, "voxorder.session.transitions", "Session state transitions by from, to and event."},
		{&met.RejectedTransitions, "voxorder.session.rejected_transitions", "Events rejected by the session state machine."},
		{&met.ReconnectAttempts, "voxorder.transport.reconnects", "Transport reconnect attempts by status."},
		{&met.QueueDrops, "voxorder.transport.queue_drops", "Outbound messages dropped on a full queue."},
		{&met.MessagesSent, "voxorder.transport.messages_sent", "Outbound messages written by type."},
		{&met.MessagesReceived, "voxorder.transport.messages_received", "Inbound messages received by type."},
		{&met.AudioFrames, "voxorder.audio.frames", "Encoded audio frames by voice flag."},
		{&met.OrderIntents, "voxorder.order.intents", "Order intents by action and status."},
		{&met.MalformedPayloads, "voxorder.realtime.malformed_payloads", "Inbound payloads dropped as malformed."},
		{&met.DuplicateEvents, "voxorder.realtime.duplicate_events", "Inbound events ignored as duplicates."},
		{&met.RateLimited, "voxorder.realtime.rate_limited", "Rate-limit signals received from the remote service."},
		{&met.CredentialFetches, "voxorder.credential.fetches", "Credential endpoint calls by status."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxorder.active_sessions",
		metric.WithDescription("Number of connected voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("voxorder.transport.queue_depth",
		metric.WithDescription("Messages waiting in outbound queues."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxorder.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// OrDefault returns m, or [DefaultMetrics] when m is nil.
func OrDefault(m *Metrics) *Metrics {
	if m == nil {
		return DefaultMetrics()
	}
	return m
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTransition records one accepted state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to, event string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
			attribute.String("event", event),
		),
	)
}

// RecordRejectedTransition records one event refused by the state machine.
func (m *Metrics) RecordRejectedTransition(ctx context.Context, state, event string) {
	m.RejectedTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("state", state),
			attribute.String("event", event),
		),
	)
}

// RecordReconnect records a reconnect attempt outcome ("ok", "failed",
// "exhausted").
func (m *Metrics) RecordReconnect(ctx context.Context, status string) {
	m.ReconnectAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordQueueDrop records one outbound message dropped on a full queue.
func (m *Metrics) RecordQueueDrop(ctx context.Context, msgType string) {
	m.QueueDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}

// RecordSent records one outbound message written to the socket.
func (m *Metrics) RecordSent(ctx context.Context, msgType string) {
	m.MessagesSent.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}

// RecordReceived records one inbound message.
func (m *Metrics) RecordReceived(ctx context.Context, msgType string) {
	m.MessagesReceived.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}

// RecordAudioFrame records one encoded audio frame.
func (m *Metrics) RecordAudioFrame(ctx context.Context, voice bool) {
	m.AudioFrames.Add(ctx, 1, metric.WithAttributes(attribute.Bool("voice", voice)))
}

// RecordOrderIntent records an order intent with its outcome ("applied",
// "rejected").
func (m *Metrics) RecordOrderIntent(ctx context.Context, action, status string) {
	m.OrderIntents.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}

// RecordMalformed records one dropped inbound payload.
func (m *Metrics) RecordMalformed(ctx context.Context, msgType string) {
	m.MalformedPayloads.Add(ctx, 1, metric.WithAttributes(attribute.String("type", msgType)))
}

// RecordCredentialFetch records one credential endpoint call and its latency.
func (m *Metrics) RecordCredentialFetch(ctx context.Context, status string, d time.Duration) {
	m.CredentialFetches.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	m.CredentialFetchDuration.Record(ctx, d.Seconds())
}
