// Package observe provides application-wide observability primitives for
// voicecoach: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicecoach metrics.
const meterName = "github.com/asmcenter/voicecoach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// SessionDuration tracks how long sessions stay open, from start to
	// teardown.
	SessionDuration metric.Float64Histogram

	// ScheduleLead tracks how far ahead of the playback clock each segment
	// was scheduled. Near-zero values mean playback is starving.
	ScheduleLead metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts capture frames submitted to the realtime channel.
	FramesSent metric.Int64Counter

	// FramesDropped counts capture frames discarded because the outbound
	// queue was full.
	FramesDropped metric.Int64Counter

	// SegmentsScheduled counts decoded playback segments.
	SegmentsScheduled metric.Int64Counter

	// SegmentsMalformed counts inbound audio payloads dropped as undecodable.
	SegmentsMalformed metric.Int64Counter

	// Interruptions counts barge-in interruptions. Use with attribute:
	//   attribute.Int("sources", ...) is not recorded; the count is per event.
	Interruptions metric.Int64Counter

	// TurnsCommitted counts turn boundaries that appended at least one item.
	TurnsCommitted metric.Int64Counter

	// TranscriptItems counts committed transcript items. Use with attribute:
	//   attribute.String("role", ...)
	TranscriptItems metric.Int64Counter

	// SinkWrites counts transcript sink batches. Use with attributes:
	//   attribute.String("sink", ...), attribute.String("status", ...)
	SinkWrites metric.Int64Counter

	// SessionErrors counts sessions ending in the error state. Use with
	// attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions between start and teardown.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// interview sessions.
var sessionBuckets = []float64{
	10, 30, 60, 120, 300, 600, 900, 1200, 1800, 3600,
}

// leadBuckets defines histogram bucket boundaries (in seconds) for playback
// scheduling lead time.
var leadBuckets = []float64{
	0, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("voicecoach.session.duration",
		metric.WithDescription("Wall-clock duration of voice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ScheduleLead, err = m.Float64Histogram("voicecoach.playback.schedule_lead",
		metric.WithDescription("Distance between a segment's start time and the playback clock."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(leadBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("voicecoach.capture.frames_sent",
		metric.WithDescription("Capture frames submitted to the realtime channel."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voicecoach.capture.frames_dropped",
		metric.WithDescription("Capture frames dropped because the outbound queue was full."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsScheduled, err = m.Int64Counter("voicecoach.playback.segments",
		metric.WithDescription("Playback segments scheduled on the output timeline."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsMalformed, err = m.Int64Counter("voicecoach.playback.segments_malformed",
		metric.WithDescription("Inbound audio payloads dropped as undecodable."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voicecoach.playback.interruptions",
		metric.WithDescription("Barge-in interruptions that truncated playback."),
	); err != nil {
		return nil, err
	}
	if met.TurnsCommitted, err = m.Int64Counter("voicecoach.transcript.turns",
		metric.WithDescription("Turns committed to the conversation log."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptItems, err = m.Int64Counter("voicecoach.transcript.items",
		metric.WithDescription("Committed transcript items by role."),
	); err != nil {
		return nil, err
	}
	if met.SinkWrites, err = m.Int64Counter("voicecoach.transcript.sink_writes",
		metric.WithDescription("Transcript sink batch writes by sink and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("voicecoach.session.errors",
		metric.WithDescription("Sessions that ended in the error state, by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voicecoach.active_sessions",
		metric.WithDescription("Number of sessions between start and teardown."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicecoach.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTranscriptItem records one committed transcript item.
func (m *Metrics) RecordTranscriptItem(ctx context.Context, role string) {
	m.TranscriptItems.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordSinkWrite records one sink batch write with its outcome.
func (m *Metrics) RecordSinkWrite(ctx context.Context, sink, status string) {
	m.SinkWrites.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("sink", sink),
			attribute.String("status", status),
		),
	)
}

// RecordSessionError records a session that failed with the given error kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
