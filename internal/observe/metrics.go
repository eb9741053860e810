// Package observe provides application-wide observability primitives for
// casecoach: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Setup] bridges
// them to a Prometheus registry scraped on /metrics. A package-level default
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

// meterName is the instrumentation scope name used for all casecoach metrics.
const meterName = "github.com/MrWong99/casecoach"

// Drop reasons reported on [Metrics.FramesDropped].
const (
	DropQueueFull = "queue_full"
	DropClosed    = "closed"
	DropWrite     = "write_error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Live voice sessions ---

	// LiveSessions tracks the number of open voice sessions.
	LiveSessions metric.Int64UpDownCounter

	// LiveConnectDuration tracks the time from Connect to a ready session.
	LiveConnectDuration metric.Float64Histogram

	// FramesSent counts microphone frames handed to the live provider.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames that never reached the provider. Use with
	// attribute.String("reason", ...), one of the Drop* constants.
	FramesDropped metric.Int64Counter

	// AudioChunks counts synthesised speech chunks scheduled for playback.
	AudioChunks metric.Int64Counter

	// DecodeErrors counts speech chunks dropped because they failed to decode.
	DecodeErrors metric.Int64Counter

	// Interruptions counts barge-in events that flushed playback.
	Interruptions metric.Int64Counter

	// --- Text chat ---

	// ChatDuration tracks the latency of one chat turn.
	ChatDuration metric.Float64Histogram

	// ChatSessions tracks the number of open text interviews.
	ChatSessions metric.Int64UpDownCounter

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// model round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LiveConnectDuration, err = m.Float64Histogram("casecoach.live.connect.duration",
		metric.WithDescription("Time to establish a live voice session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatDuration, err = m.Float64Histogram("casecoach.chat.duration",
		metric.WithDescription("Latency of one text chat turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("casecoach.live.frames_sent",
		metric.WithDescription("Microphone frames sent to the live provider."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("casecoach.live.frames_dropped",
		metric.WithDescription("Microphone frames dropped before reaching the provider, by reason."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("casecoach.live.audio_chunks",
		metric.WithDescription("Speech chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("casecoach.live.decode_errors",
		metric.WithDescription("Speech chunks dropped because they could not be decoded."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("casecoach.live.interruptions",
		metric.WithDescription("Barge-in interruptions that flushed playback."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("casecoach.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("casecoach.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.LiveSessions, err = m.Int64UpDownCounter("casecoach.live.sessions",
		metric.WithDescription("Number of open live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ChatSessions, err = m.Int64UpDownCounter("casecoach.chat.sessions",
		metric.WithDescription("Number of open text interviews."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("casecoach.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFrameDropped records one dropped microphone frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
