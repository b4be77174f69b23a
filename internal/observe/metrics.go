// Package observe provides application-wide observability primitives for
// the audio relay: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all relay metrics.
const meterName = "github.com/MrWong99/audiorelay"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use. The underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Frame counters ---

	// FramesReceived counts frames captured from the source.
	FramesReceived metric.Int64Counter

	// FramesSent counts frames delivered to the destination.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames evicted from the buffer under overflow.
	FramesDropped metric.Int64Counter

	// KeepaliveFrames counts silence frames sent while the source was quiet.
	KeepaliveFrames metric.Int64Counter

	// --- Delivery latency ---

	// SendDuration tracks how long a single destination send takes. Use with
	// attribute: attribute.String("status", "ok"|"error").
	SendDuration metric.Float64Histogram

	// --- Reconnection ---

	// ReconnectAttempts counts reconnection attempts. Use with attribute:
	//   attribute.String("endpoint", ...)
	ReconnectAttempts metric.Int64Counter

	// --- Gauges ---

	// BufferedFrames tracks the current number of frames in the relay buffer.
	BufferedFrames metric.Int64UpDownCounter

	// ActiveConnections tracks the number of live platform connections.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// sendBuckets defines histogram bucket boundaries (in seconds) sized for
// per-frame delivery. Frames are 20ms, so anything beyond 0.1s is trouble.
var sendBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.02, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.FramesReceived, err = m.Int64Counter("audiorelay.frames.received",
		metric.WithDescription("Total frames captured from the source."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("audiorelay.frames.sent",
		metric.WithDescription("Total frames delivered to the destination."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("audiorelay.frames.dropped",
		metric.WithDescription("Total frames evicted from the buffer under overflow."),
	); err != nil {
		return nil, err
	}
	if met.KeepaliveFrames, err = m.Int64Counter("audiorelay.keepalive.frames",
		metric.WithDescription("Total silence frames sent while the source was quiet."),
	); err != nil {
		return nil, err
	}
	if met.ReconnectAttempts, err = m.Int64Counter("audiorelay.reconnect.attempts",
		metric.WithDescription("Total reconnection attempts by endpoint."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.SendDuration, err = m.Float64Histogram("audiorelay.send.duration",
		metric.WithDescription("Latency of a single destination send."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sendBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.BufferedFrames, err = m.Int64UpDownCounter("audiorelay.buffer.frames",
		metric.WithDescription("Current number of frames in the relay buffer."),
	); err != nil {
		return nil, err
	}
	if met.ActiveConnections, err = m.Int64UpDownCounter("audiorelay.active_connections",
		metric.WithDescription("Number of live platform connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("audiorelay.http.request.duration",
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

// RecordReconnectAttempt records a reconnection attempt against the named
// endpoint.
func (m *Metrics) RecordReconnectAttempt(ctx context.Context, endpoint string) {
	m.ReconnectAttempts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("endpoint", endpoint)),
	)
}

// RecordSend records a completed destination send with its duration in
// seconds and outcome status ("ok" or "error").
func (m *Metrics) RecordSend(ctx context.Context, seconds float64, status string) {
	m.SendDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
