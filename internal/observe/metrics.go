// Package observe holds glyphcap's observability plumbing: OpenTelemetry
// metrics exported to Prometheus, tracing helpers, trace-aware logging and
// HTTP middleware.
//
// A package-level [Metrics] ([DefaultMetrics]) is used by production code;
// tests build their own with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/glyphcap"

// Metrics holds every instrument. The OTel types are safe for concurrent use.
type Metrics struct {
	// STTOpenDuration is the time from dial to an open recognition socket.
	STTOpenDuration metric.Float64Histogram

	// TranslateDuration is per translation call. Attribute "kind" is
	// "final" or "interim".
	TranslateDuration metric.Float64Histogram

	// CleanupDuration is per transcript cleanup call.
	CleanupDuration metric.Float64Histogram

	// ProviderRequests counts provider calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures by provider and kind.
	ProviderErrors metric.Int64Counter

	// CaptionEvents counts events sent to subscribers, by "kind".
	CaptionEvents metric.Int64Counter

	// LaneEvents counts caption lane anomalies and flips, by "kind".
	LaneEvents metric.Int64Counter

	// Clips counts chunker clips handed to batch recognition.
	Clips metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes by name and
	// target state.
	BreakerTransitions metric.Int64Counter

	// ActiveSpeakers is the number of speakers with a pipeline.
	ActiveSpeakers metric.Int64UpDownCounter

	// OpenSTTSessions is the number of open recognition sockets.
	OpenSTTSessions metric.Int64UpDownCounter

	// Subscribers is the number of connected caption subscribers.
	Subscribers metric.Int64UpDownCounter

	// HTTPRequestDuration is per HTTP request, by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets (seconds) cover socket opens and model round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 2.5, 5, 10,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	hist := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}
	if met.STTOpenDuration, err = hist("glyphcap.stt.open.duration", "Latency of opening a speech recognition socket."); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = hist("glyphcap.translate.duration", "Latency of caption translation."); err != nil {
		return nil, err
	}
	if met.CleanupDuration, err = hist("glyphcap.cleanup.duration", "Latency of transcript cleanup."); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("glyphcap.provider.requests",
		metric.WithDescription("Provider requests by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("glyphcap.provider.errors",
		metric.WithDescription("Provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CaptionEvents, err = m.Int64Counter("glyphcap.caption.events",
		metric.WithDescription("Caption events sent to subscribers by kind."),
	); err != nil {
		return nil, err
	}
	if met.LaneEvents, err = m.Int64Counter("glyphcap.lane.events",
		metric.WithDescription("Caption lane flips, drops and respawns by kind."),
	); err != nil {
		return nil, err
	}
	if met.Clips, err = m.Int64Counter("glyphcap.chunker.clips",
		metric.WithDescription("Audio clips cut for batch recognition."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("glyphcap.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSpeakers, err = m.Int64UpDownCounter("glyphcap.active_speakers",
		metric.WithDescription("Speakers with a live caption pipeline."),
	); err != nil {
		return nil, err
	}
	if met.OpenSTTSessions, err = m.Int64UpDownCounter("glyphcap.stt.open_sessions",
		metric.WithDescription("Open speech recognition sockets."),
	); err != nil {
		return nil, err
	}
	if met.Subscribers, err = m.Int64UpDownCounter("glyphcap.subscribers",
		metric.WithDescription("Connected caption subscribers."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("glyphcap.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide Metrics built on the global meter
// provider. It panics if instrument creation fails, which only happens on
// programming errors.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordTranslation records a translation's latency and outcome.
func (m *Metrics) RecordTranslation(ctx context.Context, kind string, d time.Duration, err error) {
	m.TranslateDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("kind", kind)))
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RecordProviderRequest(ctx, "translate", kind, status)
}

// RecordCleanup records a transcript cleanup call.
func (m *Metrics) RecordCleanup(ctx context.Context, d time.Duration, err error) {
	m.CleanupDuration.Record(ctx, d.Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RecordProviderRequest(ctx, "cleanup", "final", status)
}

// RecordCaptionEvent counts one event of kind sent to subscribers.
func (m *Metrics) RecordCaptionEvent(ctx context.Context, kind string) {
	m.CaptionEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordLaneEvents adds n lane events of kind. Zero is a no-op.
func (m *Metrics) RecordLaneEvents(ctx context.Context, kind string, n int) {
	if n <= 0 {
		return
	}
	m.LaneEvents.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordBreakerTransition counts a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker", name),
		attribute.String("state", to),
	))
}
