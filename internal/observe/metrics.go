// Package observe provides application-wide observability primitives for
// Ordovox: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Ordovox metrics.
const meterName = "github.com/ordovox/ordovox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks the delay between end of speech and the final
	// transcript.
	STTDuration metric.Float64Histogram

	// ExtractionDuration tracks LLM order-extraction latency.
	ExtractionDuration metric.Float64Histogram

	// TTSDuration tracks time to first synthesized audio chunk.
	TTSDuration metric.Float64Histogram

	// CallDuration tracks total call length.
	CallDuration metric.Float64Histogram

	// --- Counters ---

	// CallsTotal counts finished calls. Use with attribute:
	//   attribute.String("status", ...)
	CallsTotal metric.Int64Counter

	// OrdersCreated counts persisted orders. Use with attribute:
	//   attribute.String("status", ...)
	OrdersCreated metric.Int64Counter

	// CatalogSearches counts product lookups. Use with attributes:
	//   attribute.String("match", "semantic"|"fuzzy"|"none")
	CatalogSearches metric.Int64Counter

	// BargeIns counts caller interruptions that cleared queued playback.
	BargeIns metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live calls.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callBuckets defines histogram bucket boundaries (in seconds) for whole-call
// durations, up to the 30 minute session ceiling.
var callBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600, 1200, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("ordovox.stt.duration",
		metric.WithDescription("Latency from end of speech to final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ExtractionDuration, err = m.Float64Histogram("ordovox.extraction.duration",
		metric.WithDescription("Latency of LLM order extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("ordovox.tts.duration",
		metric.WithDescription("Latency to first synthesized audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CallDuration, err = m.Float64Histogram("ordovox.call.duration",
		metric.WithDescription("Total call duration."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CallsTotal, err = m.Int64Counter("ordovox.calls.total",
		metric.WithDescription("Finished calls by terminal status."),
	); err != nil {
		return nil, err
	}
	if met.OrdersCreated, err = m.Int64Counter("ordovox.orders.created",
		metric.WithDescription("Persisted orders by status."),
	); err != nil {
		return nil, err
	}
	if met.CatalogSearches, err = m.Int64Counter("ordovox.catalog.searches",
		metric.WithDescription("Product lookups by match type."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("ordovox.barge_ins",
		metric.WithDescription("Caller interruptions that cleared queued playback."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("ordovox.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("ordovox.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("ordovox.active_calls",
		metric.WithDescription("Number of live calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ordovox.http.request.duration",
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

// RecordCallEnded records a finished call with its terminal status and
// duration.
func (m *Metrics) RecordCallEnded(ctx context.Context, status string, duration time.Duration) {
	m.CallsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.CallDuration.Record(ctx, duration.Seconds())
}

// RecordOrderCreated records a persisted order.
func (m *Metrics) RecordOrderCreated(ctx context.Context, status string) {
	m.OrdersCreated.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordCatalogSearch records a product lookup with how it matched.
func (m *Metrics) RecordCatalogSearch(ctx context.Context, match string) {
	m.CatalogSearches.Add(ctx, 1,
		metric.WithAttributes(attribute.String("match", match)),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
