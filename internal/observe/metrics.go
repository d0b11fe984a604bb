// Package observe provides the observability primitives shared by the
// recorder: OpenTelemetry metrics, tracing, a trace-aware slog logger, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported for
// Prometheus scraping by [InitProvider]. Components accept a *[Metrics] and
// treat nil as "do not record"; tests build one with [NewMetrics] over a
// manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/minutes"

// Metrics holds all OpenTelemetry metric instruments for the application.
type Metrics struct {
	// STTDuration tracks transcription latency. Attributes: backend, mode.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks engine call latency. Attributes: engine, status.
	LLMDuration metric.Float64Histogram

	// StageDuration tracks pipeline stage latency. Attribute: stage.
	StageDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Attributes: provider,
	// kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// AudioChunks counts chunks delivered by a capture. Attribute: source.
	AudioChunks metric.Int64Counter

	// AudioDropped counts driver frames dropped because the capture queue
	// was full. Attribute: source.
	AudioDropped metric.Int64Counter

	// ActiveSessions is 1 while a recording session is between Recording
	// and a terminal state.
	ActiveSessions metric.Int64UpDownCounter

	// LiveResultsDiscarded counts live transcription results that arrived
	// after their session moved past Recording.
	LiveResultsDiscarded metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes of the
	// transcription and LLM backends. Attributes: provider, state.
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path, status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds. Transcription of a
// full meeting and LLM summaries routinely take minutes.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	if met.STTDuration, err = histogram("minutes.stt.duration",
		"Latency of speech-to-text transcription."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("minutes.llm.duration",
		"Latency of summary, title, and action-item LLM calls."); err != nil {
		return nil, err
	}
	if met.StageDuration, err = histogram("minutes.pipeline.stage.duration",
		"Latency of meeting pipeline stages."); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("minutes.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("minutes.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunks, err = m.Int64Counter("minutes.audio.chunks",
		metric.WithDescription("Audio chunks delivered by the capture."),
	); err != nil {
		return nil, err
	}
	if met.AudioDropped, err = m.Int64Counter("minutes.audio.dropped",
		metric.WithDescription("Audio frames dropped because the capture queue was full."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("minutes.sessions.active",
		metric.WithDescription("Number of recording sessions in progress."),
	); err != nil {
		return nil, err
	}
	if met.LiveResultsDiscarded, err = m.Int64Counter("minutes.live.results.discarded",
		metric.WithDescription("Live transcription results discarded after their session stopped recording."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("minutes.provider.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("minutes.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// status maps an error to the "status" attribute value.
func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordSTT records one transcription call. mode is "file" or "chunk". A
// non-empty failure also counts as a provider error.
func (m *Metrics) RecordSTT(ctx context.Context, backend, mode string, d time.Duration, failure string) {
	if m == nil {
		return
	}
	m.STTDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("mode", mode),
	))
	st := "ok"
	if failure != "" {
		st = "error"
		m.RecordProviderError(ctx, backend, "stt")
	}
	m.RecordProviderRequest(ctx, backend, "stt", st)
}

// RecordLLM records one engine call. engine is "summary", "title", or
// "action_items".
func (m *Metrics) RecordLLM(ctx context.Context, engine, model string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.LLMDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("engine", engine),
		attribute.String("status", status(err)),
	))
	if err != nil {
		m.RecordProviderError(ctx, model, "llm")
	}
	m.RecordProviderRequest(ctx, model, "llm", status(err))
}

// RecordStage records the latency of a pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordChunk counts one captured chunk.
func (m *Metrics) RecordChunk(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.AudioChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordDropped adds n dropped driver frames.
func (m *Metrics) RecordDropped(ctx context.Context, source string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioDropped.Add(ctx, n, metric.WithAttributes(attribute.String("source", source)))
}

// RecordDiscarded counts one stale live result.
func (m *Metrics) RecordDiscarded(ctx context.Context) {
	if m == nil {
		return
	}
	m.LiveResultsDiscarded.Add(ctx, 1)
}

// SessionStarted and SessionEnded move the active-session gauge.
func (m *Metrics) SessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

func (m *Metrics) SessionEnded(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}

// RecordBreakerTransition counts a breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	if m == nil {
		return
	}
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}
