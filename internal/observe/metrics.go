// Package observe provides observability primitives for Hibiki:
// OpenTelemetry metrics, tracing, and HTTP middleware tying them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// via a Prometheus bridge set up by [InitProvider], so the usual /metrics
// scrape endpoint keeps working. Tests should build their own [Metrics]
// with [NewMetrics] and a manual reader instead of touching the global
// provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all Hibiki metrics.
const meterName = "github.com/hibiki-voice/hibiki"

// Metrics holds the metric instruments for the voice pipeline. The OTel
// types synchronise internally, so all fields are safe for concurrent use.
type Metrics struct {
	// --- Stage latency histograms ---

	// RecognitionDuration tracks per-utterance transcription latency.
	RecognitionDuration metric.Float64Histogram

	// GenerationDuration tracks full LLM reply streaming time.
	GenerationDuration metric.Float64Histogram

	// SynthesisDuration tracks per-chunk speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// ReplyLatency tracks end of user speech to first audible reply audio.
	// This is the number the whole pipeline is tuned for.
	ReplyLatency metric.Float64Histogram

	// --- Counters ---

	// Utterances counts committed utterances. Attribute: reason
	// ("silence", "max_duration", "stream_end").
	Utterances metric.Int64Counter

	// BargeIns counts replies cut short by the user speaking over them.
	BargeIns metric.Int64Counter

	// WakeWords counts wake-phrase activations.
	WakeWords metric.Int64Counter

	// PipelineErrors counts stage failures. Attribute: stage
	// ("capture", "recognition", "generation", "synthesis", "playback").
	PipelineErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks live dialogue sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SynthesisBacklog tracks text chunks queued for synthesis.
	SynthesisBacklog metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// conversational latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.RecognitionDuration, err = m.Float64Histogram("hibiki.recognition.duration",
		metric.WithDescription("Latency of speech recognition per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("hibiki.generation.duration",
		metric.WithDescription("Time to stream a complete language-model reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("hibiki.synthesis.duration",
		metric.WithDescription("Latency of speech synthesis per text chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ReplyLatency, err = m.Float64Histogram("hibiki.reply.latency",
		metric.WithDescription("End of user speech to first audible reply audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Utterances, err = m.Int64Counter("hibiki.utterances",
		metric.WithDescription("Committed utterances by commit reason."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("hibiki.barge_ins",
		metric.WithDescription("Replies interrupted by the user."),
	); err != nil {
		return nil, err
	}
	if met.WakeWords, err = m.Int64Counter("hibiki.wake_words",
		metric.WithDescription("Wake-phrase activations."),
	); err != nil {
		return nil, err
	}
	if met.PipelineErrors, err = m.Int64Counter("hibiki.pipeline.errors",
		metric.WithDescription("Stage failures by pipeline stage."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("hibiki.active_sessions",
		metric.WithDescription("Live dialogue sessions."),
	); err != nil {
		return nil, err
	}
	if met.SynthesisBacklog, err = m.Int64UpDownCounter("hibiki.synthesis_backlog",
		metric.WithDescription("Text chunks queued for synthesis."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("hibiki.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics], creating it on first
// call from [otel.GetMeterProvider]. Panics if instrument creation fails,
// which cannot happen with the global provider.
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

// RecordUtterance increments the utterance counter with its commit reason.
func (m *Metrics) RecordUtterance(ctx context.Context, reason string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordPipelineError increments the stage error counter.
func (m *Metrics) RecordPipelineError(ctx context.Context, stage string) {
	m.PipelineErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)))
}
