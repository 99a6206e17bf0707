// Package observe provides application-wide observability primitives for
// Kestrel: OpenTelemetry metrics and the provider setup that exports them.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all Kestrel metrics.
const meterName = "github.com/kestrelvoice/kestrel"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks speech-to-text latency per segment.
	TranscriptionDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency per unit.
	SynthesisDuration metric.Float64Histogram

	// VerificationDuration tracks speaker identification latency.
	VerificationDuration metric.Float64Histogram

	// --- Counters ---

	// FramesProcessed counts frames through the signal chain.
	FramesProcessed metric.Int64Counter

	// StageErrors counts per-stage processing failures. Use with attribute:
	//   attribute.String("stage", ...)
	StageErrors metric.Int64Counter

	// SegmentsDiscarded counts speech segments dropped below the minimum
	// length.
	SegmentsDiscarded metric.Int64Counter

	// StateTransitions counts accepted conversation state changes. Use with
	// attributes: attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// InvalidTransitions counts refused conversation state changes.
	InvalidTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveTurns tracks response turns currently being played back.
	ActiveTurns metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("kestrel.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription per segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("kestrel.synthesis.duration",
		metric.WithDescription("Latency of text-to-speech synthesis per unit."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VerificationDuration, err = m.Float64Histogram("kestrel.verification.duration",
		metric.WithDescription("Latency of speaker identification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesProcessed, err = m.Int64Counter("kestrel.frames.processed",
		metric.WithDescription("Total frames processed by the signal chain."),
	); err != nil {
		return nil, err
	}
	if met.StageErrors, err = m.Int64Counter("kestrel.stage.errors",
		metric.WithDescription("Total per-stage signal processing failures by stage."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDiscarded, err = m.Int64Counter("kestrel.segments.discarded",
		metric.WithDescription("Total speech segments dropped below the minimum length."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("kestrel.state.transitions",
		metric.WithDescription("Total accepted conversation state transitions by from/to."),
	); err != nil {
		return nil, err
	}
	if met.InvalidTransitions, err = m.Int64Counter("kestrel.state.invalid_transitions",
		metric.WithDescription("Total refused conversation state transitions."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveTurns, err = m.Int64UpDownCounter("kestrel.active_turns",
		metric.WithDescription("Number of response turns currently in playback."),
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

// RecordStageError records a per-stage processing failure.
func (m *Metrics) RecordStageError(ctx context.Context, stage string) {
	m.StageErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordStateTransition records an accepted conversation state change.
func (m *Metrics) RecordStateTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}
