// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing, trace-aware structured logging and HTTP
// middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and bridged to
// Prometheus by [InitProvider] so they can be scraped from /metrics. A
// package-level [DefaultMetrics] instance is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/waketurn"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks reply generation latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks reply synthesis and playback time.
	TTSDuration metric.Float64Histogram

	// CaptureDuration tracks the length of captured utterances (audio
	// seconds, not wall time).
	CaptureDuration metric.Float64Histogram

	// TurnDuration tracks wall time from wake to idle.
	TurnDuration metric.Float64Histogram

	// --- Wake path ---

	// WakeTriggers counts accepted wake events. Attribute "trigger".
	WakeTriggers metric.Int64Counter

	// WakeSuppressed counts triggers swallowed by the cooldown.
	WakeSuppressed metric.Int64Counter

	// WakeScore is the most recent classifier score.
	WakeScore metric.Float64Gauge

	// FramesDropped counts capture blocks dropped on buffer overflow.
	FramesDropped metric.Int64Counter

	// --- Turns ---

	// Turns counts finished turns. Attribute "outcome".
	Turns metric.Int64Counter

	// TurnErrors counts failed turns. Attribute "stage".
	TurnErrors metric.Int64Counter

	// FillerPhrases counts spoken filler phrases.
	FillerPhrases metric.Int64Counter

	// UIEventsDropped counts presentation events lost to a full queue.
	UIEventsDropped metric.Int64Counter

	// NetworkUp is 1 while the network probe succeeds, 0 otherwise.
	NetworkUp metric.Int64Gauge

	// --- Providers ---

	// ProviderRequests counts provider calls. Attributes "provider",
	// "kind" and "status".
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes "provider" and
	// "kind".
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks status server request time. Attributes
	// "method" and "path".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram boundaries (seconds) for voice-turn
// stages.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	hist := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}
	if met.STTDuration, err = hist("waketurn.stt.duration", "Latency of speech-to-text transcription."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = hist("waketurn.llm.duration", "Latency of reply generation."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = hist("waketurn.tts.duration", "Time to synthesize and play the reply."); err != nil {
		return nil, err
	}
	if met.CaptureDuration, err = hist("waketurn.capture.duration", "Length of captured utterances."); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = hist("waketurn.turn.duration", "Wall time from wake to idle."); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.WakeTriggers, "waketurn.wake.triggers", "Accepted wake events by trigger."},
		{&met.WakeSuppressed, "waketurn.wake.suppressed", "Wake triggers suppressed by the cooldown."},
		{&met.FramesDropped, "waketurn.frames.dropped", "Capture blocks dropped on buffer overflow."},
		{&met.Turns, "waketurn.turns", "Finished turns by outcome."},
		{&met.TurnErrors, "waketurn.turn.errors", "Failed turns by stage."},
		{&met.FillerPhrases, "waketurn.filler.phrases", "Filler phrases spoken."},
		{&met.UIEventsDropped, "waketurn.ui.dropped", "Presentation events dropped on a full queue."},
		{&met.ProviderRequests, "waketurn.provider.requests", "Provider requests by provider, kind, and status."},
		{&met.ProviderErrors, "waketurn.provider.errors", "Provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.WakeScore, err = m.Float64Gauge("waketurn.wake.score",
		metric.WithDescription("Most recent wake classifier score."),
	); err != nil {
		return nil, err
	}
	if met.NetworkUp, err = m.Int64Gauge("waketurn.network.up",
		metric.WithDescription("1 while the network probe succeeds."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("waketurn.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call from [otel.GetMeterProvider]. Panics if instrument creation
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest increments the provider request counter.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind), Attr("status", status),
	))
}

// RecordProviderError increments the provider error counter.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider), Attr("kind", kind),
	))
}

// RecordWake records one wake-path decision.
func (m *Metrics) RecordWake(ctx context.Context, trigger string, score float64, fired, suppressed bool) {
	if score > 0 {
		m.WakeScore.Record(ctx, score)
	}
	if fired {
		m.WakeTriggers.Add(ctx, 1, metric.WithAttributes(Attr("trigger", trigger)))
	}
	if suppressed {
		m.WakeSuppressed.Add(ctx, 1)
	}
}

// RecordTurn records a finished turn and, when stage is non-empty, an error
// at that stage.
func (m *Metrics) RecordTurn(ctx context.Context, outcome, stage string, seconds float64) {
	m.TurnDuration.Record(ctx, seconds)
	m.Turns.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
	if stage != "" {
		m.TurnErrors.Add(ctx, 1, metric.WithAttributes(Attr("stage", stage)))
	}
}

// SetNetwork records the probe result.
func (m *Metrics) SetNetwork(ctx context.Context, up bool) {
	var v int64
	if up {
		v = 1
	}
	m.NetworkUp.Record(ctx, v)
}
