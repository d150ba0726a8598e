package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value for the data point carrying key=value.
func sumFor(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", name)
	}
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestHistogramObservation(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"waketurn.stt.duration", m.STTDuration},
		{"waketurn.llm.duration", m.LLMDuration},
		{"waketurn.tts.duration", m.TTSDuration},
		{"waketurn.capture.duration", m.CaptureDuration},
		{"waketurn.turn.duration", m.TurnDuration},
	}
	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)
	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

func TestRecordProviderRequest(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "error")
	m.RecordProviderError(ctx, "openai", "llm")

	rm := collect(t, reader)
	if got := sumFor(t, rm, "waketurn.provider.requests", "status", "ok"); got != 2 {
		t.Errorf("ok requests = %d, want 2", got)
	}
	if got := sumFor(t, rm, "waketurn.provider.requests", "status", "error"); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
	if got := sumFor(t, rm, "waketurn.provider.errors", "kind", "llm"); got != 1 {
		t.Errorf("errors = %d, want 1", got)
	}
}

func TestRecordWake(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordWake(ctx, "classifier", 0.8, true, false)
	m.RecordWake(ctx, "classifier", 0.9, false, true)
	m.RecordWake(ctx, "interval", 0, true, false)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "waketurn.wake.triggers", "trigger", "classifier"); got != 1 {
		t.Errorf("classifier triggers = %d, want 1", got)
	}
	if got := sumFor(t, rm, "waketurn.wake.triggers", "trigger", "interval"); got != 1 {
		t.Errorf("interval triggers = %d, want 1", got)
	}
	if got := sumFor(t, rm, "waketurn.wake.suppressed", "", ""); got != 1 {
		t.Errorf("suppressed = %d, want 1", got)
	}

	met := findMetric(rm, "waketurn.wake.score")
	if met == nil {
		t.Fatal("wake score gauge not found")
	}
	g, ok := met.Data.(metricdata.Gauge[float64])
	if !ok || len(g.DataPoints) == 0 {
		t.Fatal("wake score is not a populated float64 gauge")
	}
	if got := g.DataPoints[0].Value; got != 0.9 {
		t.Errorf("wake score = %v, want 0.9", got)
	}
}

func TestRecordTurn(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTurn(ctx, "replied", "", 3.2)
	m.RecordTurn(ctx, "failed", "stt", 1.1)
	m.RecordTurn(ctx, "failed", "stt", 0.9)

	rm := collect(t, reader)
	if got := sumFor(t, rm, "waketurn.turns", "outcome", "replied"); got != 1 {
		t.Errorf("replied = %d, want 1", got)
	}
	if got := sumFor(t, rm, "waketurn.turns", "outcome", "failed"); got != 2 {
		t.Errorf("failed = %d, want 2", got)
	}
	if got := sumFor(t, rm, "waketurn.turn.errors", "stage", "stt"); got != 2 {
		t.Errorf("stt errors = %d, want 2", got)
	}
}

func TestSetNetwork(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.SetNetwork(ctx, true)
	m.SetNetwork(ctx, false)

	rm := collect(t, reader)
	met := findMetric(rm, "waketurn.network.up")
	if met == nil {
		t.Fatal("metric not found")
	}
	g, ok := met.Data.(metricdata.Gauge[int64])
	if !ok || len(g.DataPoints) == 0 {
		t.Fatal("network.up is not a populated int64 gauge")
	}
	if got := g.DataPoints[0].Value; got != 0 {
		t.Errorf("network.up = %d, want 0", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	t.Parallel()
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "waketurn.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Fatal("want exactly one sample")
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different pointers")
	}
}
