package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the process-wide telemetry pipeline.
type ProviderConfig struct {
	// ServiceName defaults to "waketurn".
	ServiceName    string
	ServiceVersion string

	// Attributes are attached to the resource, e.g. the audio backend and
	// the wake mode the process runs with.
	Attributes []attribute.KeyValue

	// TraceExporter receives finished turn spans. Nil keeps spans in-process
	// only, which still gives turn IDs to log lines.
	TraceExporter sdktrace.SpanExporter

	// TraceRatio samples that fraction of root turn spans. Zero or values
	// above one sample everything.
	TraceRatio float64
}

func (c ProviderConfig) sampler() sdktrace.Sampler {
	if c.TraceRatio <= 0 || c.TraceRatio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.TraceRatio))
}

// InitProvider installs global meter and tracer providers. Metrics are
// exported through the Prometheus registry that [MetricsHandler] serves.
// The returned function flushes and stops both providers, tracer first.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "waketurn"
	}
	attrs := append([]attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}, cfg.Attributes...)
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	exp, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	stops := []func(context.Context) error{mp.Shutdown, tp.Shutdown}
	return func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			errs = append(errs, stops[i](ctx))
		}
		return errors.Join(errs...)
	}, nil
}

// MetricsHandler serves the metrics registered by [InitProvider] in the
// Prometheus text format.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
