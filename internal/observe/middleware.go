package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// quietPaths are logged at debug level; probes and scrapes hit them often.
var quietPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/metrics": true,
}

// streamPaths stay open for the life of a client, so their duration says
// nothing about latency and is not recorded.
var streamPaths = map[string]bool{
	"/events": true,
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets [http.ResponseController] reach the underlying writer, which
// the websocket upgrade on /events needs.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// route is the matched mux pattern without its method, or the raw path
// when nothing matched.
func route(r *http.Request) string {
	if r.Pattern == "" {
		return r.URL.Path
	}
	for i := 0; i < len(r.Pattern); i++ {
		if r.Pattern[i] == ' ' {
			return r.Pattern[i+1:]
		}
	}
	return r.Pattern
}

// Middleware instruments the status server. It continues an incoming W3C
// trace context, wraps the request in a server span, returns the trace ID
// as X-Correlation-ID and records [Metrics.HTTPRequestDuration] labelled by
// route, so wildcard paths do not explode label cardinality.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			var traceID string
			if sc := span.SpanContext(); sc.HasTraceID() {
				traceID = sc.TraceID().String()
				w.Header().Set("X-Correlation-ID", traceID)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			path := route(r)
			elapsed := time.Since(start)
			span.SetName("HTTP " + r.Method + " " + path)
			span.SetAttributes(semconv.HTTPRoute(path), semconv.HTTPResponseStatusCode(rec.status))

			if !streamPaths[path] {
				m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
					metric.WithAttributes(
						attribute.String("method", r.Method),
						attribute.String("path", path),
						attribute.String("status", strconv.Itoa(rec.status)),
					),
				)
			}

			level := slog.LevelInfo
			if quietPaths[path] && rec.status < 400 {
				level = slog.LevelDebug
			}
			slog.LogAttrs(ctx, level, "http: request",
				slog.String("trace_id", traceID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("duration", elapsed),
			)
		})
	}
}
