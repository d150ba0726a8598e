package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/waketurn"

type turnIDKey struct{}

// Tracer returns the waketurn tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartTurn tags ctx with the turn ID and opens the root "turn" span.
func StartTurn(ctx context.Context, id string) (context.Context, trace.Span) {
	ctx = WithTurnID(ctx, id)
	return StartSpan(ctx, "turn", trace.WithAttributes(attribute.String("turn.id", id)))
}

// StartStage opens a child span for one stage of the current turn.
func StartStage(ctx context.Context, stage string) (context.Context, trace.Span) {
	return StartSpan(ctx, "turn."+stage, trace.WithAttributes(attribute.String("turn.stage", stage)))
}

// Fail marks span as failed with err. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// WithTurnID stores the turn identifier in ctx for [Logger].
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnIDKey{}, id)
}

// TurnID returns the identifier stored by [WithTurnID].
func TurnID(ctx context.Context) string {
	id, _ := ctx.Value(turnIDKey{}).(string)
	return id
}

// Logger returns the default logger with turn_id and trace_id attached when
// ctx carries them.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := TurnID(ctx); id != "" {
		l = l.With(slog.String("turn_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(slog.String("trace_id", sc.TraceID().String()))
	}
	return l
}
