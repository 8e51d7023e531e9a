package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every Soven span.
const tracerName = "github.com/MrWong99/soven"

// AttrEntityID is the span attribute and log key carrying the personality id.
const AttrEntityID = "entity_id"

type entityKey struct{}

// Tracer returns the Soven tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. When ctx carries an entity id (see
// [WithEntity]) it is added as the entity_id attribute. The caller must end
// the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if id := EntityID(ctx); id != "" {
		opts = append(opts, trace.WithAttributes(attribute.String(AttrEntityID, id)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// WithEntity returns a copy of ctx scoped to the personality id. Spans and
// loggers derived from it carry the id.
func WithEntity(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, entityKey{}, id)
}

// EntityID returns the personality id set by [WithEntity], or "".
func EntityID(ctx context.Context) string {
	id, _ := ctx.Value(entityKey{}).(string)
	return id
}

// TraceID returns the hex trace id of the active span, or "" without one.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger enriched with the trace, span and entity
// ids found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := EntityID(ctx); id != "" {
		l = l.With(slog.String(AttrEntityID, id))
	}
	return l
}
