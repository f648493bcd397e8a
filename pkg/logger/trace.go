package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// TraceFields returns the trace_id/span_id pair of the span carried by ctx.
// Both are all-zero strings when no span is recording.
func TraceFields(ctx context.Context) []zap.Field {
	sc := trace.SpanFromContext(ctx).SpanContext()
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}

// FromContext is zap.L() decorated with the trace fields of ctx.
func FromContext(ctx context.Context, fields ...zap.Field) *zap.Logger {
	return zap.L().With(append(TraceFields(ctx), fields...)...)
}
