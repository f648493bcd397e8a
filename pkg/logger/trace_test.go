package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestTraceFieldsFromSpanContext(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	fields := TraceFields(ctx)
	require.Len(t, fields, 2)
	require.Equal(t, "trace_id", fields[0].Key)
	require.Equal(t, traceID.String(), fields[0].String)
	require.Equal(t, spanID.String(), fields[1].String)
}

func TestFromContextUsesGlobalLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	FromContext(context.Background(), zap.String("uid", "u-1")).Info("hello")

	entries := logs.All()
	require.Len(t, entries, 1)
	ctxMap := entries[0].ContextMap()
	require.Equal(t, "u-1", ctxMap["uid"])
	require.Contains(t, ctxMap, "trace_id")
}
