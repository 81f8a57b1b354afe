package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Context key types.
type cabinetCtxKey struct{}
type requestCtxKey struct{}
type runCtxKey struct{}

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	// Trace correlation (from OpenTelemetry)
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if cabinetID, ok := CabinetIDFromContext(ctx); ok {
		fields = append(fields, zap.Int64("cabinet_id", cabinetID))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run_id", runID))
	}

	return fields
}

// ContextWithCabinetID attaches a cabinet id for log correlation.
func ContextWithCabinetID(ctx context.Context, cabinetID int64) context.Context {
	return context.WithValue(ctx, cabinetCtxKey{}, cabinetID)
}

// CabinetIDFromContext extracts the cabinet id, if present.
func CabinetIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(cabinetCtxKey{}).(int64)
	return id, ok
}

// ContextWithRequestID attaches an HTTP request id.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext extracts the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// ContextWithRunID attaches an indexing run id.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext extracts the indexing run id, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runCtxKey{}).(string)
	return id
}
