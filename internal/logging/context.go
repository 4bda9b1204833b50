package logging

import (
	"context"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type taskIDKey struct{}
type requestIDKey struct{}
type loggerKey struct{}

// idPattern restricts correlation ids to safe log-friendly characters.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)

// WithTaskID returns a context carrying the formulation task id.
// Panics if the id is empty or contains unsafe characters.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	if !idPattern.MatchString(taskID) {
		panic(fmt.Sprintf("invalid task id: %q", taskID))
	}
	return context.WithValue(ctx, taskIDKey{}, taskID)
}

// TaskIDFromContext extracts the task id, or "" when absent.
func TaskIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(taskIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithRequestID returns a context carrying the API request id.
// Panics if the id is empty or contains unsafe characters.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if !idPattern.MatchString(requestID) {
		panic(fmt.Sprintf("invalid request id: %q", requestID))
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext extracts the request id, or "" when absent.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext retrieves the logger from the context, or a nop logger
// when none is stored.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}

// ContextFields extracts correlation fields from the context: the
// active trace span plus task and request ids when present.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 4)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if taskID := TaskIDFromContext(ctx); taskID != "" {
		fields = append(fields, zap.String("task_id", taskID))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	return fields
}
