package logging

import (
	"context"
	"regexp"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if id := WorkflowIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("workflow.id", id))
	}
	if id := PhaseIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("phase.id", id))
	}
	if id := SessionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("session.id", id))
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request.id", id))
	}

	return fields
}

type ctxKey int

const (
	workflowKey ctxKey = iota
	phaseKey
	sessionKey
	requestKey
	loggerKey
)

const maxIDLen = 128

// idPattern allows alphanumeric, dot, hyphen, underscore.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validID reports whether id is safe to put in a log line.
func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

func withID(ctx context.Context, key ctxKey, id string) context.Context {
	if !validID(id) {
		return ctx
	}
	return context.WithValue(ctx, key, id)
}

func idFrom(ctx context.Context, key ctxKey) string {
	s, _ := ctx.Value(key).(string)
	return s
}

// WithWorkflowID adds a workflow id to ctx. Invalid ids are ignored.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return withID(ctx, workflowKey, id)
}

// WorkflowIDFromContext returns the workflow id in ctx, or "".
func WorkflowIDFromContext(ctx context.Context) string {
	return idFrom(ctx, workflowKey)
}

// WithPhaseID adds a phase id to ctx. Invalid ids are ignored.
func WithPhaseID(ctx context.Context, id string) context.Context {
	return withID(ctx, phaseKey, id)
}

// PhaseIDFromContext returns the phase id in ctx, or "".
func PhaseIDFromContext(ctx context.Context) string {
	return idFrom(ctx, phaseKey)
}

// WithSessionID adds the assistant session id to ctx. Invalid ids are ignored.
func WithSessionID(ctx context.Context, id string) context.Context {
	return withID(ctx, sessionKey, id)
}

// SessionIDFromContext returns the session id in ctx, or "".
func SessionIDFromContext(ctx context.Context) string {
	return idFrom(ctx, sessionKey)
}

// WithRequestID adds an HTTP request id to ctx. Invalid ids are ignored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withID(ctx, requestKey, id)
}

// RequestIDFromContext returns the request id in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	return idFrom(ctx, requestKey)
}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or a nop logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return NewNop()
}
