package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Context key types
type agentCtxKey struct{}
type requestCtxKey struct{}
type messageCtxKey struct{}

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

	if agentID := AgentIDFromContext(ctx); agentID != "" {
		fields = append(fields, zap.String("agent.id", agentID))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}
	if messageID := MessageIDFromContext(ctx); messageID != "" {
		fields = append(fields, zap.String("message.id", messageID))
	}

	return fields
}

// WithAgentID attaches an agent identifier to the context.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	if agentID == "" {
		return ctx
	}
	return context.WithValue(ctx, agentCtxKey{}, agentID)
}

// AgentIDFromContext returns the agent ID, or "" if unset.
func AgentIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(agentCtxKey{}).(string)
	return id
}

// WithRequestID attaches an HTTP request identifier to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request ID, or "" if unset.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestCtxKey{}).(string)
	return id
}

// WithMessageID attaches a mesh message identifier to the context.
func WithMessageID(ctx context.Context, messageID string) context.Context {
	if messageID == "" {
		return ctx
	}
	return context.WithValue(ctx, messageCtxKey{}, messageID)
}

// MessageIDFromContext returns the mesh message ID, or "" if unset.
func MessageIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(messageCtxKey{}).(string)
	return id
}
