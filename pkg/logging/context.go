package logging

import (
	"context"
)

// Log field names carried on a context.
const (
	TraceIDKey      = "trace_id"
	RequestIDKey    = "request_id"
	MessageIDKey    = "message_id"
	ServiceNameKey  = "service_name"
	FunctionIDKey   = "function_id"
	InvocationIDKey = "invocation_id"
)

type fieldKey string

// fieldOrder fixes the order fields appear in a log line.
var fieldOrder = []string{TraceIDKey, RequestIDKey, MessageIDKey, ServiceNameKey, FunctionIDKey, InvocationIDKey}

func with(ctx context.Context, key, value string) context.Context {
	return context.WithValue(ctx, fieldKey(key), value)
}

func get(ctx context.Context, key string) string {
	v, _ := ctx.Value(fieldKey(key)).(string)
	return v
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, TraceIDKey, traceID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return with(ctx, RequestIDKey, requestID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return with(ctx, MessageIDKey, messageID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return with(ctx, ServiceNameKey, serviceName)
}

func WithFunctionID(ctx context.Context, functionID string) context.Context {
	return with(ctx, FunctionIDKey, functionID)
}

func WithInvocationID(ctx context.Context, invocationID string) context.Context {
	return with(ctx, InvocationIDKey, invocationID)
}

func GetTraceID(ctx context.Context) string     { return get(ctx, TraceIDKey) }
func GetRequestID(ctx context.Context) string   { return get(ctx, RequestIDKey) }
func GetMessageID(ctx context.Context) string   { return get(ctx, MessageIDKey) }
func GetServiceName(ctx context.Context) string { return get(ctx, ServiceNameKey) }

// GetLogFields returns the non-empty fields of ctx as alternating keys and
// values, ready for the *w logging methods.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 2*len(fieldOrder))
	for _, key := range fieldOrder {
		if v := get(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}
	return fields
}
