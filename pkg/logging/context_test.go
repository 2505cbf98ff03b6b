package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))
	assert.Empty(t, GetTraceID(ctx))

	ctx = WithInvocationID(ctx, "inv-1")
	ctx = WithMessageID(ctx, "msg-1")
	ctx = WithTraceID(ctx, "4bf92f3577b34da6a3ce929d0e0e4736")
	ctx = WithServiceName(ctx, "destination-service")

	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", GetTraceID(ctx))
	assert.Equal(t, "msg-1", GetMessageID(ctx))
	assert.Equal(t, "destination-service", GetServiceName(ctx))
	assert.Empty(t, GetRequestID(ctx))

	assert.Equal(t, []interface{}{
		TraceIDKey, "4bf92f3577b34da6a3ce929d0e0e4736",
		MessageIDKey, "msg-1",
		ServiceNameKey, "destination-service",
		InvocationIDKey, "inv-1",
	}, GetLogFields(ctx))
}

func TestEmptyValuesAreSkipped(t *testing.T) {
	ctx := WithFunctionID(WithRequestID(context.Background(), ""), "fn-1")
	assert.Equal(t, []interface{}{FunctionIDKey, "fn-1"}, GetLogFields(ctx))
}
