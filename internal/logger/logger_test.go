package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"hogflow/pkg/logging"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"", FormatJSON, FormatConsole} {
		_, err := New("debug", format)
		assert.NoError(t, err, format)
	}

	_, err := New("info", "xml")
	assert.Error(t, err)
	_, err = New("loud", FormatJSON)
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := &SugaredLogger{SugaredLogger: zap.New(core).Sugar()}
	log.SetServiceName("destination-service")

	ctx := logging.WithFunctionID(context.Background(), "fn-1")
	ctx = logging.WithInvocationID(ctx, "inv-1")
	log.With("template_id", "template-webhook").InfowCtx(ctx, "Invocation finished", "status", "succeeded")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "fn-1", fields["function_id"])
	assert.Equal(t, "inv-1", fields["invocation_id"])
	assert.Equal(t, "destination-service", fields["service_name"])
	assert.Equal(t, "template-webhook", fields["template_id"])
	assert.Equal(t, "succeeded", fields["status"])
}

func TestServiceNameFromContextWins(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := &SugaredLogger{SugaredLogger: zap.New(core).Sugar(), serviceName: "fallback"}

	log.WarnwCtx(logging.WithServiceName(context.Background(), "management-service"), "x")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "management-service", logs.All()[0].ContextMap()["service_name"])
}
