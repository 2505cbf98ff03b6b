package integration

import (
	"time"

	"hogflow/internal/config"
	"hogflow/internal/constants"
	"hogflow/internal/destinations"
	"hogflow/internal/logger"
	"hogflow/internal/templates"
	"hogflow/pkg/hog"
	"hogflow/pkg/models"
)

const (
	containerStartupTimeout = time.Minute
	// timestampDelay separates rows whose ordering is asserted by timestamp.
	timestampDelay = 10 * time.Millisecond
	testToken      = "tok-secret-123"
	testTemplateID = "template-customerio"
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

// createTestGuardConfig claims with md5 keys and lets invocations through
// when Redis fails.
func createTestGuardConfig() config.DeduplicationConfig {
	return config.DeduplicationConfig{
		Enabled:       true,
		HashAlgorithm: "md5",
		TTLSeconds:    300,
		OnRedisError:  constants.FallbackAllow,
	}
}

func createTestRegistry() *templates.Registry {
	registry := templates.NewRegistry()
	if err := templates.LoadBuiltins(registry); err != nil {
		panic(err)
	}
	return registry
}

// createTestFunction configures the builtin Customer.io template with a
// secret token, unsaved.
func createTestFunction(name string, enabled bool) *destinations.Function {
	t, ok := createTestRegistry().Get(testTemplateID)
	if !ok {
		panic("builtin " + testTemplateID + " missing")
	}
	fn := destinations.FunctionFromTemplate(t, map[string]hog.Value{
		"site_id":    hog.StringValue("site-1"),
		"token":      hog.StringValue(testToken),
		"attributes": hog.MapValue(hog.NewMap()),
	})
	fn.ID = ""
	fn.Name = name
	fn.Enabled = enabled
	return &fn
}

// customerIOInputs are the builtin Customer.io template inputs with the
// secret test token.
func customerIOInputs() map[string]hog.Value {
	return map[string]hog.Value{
		"site_id":    hog.StringValue("site-1"),
		"token":      hog.StringValue(testToken),
		"attributes": hog.MapValue(hog.NewMap()),
	}
}

type eventOption func(payload map[string]interface{})

func withProperty(key string, value interface{}) eventOption {
	return func(payload map[string]interface{}) {
		payload["properties"].(map[string]interface{})[key] = value
	}
}

// createTestEvent builds an input topic envelope for distinct id d-1, whose
// person has an email so the Customer.io template has someone to identify.
func createTestEvent(uuid, name string, opts ...eventOption) models.MessageEnvelope {
	payload := map[string]interface{}{
		"uuid":        uuid,
		"event":       name,
		"distinct_id": "d-1",
		"properties":  map[string]interface{}{"$current_url": "https://example.com"},
		"person": map[string]interface{}{
			"id":         "p-1",
			"properties": map[string]interface{}{"email": "a@b.com"},
		},
	}
	for _, opt := range opts {
		opt(payload)
	}
	return models.NewEnvelope(uuid, "integration-test", payload)
}

func boolPtr(b bool) *bool {
	return &b
}
