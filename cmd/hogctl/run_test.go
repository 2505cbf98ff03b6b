package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hogflow/internal/config"
	"hogflow/internal/logger"
	"hogflow/pkg/models"
)

const builtinTemplate = "../../internal/templates/builtin/customerio.yaml"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunTemplate(t *testing.T) {
	event := writeFile(t, "event.json", `{
		"uuid": "e-1",
		"event": "$identify",
		"distinct_id": "d-1",
		"timestamp": "2024-01-01T00:00:00Z",
		"person": {"id": "p-1", "properties": {"email": "a@b.com"}}
	}`)
	inputs := writeFile(t, "inputs.json", `{"site_id": "site-1", "token": "tok-secret-123", "attributes": {}}`)

	for _, ref := range []string{builtinTemplate, "template-customerio"} {
		t.Run(ref, func(t *testing.T) {
			var out bytes.Buffer
			err := runTemplate(context.Background(), &config.Config{}, logger.NopLogger(), runOptions{
				template:   ref,
				eventFile:  event,
				inputsFile: inputs,
			}, &out)
			require.NoError(t, err)
			assert.NotContains(t, out.String(), "tok-secret-123")

			var got runOutput
			require.NoError(t, json.Unmarshal(out.Bytes(), &got))
			assert.Equal(t, models.InvocationSucceeded, got.Result.Status)
			assert.Equal(t, "e-1", got.Result.EventUUID)
			require.Len(t, got.Requests, 1)
			assert.Equal(t, "https://track.customer.io/api/v2/entity", got.Requests[0].URL)
			assert.Contains(t, got.Requests[0].Body, `"email":"a@b.com"`)
		})
	}
}

func TestRunTemplateErrors(t *testing.T) {
	event := writeFile(t, "event.json", `{"uuid": "e-1", "event": "$identify", "distinct_id": "d-1"}`)
	noName := writeFile(t, "bad-event.json", `{"uuid": "e-1"}`)
	inputs := writeFile(t, "inputs.json", `{"site_id": "site-1", "token": "tok-secret-123"}`)
	notObject := writeFile(t, "list.json", `[1, 2]`)

	tests := []struct {
		name string
		opts runOptions
	}{
		{"unknown template", runOptions{template: "template-missing", eventFile: event, inputsFile: inputs}},
		{"missing required inputs", runOptions{template: "template-customerio", eventFile: event}},
		{"inputs not an object", runOptions{template: "template-customerio", eventFile: event, inputsFile: notObject}},
		{"event without name", runOptions{template: "template-customerio", eventFile: noName, inputsFile: inputs}},
		{"missing event file", runOptions{template: "template-customerio", eventFile: filepath.Join(t.TempDir(), "nope.json"), inputsFile: inputs}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runTemplate(context.Background(), &config.Config{}, logger.NopLogger(), tt.opts, &out)
			assert.Error(t, err)
		})
	}
}

func TestValidateFiles(t *testing.T) {
	broken := writeFile(t, "broken.yaml", "id: broken\nname: Broken\nhog: \"let x := \"\n")

	var out bytes.Buffer
	require.NoError(t, validateFiles(&out, []string{builtinTemplate}))
	assert.Contains(t, out.String(), "template-customerio")

	out.Reset()
	err := validateFiles(&out, []string{builtinTemplate, broken})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2")
	assert.Contains(t, out.String(), "FAIL")
}
