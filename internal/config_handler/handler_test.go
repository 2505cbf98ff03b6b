package config_handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hogflow/internal/logger"
	"hogflow/pkg/models"
	"hogflow/pkg/retry"
)

func TestHandleConfigUpdateEvent(t *testing.T) {
	tests := []struct {
		name       string
		envelope   models.MessageEnvelope
		wantEvents []string
	}{
		{
			name: "payload fields",
			envelope: models.MessageEnvelope{ID: "1", Payload: map[string]interface{}{
				"event_type":   models.EventTypeHogFunctionUpdated,
				"service_type": models.ServiceTypeDestinations,
				"action":       models.ActionUpdate,
				"entity_id":    "fn-1",
			}},
			wantEvents: []string{"hog_function_updated/update/fn-1"},
		},
		{
			name: "metadata attributes win",
			envelope: models.MessageEnvelope{ID: "2",
				Payload: map[string]interface{}{"event_type": "other", "action": models.ActionCreate},
				Metadata: models.Metadata{Attributes: map[string]interface{}{
					"event_type":   models.EventTypeActionUpdated,
					"service_type": models.ServiceTypeDestinations,
				}},
			},
			wantEvents: []string{"action_updated/create/"},
		},
		{
			name: "other service ignored",
			envelope: models.MessageEnvelope{ID: "3", Payload: map[string]interface{}{
				"event_type":   models.EventTypeHogFunctionUpdated,
				"service_type": "management",
			}},
		},
		{
			name: "unknown event type ignored",
			envelope: models.MessageEnvelope{ID: "4", Payload: map[string]interface{}{
				"event_type":   "rule_updated",
				"service_type": models.ServiceTypeDestinations,
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			record := ReloaderFunc(func(_ context.Context, ev models.ConfigUpdateEvent) error {
				got = append(got, ev.EventType+"/"+ev.Action+"/"+ev.EntityID)
				return nil
			})
			h := NewHandler(models.ServiceTypeDestinations, logger.NopLogger()).
				On(models.EventTypeHogFunctionUpdated, record).
				On(models.EventTypeActionUpdated, record)

			require.NoError(t, h.HandleConfigUpdateEvent(context.Background(), tt.envelope))
			assert.Equal(t, tt.wantEvents, got)
		})
	}
}

func TestHandleConfigUpdateEventInvalid(t *testing.T) {
	h := NewHandler(models.ServiceTypeDestinations, logger.NopLogger())

	err := h.HandleConfigUpdateEvent(context.Background(), models.MessageEnvelope{ID: "5", Payload: map[string]interface{}{
		"service_type": models.ServiceTypeDestinations,
	}})
	require.Error(t, err)
	assert.True(t, retry.IsFatal(err), "retrying cannot fix a malformed event")
}

func TestHandleConfigUpdateEventReloadError(t *testing.T) {
	boom := errors.New("boom")
	h := NewHandler(models.ServiceTypeDestinations, logger.NopLogger()).
		On(models.EventTypeTemplateUpdated, ReloaderFunc(func(context.Context, models.ConfigUpdateEvent) error {
			return boom
		}))

	err := h.HandleConfigUpdateEvent(context.Background(), models.MessageEnvelope{Payload: map[string]interface{}{
		"event_type":   models.EventTypeTemplateUpdated,
		"service_type": models.ServiceTypeDestinations,
	}})
	assert.ErrorIs(t, err, boom)
}
