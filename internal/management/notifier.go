package management

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hogflow/internal/broker"
	"hogflow/pkg/models"
)

var configEventTypes = map[string]string{
	EntityFunction: models.EventTypeHogFunctionUpdated,
	EntityAction:   models.EventTypeActionUpdated,
	EntityTemplate: models.EventTypeTemplateUpdated,
}

// ConfigEventProducer tells the destination services that functions, actions
// or templates changed. A nil producer publishes nothing.
type ConfigEventProducer struct {
	producer broker.Producer
	topic    string
	now      func() time.Time
}

func NewConfigEventProducer(producer broker.Producer, topic string) *ConfigEventProducer {
	return &ConfigEventProducer{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
}

// Publish announces that the entity changed. Template events are informative
// only: functions keep their own copy of the script.
func (p *ConfigEventProducer) Publish(ctx context.Context, entityType, action, entityID, changedBy string) error {
	if p == nil || p.producer == nil || p.topic == "" {
		return nil
	}
	eventType, ok := configEventTypes[entityType]
	if !ok {
		return fmt.Errorf("no config event for entity type %q", entityType)
	}

	envelope, err := models.ConfigUpdateEvent{
		EventType:   eventType,
		ServiceType: models.ServiceTypeDestinations,
		EntityID:    entityID,
		Action:      action,
		Timestamp:   p.now().UTC(),
		ChangedBy:   changedBy,
	}.Envelope(uuid.NewString(), "management-service")
	if err != nil {
		return fmt.Errorf("failed to encode config event: %w", err)
	}
	return p.producer.Publish(ctx, p.topic, envelope)
}
