package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hogflow/internal/config"
	"hogflow/internal/logger"
	"hogflow/pkg/models"
	"hogflow/pkg/retry"
)

type recordingProducer struct {
	mu       sync.Mutex
	messages []models.MessageEnvelope
	topics   []string
}

func (p *recordingProducer) Publish(_ context.Context, topic string, msg models.MessageEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func newTestConsumer(dlq *recordingProducer) *KafkaConsumer {
	cfg := config.KafkaConfig{
		Brokers:  []string{"localhost:9092"},
		GroupID:  "destination-service",
		DLQTopic: "events_dlq",
		Retry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
			Multiplier:      1,
		},
	}
	return NewKafkaConsumer(cfg, logger.NopLogger(), WithDeadLetterProducer(dlq))
}

func kafkaMessage(t *testing.T, env models.MessageEnvelope) kafka.Message {
	t.Helper()
	body, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.Message{Topic: "events", Partition: 0, Offset: 7, Value: body, Time: time.Now()}
}

func validEnvelope() models.MessageEnvelope {
	return models.NewEnvelope("e-1", "test", map[string]interface{}{"event": "$pageview"})
}

func TestProcess(t *testing.T) {
	t.Run("handled", func(t *testing.T) {
		dlq := &recordingProducer{}
		c := newTestConsumer(dlq)
		var got models.MessageEnvelope
		reason := c.process(context.Background(), kafkaMessage(t, validEnvelope()), func(_ context.Context, msg models.MessageEnvelope) error {
			got = msg
			return nil
		})
		assert.Empty(t, reason)
		assert.Equal(t, "e-1", got.ID)
		assert.Empty(t, dlq.messages)
	})

	t.Run("retried then succeeds", func(t *testing.T) {
		dlq := &recordingProducer{}
		c := newTestConsumer(dlq)
		calls := 0
		reason := c.process(context.Background(), kafkaMessage(t, validEnvelope()), func(context.Context, models.MessageEnvelope) error {
			calls++
			if calls == 1 {
				return errors.New("redis unavailable")
			}
			return nil
		})
		assert.Empty(t, reason)
		assert.Equal(t, 2, calls)
	})

	t.Run("retries exhausted", func(t *testing.T) {
		dlq := &recordingProducer{}
		c := newTestConsumer(dlq)
		calls := 0
		reason := c.process(context.Background(), kafkaMessage(t, validEnvelope()), func(context.Context, models.MessageEnvelope) error {
			calls++
			return errors.New("redis unavailable")
		})
		assert.Equal(t, ReasonRetriesExceeded, reason)
		assert.Equal(t, 3, calls)
		require.Len(t, dlq.messages, 1)
		assert.Equal(t, "events_dlq", dlq.topics[0])
		r, _ := dlq.messages[0].Metadata.Attribute("dlq_reason")
		assert.Equal(t, ReasonRetriesExceeded, r)
		src, _ := dlq.messages[0].Metadata.Attribute("dlq_source_topic")
		assert.Equal(t, "events", src)
	})

	t.Run("fatal error is not retried", func(t *testing.T) {
		dlq := &recordingProducer{}
		c := newTestConsumer(dlq)
		calls := 0
		reason := c.process(context.Background(), kafkaMessage(t, validEnvelope()), func(context.Context, models.MessageEnvelope) error {
			calls++
			return retry.NewFatalError(errors.New("bad event"))
		})
		assert.Equal(t, ReasonFatal, reason)
		assert.Equal(t, 1, calls)
		require.Len(t, dlq.messages, 1)
	})

	t.Run("panic", func(t *testing.T) {
		dlq := &recordingProducer{}
		c := newTestConsumer(dlq)
		reason := c.process(context.Background(), kafkaMessage(t, validEnvelope()), func(context.Context, models.MessageEnvelope) error {
			panic("nil map")
		})
		assert.Equal(t, ReasonFatal, reason)
	})

	t.Run("undecodable", func(t *testing.T) {
		dlq := &recordingProducer{}
		c := newTestConsumer(dlq)
		reason := c.process(context.Background(), kafka.Message{Topic: "events", Offset: 9, Value: []byte("{not json")}, func(context.Context, models.MessageEnvelope) error {
			t.Fatal("handler must not run")
			return nil
		})
		assert.Equal(t, ReasonUndecodable, reason)
		require.Len(t, dlq.messages, 1)
		assert.Equal(t, "{not json", dlq.messages[0].Payload["raw"])
		assert.Equal(t, "events-0-9", dlq.messages[0].ID)
	})

	t.Run("invalid envelope", func(t *testing.T) {
		dlq := &recordingProducer{}
		c := newTestConsumer(dlq)
		reason := c.process(context.Background(), kafkaMessage(t, models.MessageEnvelope{ID: "x"}), func(context.Context, models.MessageEnvelope) error {
			t.Fatal("handler must not run")
			return nil
		})
		assert.Equal(t, ReasonInvalidEnvelope, reason)
	})
}

func TestConsumerOptions(t *testing.T) {
	c := NewKafkaConsumer(config.KafkaConfig{GroupID: "destination-service"}, logger.NopLogger(),
		WithGroupID("destination-service-config-1"),
		WithStartOffset(kafka.LastOffset),
	)
	assert.Equal(t, "destination-service-config-1", c.groupID)
	assert.Equal(t, kafka.LastOffset, c.startOffset)
	assert.Nil(t, c.dlq)
	assert.Equal(t, retry.DefaultPolicy(), c.policy)
}

func TestFactory(t *testing.T) {
	_, err := NewProducer(config.BrokerConfig{Type: "nats"}, logger.NopLogger())
	assert.Error(t, err)
	_, err = NewConsumer(config.BrokerConfig{Type: "kafka"}, logger.NopLogger())
	assert.Error(t, err)

	p, err := NewProducer(config.BrokerConfig{Type: "kafka", Kafka: config.KafkaConfig{Brokers: []string{"localhost:9092"}}}, logger.NopLogger())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
