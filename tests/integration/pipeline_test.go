package integration

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hogflow/internal/broker"
	"hogflow/internal/config"
	"hogflow/internal/deduplication"
	"hogflow/internal/destinations"
	"hogflow/internal/fetch"
	"hogflow/internal/filters"
	"hogflow/internal/management"
	"hogflow/pkg/cel"
	"hogflow/pkg/models"
)

const (
	eventsTopic        = "events"
	resultsTopic       = "hog_invocation_results"
	messageWaitTimeout = 60 * time.Second
)

func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	configs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		configs[i] = kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}
	}
	require.NoError(t, cc.CreateTopics(configs...))
}

func brokerConfig(brokers []string, groupID string) config.BrokerConfig {
	return config.BrokerConfig{
		Type: "kafka",
		Kafka: config.KafkaConfig{
			Brokers: brokers,
			GroupID: groupID,
			Retry: config.RetryConfig{
				MaxAttempts:     2,
				InitialInterval: 10 * time.Millisecond,
				MaxInterval:     50 * time.Millisecond,
				Multiplier:      2,
			},
		},
	}
}

// TestPipelineEndToEnd sends an event through Kafka and checks that the
// matching function ran once, was logged and had its result published.
func TestPipelineEndToEnd(t *testing.T) {
	infra := SetupTestInfra(t, withPostgres, withMongo, withRedis, withKafka)
	createTopics(t, infra.KafkaBrokers, eventsTopic, resultsTopic)

	ctx, cancel := context.WithTimeout(context.Background(), 2*messageWaitTimeout)
	defer cancel()
	log := createTestLogger()

	repo := management.NewRepository(infra.PostgresDB)
	fn := createTestFunction("customerio", true)
	require.NoError(t, repo.CreateFunction(ctx, fn))
	require.NoError(t, repo.CreateFunction(ctx, createTestFunction("disabled", false)))

	evaluator, err := cel.NewEvaluator()
	require.NoError(t, err)
	matcher, err := filters.NewMatcher(evaluator, nil, log)
	require.NoError(t, err)

	producer, err := broker.NewProducer(brokerConfig(infra.KafkaBrokers, ""), log)
	require.NoError(t, err)
	defer producer.Close()

	dry := fetch.NewDryRun()
	store := destinations.NewMongoInvocationStore(infra.MongoDB, "hog_invocations")
	svc := destinations.NewService(destinations.Dependencies{
		Repository:   destinations.NewRepository(infra.PostgresDB),
		Executor:     destinations.NewExecutor(config.HogConfig{}, log),
		Matcher:      matcher,
		Fetcher:      dry,
		Guard:        deduplication.NewGuard(deduplication.NewRedisClaimStore(infra.RedisClient), createTestGuardConfig(), log),
		Store:        store,
		Publisher:    producer,
		ResultsTopic: resultsTopic,
	}, config.DestinationsConfig{PublishResults: true, Concurrency: 2}, log)
	require.NoError(t, svc.ReloadFunctions(ctx, true))
	require.Equal(t, []string{fn.ID}, svc.ActiveFunctions())

	consumer, err := broker.NewConsumer(brokerConfig(infra.KafkaBrokers, "destination-service"), log)
	require.NoError(t, err)
	defer consumer.Close()
	go consumer.Consume(ctx, eventsTopic, svc.HandleEvent)

	results := make(chan models.MessageEnvelope, 4)
	resultConsumer, err := broker.NewConsumer(brokerConfig(infra.KafkaBrokers, "results-reader"), log)
	require.NoError(t, err)
	defer resultConsumer.Close()
	go resultConsumer.Consume(ctx, resultsTopic, func(_ context.Context, msg models.MessageEnvelope) error {
		results <- msg
		return nil
	})

	event := createTestEvent("e-pipeline-1", "$pageview")
	require.NoError(t, producer.Publish(ctx, eventsTopic, event))
	// redelivery of the same event must not call the destination again
	require.NoError(t, producer.Publish(ctx, eventsTopic, event))
	require.NoError(t, producer.Publish(ctx, eventsTopic, createTestEvent("e-pipeline-2", "$autocapture")))

	var result models.MessageEnvelope
	select {
	case result = <-results:
	case <-time.After(messageWaitTimeout):
		t.Fatal("timed out waiting for invocation result")
	}
	assert.Equal(t, fn.ID, result.Payload["function_id"])
	assert.Equal(t, "e-pipeline-1", result.Payload["event_uuid"])
	assert.Equal(t, models.InvocationSucceeded, result.Payload["status"])

	require.Eventually(t, func() bool {
		list, err := store.List(ctx, destinations.InvocationQuery{FunctionID: fn.ID})
		return err == nil && len(list) == 1
	}, messageWaitTimeout, 200*time.Millisecond)

	// give the duplicate and the unmatched event time to be consumed
	time.Sleep(2 * time.Second)
	requests := dry.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "https://track.customer.io/api/v2/entity", requests[0].URL)
	assert.NotContains(t, requests[0].Body, "e-pipeline-2")

	select {
	case extra := <-results:
		t.Fatalf("unexpected second result: %v", extra.Payload)
	default:
	}
}
