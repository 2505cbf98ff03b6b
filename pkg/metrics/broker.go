package metrics

import "time"

var (
	KafkaMessagesReadTotal = counter("kafka", "messages_read_total",
		"Messages read from Kafka.", "service", "topic")
	KafkaMessagesWrittenTotal = counter("kafka", "messages_written_total",
		"Messages written to Kafka.", "service", "topic")
	KafkaMessageSizeBytes = histogram("kafka", "message_size_bytes",
		"Size of Kafka message values.", sizeBuckets, "service", "topic", "direction")
	KafkaConsumerLag = gauge("kafka", "consumer_lag",
		"Messages between the last fetched offset and the high water mark.", "service", "topic", "partition")
	KafkaReadDuration = histogram("kafka", "process_duration_seconds",
		"Time from fetching a message to its final outcome, retries included.", latencyBuckets, "service", "topic")
	KafkaWriteDuration = histogram("kafka", "write_duration_seconds",
		"Duration of Kafka writes.", latencyBuckets, "service", "topic")

	RetryAttemptsTotal = counter("kafka", "retry_attempts_total",
		"Handler retries of consumed messages.", "service", "topic")
	DLQMessagesTotal = counter("kafka", "dlq_messages_total",
		"Messages sent to the dead letter topic by reason.", "service", "topic", "reason")
)

func RegisterBrokerMetrics() {
	register(
		KafkaMessagesReadTotal,
		KafkaMessagesWrittenTotal,
		KafkaMessageSizeBytes,
		KafkaConsumerLag,
		KafkaReadDuration,
		KafkaWriteDuration,
		RetryAttemptsTotal,
		DLQMessagesTotal,
	)
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

// ObserveKafkaMessageSize records a value size; direction is "in" or "out".
func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	if lag < 0 {
		lag = 0
	}
	KafkaConsumerLag.WithLabelValues(service, topic, itoa(partition)).Set(float64(lag))
}

func ObserveKafkaReadDuration(service, topic string, duration time.Duration) {
	KafkaReadDuration.WithLabelValues(service, topic).Observe(seconds(duration))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(seconds(duration))
}
