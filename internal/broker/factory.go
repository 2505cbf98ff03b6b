package broker

import (
	"fmt"

	"hogflow/internal/config"
	"hogflow/internal/logger"
)

const typeKafka = "kafka"

func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	switch cfg.Type {
	case typeKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka producer needs at least one broker")
		}
		return NewKafkaProducer(cfg.Kafka, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger, opts ...ConsumerOption) (Consumer, error) {
	switch cfg.Type {
	case typeKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka consumer needs at least one broker")
		}
		return NewKafkaConsumer(cfg.Kafka, log, opts...), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
