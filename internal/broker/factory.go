package broker

import (
	"fmt"

	"watchtower/internal/config"
	"watchtower/internal/constants"
	"watchtower/internal/logger"
)

// NewProducer builds the run event producer. The memory type keeps events
// in process for single-node deployments without Kafka.
func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	switch cfg.Type {
	case constants.BrokerTypeKafka:
		return NewKafkaProducer(cfg.Kafka, log), nil
	case constants.BrokerTypeMemory:
		return NewMemoryProducer(), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

// NewConsumer builds the execution request consumer. It returns a nil
// Consumer for broker types that cannot deliver requests.
func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	switch cfg.Type {
	case constants.BrokerTypeKafka:
		return NewKafkaConsumer(cfg.Kafka, log), nil
	case constants.BrokerTypeMemory:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}
