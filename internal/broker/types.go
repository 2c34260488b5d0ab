package broker

import (
	"context"

	"watchtower/pkg/models"
)

// Publisher sends one envelope to a topic. Run events only need this half
// of a Producer.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg models.MessageEnvelope) error
}

type Producer interface {
	Publisher
	Close() error
}

// Consumer delivers execution requests from the request topic. Messages
// whose handler keeps failing are forwarded to the dead letter topic.
type Consumer interface {
	Consume(ctx context.Context, topic string, handler HandlerFunc) error
	SetServiceName(name string)
	Close() error
}

// HandlerFunc processes one envelope. Errors implementing IsFatal() bool
// skip the remaining retries and go straight to the DLQ.
type HandlerFunc func(ctx context.Context, msg models.MessageEnvelope) error

var (
	_ Producer = (*KafkaProducer)(nil)
	_ Producer = (*MemoryProducer)(nil)
	_ Consumer = (*KafkaConsumer)(nil)
)
