package broker

import (
	"context"
	"sync"

	"watchtower/pkg/models"
)

// MemoryProducer records published envelopes per topic. Used by the CLI,
// which has no broker, and by tests.
type MemoryProducer struct {
	mu       sync.Mutex
	messages map[string][]models.MessageEnvelope
	closed   bool
}

func NewMemoryProducer() *MemoryProducer {
	return &MemoryProducer{messages: make(map[string][]models.MessageEnvelope)}
}

func (p *MemoryProducer) Publish(_ context.Context, topic string, msg models.MessageEnvelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.messages[topic] = append(p.messages[topic], msg)
	return nil
}

func (p *MemoryProducer) Messages(topic string) []models.MessageEnvelope {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]models.MessageEnvelope(nil), p.messages[topic]...)
}

func (p *MemoryProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	return nil
}
