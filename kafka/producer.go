package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
)

// Producer publishes jobs to a topic named after the queue.
type Producer struct {
	producer sarama.SyncProducer
}

// NewProducer connects a synchronous producer to brokers.
func NewProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &Producer{producer: p}, nil
}

// NewProducerWith wraps an existing producer.
func NewProducerWith(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

func (p *Producer) Push(_ context.Context, queueName string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: queueName,
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", queueName, err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
