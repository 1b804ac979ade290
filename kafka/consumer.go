package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"auditlog/metrics"
	"auditlog/models"
	"auditlog/queue"
)

// Consumer reads index jobs from a topic and writes them in batches.
type Consumer struct {
	indexer       queue.Indexer
	metrics       *metrics.Metrics
	buffer        []models.AuditDocument
	bufferMutex   sync.Mutex
	maxBufferSize int
	flushInterval time.Duration
}

func NewConsumer(indexer queue.Indexer, m *metrics.Metrics) *Consumer {
	return &Consumer{
		indexer:       indexer,
		metrics:       m,
		buffer:        make([]models.AuditDocument, 0, 100),
		maxBufferSize: 100,
		flushInterval: 5 * time.Second,
	}
}

// StartConsumerGroup joins groupID on topic and consumes until ctx is done.
func (c *Consumer) StartConsumerGroup(ctx context.Context, wg *sync.WaitGroup, brokers []string, groupID, topic string) {
	defer wg.Done()

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest

	client, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		slog.Error("error creating consumer group client", "error", err)
		return
	}
	defer client.Close()

	go c.runFlusher(ctx)

	slog.Info("kafka consumer group started", "topic", topic, "group", groupID)

	for {
		// Consume returns on every rebalance and has to be called again.
		if err := client.Consume(ctx, []string{topic}, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				slog.Info("consumer group closed")
				return
			}
			slog.Error("error from consumer", "error", err)
		}
		if ctx.Err() != nil {
			slog.Info("context cancelled, stopping consumer group")
			return
		}
	}
}

func (c *Consumer) runFlusher(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("flusher context done, performing final flush")
			c.flushBuffer(context.Background())
			return
		case <-ticker.C:
			c.flushBuffer(ctx)
		}
	}
}

func (c *Consumer) flushBuffer(ctx context.Context) {
	c.bufferMutex.Lock()
	if len(c.buffer) == 0 {
		c.bufferMutex.Unlock()
		return
	}
	docs := make([]models.AuditDocument, len(c.buffer))
	copy(docs, c.buffer)
	c.buffer = c.buffer[:0]
	c.bufferMutex.Unlock()

	if err := c.indexer.IndexDocuments(ctx, docs); err != nil {
		slog.Error("failed to flush queued documents", "count", len(docs), "error", err)
		c.observe("failed", len(docs))
		return
	}
	c.observe("ok", len(docs))
	slog.Info("flushed queued documents", "count", len(docs))
}

func (c *Consumer) observe(status string, n int) {
	if c.metrics != nil {
		c.metrics.JobsProcessed.WithLabelValues("kafka", status).Add(float64(n))
	}
}

// Setup is run at the beginning of a new session, before ConsumeClaim.
func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	slog.Info("kafka consumer session started", "member", session.MemberID(), "generation", session.GenerationID())
	return nil
}

// Cleanup is run at the end of a session and flushes what is left.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	c.flushBuffer(context.Background())
	return nil
}

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				slog.Info("message channel was closed")
				return nil
			}

			job, err := queue.DecodeJob(message.Value)
			if err != nil {
				slog.Error("failed to decode kafka job", "offset", message.Offset, "error", err)
				c.observe("malformed", 1)
				// committed so it is not read again
				session.MarkMessage(message, "")
				continue
			}

			c.bufferMutex.Lock()
			c.buffer = append(c.buffer, job.Document)
			size := len(c.buffer)
			c.bufferMutex.Unlock()

			if size >= c.maxBufferSize {
				c.flushBuffer(session.Context())
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
