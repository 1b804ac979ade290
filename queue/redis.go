package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"auditlog/metrics"
	"auditlog/models"
)

// RedisQueue stores jobs in Redis lists named queues:<name>.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue connects to url and checks the connection.
func NewRedisQueue(ctx context.Context, url string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisQueue{client: client}, nil
}

func key(queueName string) string {
	return "queues:" + queueName
}

// FailedKey is the list holding payloads a worker could not index.
func FailedKey(queueName string) string {
	return key(queueName) + ":failed"
}

func (q *RedisQueue) Push(ctx context.Context, queueName string, payload []byte) error {
	if err := q.client.LPush(ctx, key(queueName), payload).Err(); err != nil {
		return fmt.Errorf("redis push failed: %w", err)
	}
	return nil
}

// Pop waits up to timeout for the oldest job on queueName.
// It returns nil, nil when nothing arrived.
func (q *RedisQueue) Pop(ctx context.Context, queueName string, timeout time.Duration) ([]byte, error) {
	res, err := q.client.BRPop(ctx, timeout, key(queueName)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis pop failed: %w", err)
	}
	// BRPOP answers [key, value]
	return []byte(res[1]), nil
}

// Len returns the number of jobs waiting on queueName.
func (q *RedisQueue) Len(ctx context.Context, queueName string) (int64, error) {
	n, err := q.client.LLen(ctx, key(queueName)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen failed: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// RedisWorker drains one Redis queue into an Indexer.
type RedisWorker struct {
	queue       *RedisQueue
	queueName   string
	indexer     Indexer
	metrics     *metrics.Metrics
	pollTimeout time.Duration
}

func NewRedisWorker(q *RedisQueue, queueName string, indexer Indexer, m *metrics.Metrics) *RedisWorker {
	return &RedisWorker{
		queue:       q,
		queueName:   queueName,
		indexer:     indexer,
		metrics:     m,
		pollTimeout: 2 * time.Second,
	}
}

// Run processes jobs until ctx is cancelled.
func (w *RedisWorker) Run(ctx context.Context) error {
	slog.Info("redis worker started", "queue", w.queueName)
	for {
		if ctx.Err() != nil {
			slog.Info("context cancelled, stopping redis worker")
			return nil
		}
		if _, err := w.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("error processing redis job", "error", err)
			time.Sleep(time.Second)
		}
	}
}

// ProcessNext handles at most one job. It reports whether a job was taken.
func (w *RedisWorker) ProcessNext(ctx context.Context) (bool, error) {
	payload, err := w.queue.Pop(ctx, w.queueName, w.pollTimeout)
	if err != nil || payload == nil {
		return false, err
	}

	job, err := DecodeJob(payload)
	if err != nil {
		// a malformed job cannot succeed on retry
		slog.Error("dropping malformed job", "error", err)
		w.observe("malformed")
		return true, nil
	}

	if err := w.indexer.IndexDocuments(ctx, []models.AuditDocument{job.Document}); err != nil {
		w.observe("failed")
		if dlErr := w.queue.client.LPush(context.WithoutCancel(ctx), FailedKey(w.queueName), payload).Err(); dlErr != nil {
			slog.Error("failed to park job on failed list", "document_id", job.Document.ID, "error", dlErr)
		}
		return true, fmt.Errorf("failed to index queued document %s: %w", job.Document.ID, err)
	}
	w.observe("ok")
	return true, nil
}

func (w *RedisWorker) observe(status string) {
	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues("redis", status).Inc()
	}
}
