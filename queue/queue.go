package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"auditlog/metrics"
	"auditlog/models"
)

// Job carries one audit document to a worker.
type Job struct {
	Document models.AuditDocument `json:"document"`
}

// Encode serializes the job payload.
func (j Job) Encode() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	return data, nil
}

// DecodeJob parses a payload produced by Job.Encode. Numbers in the body
// stay json.Number so they are indexed exactly as sent.
func DecodeJob(data []byte) (Job, error) {
	var job Job
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&job); err != nil {
		return Job{}, fmt.Errorf("failed to decode job: %w", err)
	}
	if job.Document.ID == "" || job.Document.Index == "" {
		return Job{}, fmt.Errorf("failed to decode job: document id or index missing")
	}
	return job, nil
}

// Enqueuer hands a job to a named queue on a named connection.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job, queueName, connection string) error
}

// Backend pushes raw payloads onto queues of one connection.
type Backend interface {
	Push(ctx context.Context, queueName string, payload []byte) error
}

// Indexer writes documents taken off a queue.
type Indexer interface {
	IndexDocuments(ctx context.Context, docs []models.AuditDocument) error
}

// Dispatcher routes jobs to backends by connection name.
type Dispatcher struct {
	backends map[string]Backend
	metrics  *metrics.Metrics
}

func NewDispatcher(m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{backends: map[string]Backend{}, metrics: m}
}

// Register binds a connection name to a backend.
func (d *Dispatcher) Register(connection string, b Backend) {
	d.backends[connection] = b
}

func (d *Dispatcher) Enqueue(ctx context.Context, job Job, queueName, connection string) error {
	b, ok := d.backends[connection]
	if !ok {
		return fmt.Errorf("failed to enqueue job: unknown queue connection %q", connection)
	}
	payload, err := job.Encode()
	if err != nil {
		return err
	}
	if err := b.Push(ctx, queueName, payload); err != nil {
		return fmt.Errorf("failed to enqueue job on %s/%s: %w", connection, queueName, err)
	}
	if d.metrics != nil {
		d.metrics.JobsEnqueued.WithLabelValues(connection, queueName).Inc()
	}
	slog.Debug("audit document queued", "document_id", job.Document.ID, "queue", queueName, "connection", connection)
	return nil
}
