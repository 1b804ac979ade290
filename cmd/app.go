package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"auditlog/audit"
	"auditlog/config"
	"auditlog/kafka"
	"auditlog/metrics"
	"auditlog/opensearch"
	"auditlog/queue"
	"auditlog/storage"
)

// app holds the dependencies shared by the commands.
type app struct {
	cfg      config.Config
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	client   *opensearch.Client
	service  *audit.Service
	closers  []io.Closer
}

// newApp configures the search client and the audit service. When
// withQueue is set and the queue is enabled, the configured queue
// connection is opened for enqueueing.
func newApp(ctx context.Context, cfg config.Config, withQueue bool) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	root := cfg.Elastic.CertRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		root = wd
	}

	client, err := opensearch.NewConfigurator(cfg.Elastic, storage.LocalDisk{Root: root}).
		WithMetrics(m).
		Configure()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, registry: reg, metrics: m, client: client}

	opts := audit.Options{Elastic: cfg.Elastic, Queue: cfg.Queue, Metrics: m}
	if withQueue && cfg.Queue.QueueActive() {
		d, err := a.dispatcher(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts.Enqueuer = d
	}
	a.service = audit.NewService(client, opts)
	return a, nil
}

func (a *app) dispatcher(ctx context.Context) (*queue.Dispatcher, error) {
	d := queue.NewDispatcher(a.metrics)
	switch conn := a.cfg.Queue.Connection; conn {
	case "redis":
		q, err := queue.NewRedisQueue(ctx, a.cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, q)
		d.Register(conn, q)
	case "kafka":
		p, err := kafka.NewProducer(a.cfg.Kafka.Brokers)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p)
		d.Register(conn, p)
	default:
		return nil, &opensearch.ConfigError{Key: "queue.connection"}
	}
	slog.Info("queue connection ready", "connection", a.cfg.Queue.Connection, "queue", a.cfg.Queue.Name)
	return d, nil
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func retry(attempts int, sleep time.Duration, fn func() error) error {
	if err := fn(); err != nil {
		if attempts--; attempts > 0 {
			slog.Warn("retrying after error", "error", err, "attempts_left", attempts)
			time.Sleep(sleep)
			return retry(attempts, sleep, fn)
		}
		return err
	}
	return nil
}
