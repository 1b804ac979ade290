package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"auditlog/config"
	"auditlog/kafka"
	"auditlog/queue"
)

func workerCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Index audit documents taken off the configured queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			var wg sync.WaitGroup
			if err := a.startWorker(ctx, &wg); err != nil {
				return err
			}
			wg.Wait()
			slog.Info("worker stopped")
			return nil
		},
	}
}

// startWorker consumes the configured queue connection in the background
// until ctx is done. wg is released when the worker has stopped.
func (a *app) startWorker(ctx context.Context, wg *sync.WaitGroup) error {
	q := a.cfg.Queue
	if !q.QueueActive() {
		return fmt.Errorf("queue is not enabled: set queue.enabled, queue.name and queue.connection")
	}

	switch q.Connection {
	case "redis":
		rq, err := queue.NewRedisQueue(ctx, a.cfg.Redis.URL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rq)
		w := queue.NewRedisWorker(rq, q.Name, a.service, a.metrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				slog.Error("redis worker failed", "error", err)
			}
		}()
	case "kafka":
		consumer := kafka.NewConsumer(a.service, a.metrics)
		wg.Add(1)
		go consumer.StartConsumerGroup(ctx, wg, a.cfg.Kafka.Brokers, a.cfg.Kafka.ConsumerGroup, q.Name)
	default:
		return fmt.Errorf("unsupported queue connection %q", q.Connection)
	}
	slog.Info("queue worker started", "connection", q.Connection, "queue", q.Name)
	return nil
}
