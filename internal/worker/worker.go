// Package worker runs jobs: one-shot inside a provisioned environment, or as a pool
// consuming the worker launch queue.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cuongbtq/textjob/internal/provisioner"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliverySource is the broker side of the launch queue
type DeliverySource interface {
	Qos(prefetchCount int) error
	Consume(queue, consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds worker pool configuration
type Config struct {
	Logger        *slog.Logger
	Source        DeliverySource
	Runner        *Runner
	Queue         string
	WorkerID      string
	Concurrency   int
	PrefetchCount int
}

// launchMessage pairs a decoded launch with the delivery to acknowledge
type launchMessage struct {
	spec     provisioner.LaunchSpec
	delivery amqp.Delivery
}

// Worker is a pool of goroutines executing launches from the queue
type Worker struct {
	logger        *slog.Logger
	source        DeliverySource
	runner        *Runner
	queue         string
	workerID      string
	concurrency   int
	prefetchCount int
	jobsChan      chan *launchMessage
	wg            sync.WaitGroup
}

// NewWorker creates a new worker pool
func NewWorker(cfg *Config) *Worker {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = concurrency
	}

	return &Worker{
		logger:        cfg.Logger,
		source:        cfg.Source,
		runner:        cfg.Runner,
		queue:         cfg.Queue,
		workerID:      cfg.WorkerID,
		concurrency:   concurrency,
		prefetchCount: prefetch,
		jobsChan:      make(chan *launchMessage),
	}
}

// Start consumes launches until ctx is canceled or the delivery channel closes,
// then waits for in-flight jobs to finish
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	close(w.jobsChan)
	w.wg.Wait()

	w.logger.Info("Worker stopped",
		slog.String("worker_id", w.workerID),
	)
	return nil
}
