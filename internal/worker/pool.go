package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop runs launches until jobsChan is closed. A launch is acknowledged once
// its run has finished, whatever the outcome: a Worker never retries a job.
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	// in-flight jobs finish after shutdown starts; the runner's job timeout bounds them
	runCtx := context.WithoutCancel(ctx)

	for msg := range w.jobsChan {
		jobID := msg.spec.Params.JobID
		w.logger.Info("Worker received job",
			slog.String("worker_name", workerName),
			slog.String("job_id", jobID),
			slog.Uint64("delivery_tag", msg.delivery.DeliveryTag),
		)

		if err := w.runner.Run(runCtx, msg.spec.Params); err != nil {
			w.logger.Warn("Job left incomplete",
				slog.String("worker_name", workerName),
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}

		if ackErr := msg.delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("job_id", jobID),
				slog.String("error", ackErr.Error()),
			)
		}
	}

	w.logger.Info("Worker goroutine stopping - jobsChan closed",
		slog.String("worker_name", workerName),
	)
}
