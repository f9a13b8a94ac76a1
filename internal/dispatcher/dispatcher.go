// Package dispatcher turns batches of change events into provisioned Workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/cuongbtq/textjob/internal/feed"
	"github.com/cuongbtq/textjob/internal/provisioner"
	"golang.org/x/sync/errgroup"
)

const releaseTimeout = 5 * time.Second

// SpecBuilder renders the launch spec of a job
type SpecBuilder interface {
	Build(params domain.JobParams) (provisioner.LaunchSpec, error)
}

// Config holds the batch retry policy
type Config struct {
	// MaxRetries is the number of whole-batch retries after the first attempt
	MaxRetries int
	// RetryBackoff is the wait before the first retry; it doubles on every further retry
	RetryBackoff time.Duration
	// MaxConcurrency bounds in-flight provisionings per batch; 0 means no bound
	MaxConcurrency int
}

// Dependencies groups the collaborators of a Dispatcher
type Dependencies struct {
	Builder     SpecBuilder
	Provisioner provisioner.Provisioner
	Dedup       Deduplicator
	DeadLetters DeadLetterSink
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Dispatcher provisions one Worker per job creation event
type Dispatcher struct {
	builder     SpecBuilder
	provisioner provisioner.Provisioner
	dedup       Deduplicator
	deadLetters DeadLetterSink
	metrics     *Metrics
	config      Config
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

// BatchReport describes what happened to every event of a batch
type BatchReport struct {
	Received int
	// Filtered holds ids of events that do not announce a new job
	Filtered []string
	// Duplicates holds ids already claimed by an earlier delivery or earlier in the batch
	Duplicates []string
	// Dispatched maps job id to the handle of its last successful provisioning
	Dispatched map[string]string
	// DeadLettered holds ids whose final attempt still failed
	DeadLettered []string
	// Attempts is the number of dispatch rounds issued
	Attempts int
}

// New creates a dispatcher. A nil Dedup disables deduplication.
func New(deps Dependencies, config Config) (*Dispatcher, error) {
	if deps.Builder == nil {
		return nil, errors.New("spec builder is required")
	}
	if deps.Provisioner == nil {
		return nil, errors.New("provisioner is required")
	}
	if deps.DeadLetters == nil {
		return nil, errors.New("dead-letter sink is required")
	}
	if config.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0, got %d", config.MaxRetries)
	}
	if deps.Dedup == nil {
		deps.Dedup = NoopDeduplicator{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &Dispatcher{
		builder:     deps.Builder,
		provisioner: deps.Provisioner,
		dedup:       deps.Dedup,
		deadLetters: deps.DeadLetters,
		metrics:     deps.Metrics,
		config:      config,
		logger:      deps.Logger,
		sleep:       sleepContext,
		now:         time.Now,
	}, nil
}

// Metrics returns the dispatcher counters
func (d *Dispatcher) Metrics() *Metrics {
	return d.metrics
}

// ProcessBatch filters, deduplicates and dispatches a batch. If any provisioning
// fails, every claimed event of the batch is dispatched again, up to MaxRetries
// more times. Events that still fail are dead-lettered and their claims released.
// An error is returned only when the batch must be redelivered.
func (d *Dispatcher) ProcessBatch(ctx context.Context, events []domain.ChangeEvent) (*BatchReport, error) {
	report := &BatchReport{
		Received:   len(events),
		Dispatched: make(map[string]string),
	}

	pending := d.claim(ctx, events, report)
	if len(pending) == 0 {
		d.metrics.RecordBatch(report)
		return report, nil
	}

	var failures []error
	for attempt := 1; attempt <= d.config.MaxRetries+1; attempt++ {
		if attempt > 1 {
			wait := d.backoff(attempt - 1)
			d.logger.Warn("Retrying batch",
				slog.Int("attempt", attempt),
				slog.Int("events", len(pending)),
				slog.Duration("backoff", wait),
			)
			if err := d.sleep(ctx, wait); err != nil {
				d.release(ctx, pending)
				return report, fmt.Errorf("batch retry interrupted: %w", err)
			}
		}

		report.Attempts = attempt
		var handles []string
		handles, failures = d.dispatchAll(ctx, pending, attempt)

		failed := 0
		for i, ev := range pending {
			if failures[i] != nil {
				failed++
				continue
			}
			report.Dispatched[ev.Record.ID] = handles[i]
		}
		if failed == 0 {
			break
		}

		d.logger.Warn("Batch had provisioning failures",
			slog.Int("attempt", attempt),
			slog.Int("failed", failed),
			slog.Int("events", len(pending)),
		)
	}

	for i, ev := range pending {
		if failures[i] == nil {
			continue
		}
		if err := d.deadLetter(ctx, ev, report.Attempts, failures[i]); err != nil {
			// nothing from i on was dead-lettered; redelivery must find those ids unclaimed
			d.release(ctx, failedFrom(pending, failures, i))
			return report, err
		}
		report.DeadLettered = append(report.DeadLettered, ev.Record.ID)
		d.release(ctx, pending[i:i+1])
	}

	d.metrics.RecordBatch(report)

	d.logger.Info("Batch processed",
		slog.Int("received", report.Received),
		slog.Int("filtered", len(report.Filtered)),
		slog.Int("duplicates", len(report.Duplicates)),
		slog.Int("dispatched", len(report.Dispatched)),
		slog.Int("dead_lettered", len(report.DeadLettered)),
		slog.Int("attempts", report.Attempts),
	)
	return report, nil
}

// claim drops non-creation events and ids another delivery already owns
func (d *Dispatcher) claim(ctx context.Context, events []domain.ChangeEvent, report *BatchReport) []domain.ChangeEvent {
	pending := make([]domain.ChangeEvent, 0, len(events))
	seen := make(map[string]struct{}, len(events))

	for _, ev := range events {
		id := ev.Record.ID
		if !ev.IsCreation() {
			report.Filtered = append(report.Filtered, id)
			d.logger.Debug("Skipping non-creation event",
				slog.String("job_id", id),
				slog.String("event", ev.Name),
			)
			continue
		}

		if _, dup := seen[id]; dup {
			report.Duplicates = append(report.Duplicates, id)
			continue
		}
		seen[id] = struct{}{}

		ok, err := d.dedup.Claim(ctx, id)
		if err != nil {
			// an unavailable dedup store must not stall the feed
			d.logger.Warn("Dedup claim failed, dispatching anyway",
				slog.String("job_id", id),
				slog.Any("error", err),
			)
			ok = true
		}
		if !ok {
			report.Duplicates = append(report.Duplicates, id)
			d.logger.Info("Skipping redelivered creation event",
				slog.String("job_id", id),
			)
			continue
		}

		pending = append(pending, ev)
	}

	return pending
}

// dispatchAll issues every provisioning of one round concurrently and waits for all of them
func (d *Dispatcher) dispatchAll(ctx context.Context, events []domain.ChangeEvent, attempt int) ([]string, []error) {
	handles := make([]string, len(events))
	errs := make([]error, len(events))

	var g errgroup.Group
	if d.config.MaxConcurrency > 0 {
		g.SetLimit(d.config.MaxConcurrency)
	}

	for i, ev := range events {
		g.Go(func() error {
			handles[i], errs[i] = d.dispatch(ctx, ev, attempt)
			return nil
		})
	}
	_ = g.Wait()

	return handles, errs
}

func (d *Dispatcher) dispatch(ctx context.Context, ev domain.ChangeEvent, attempt int) (string, error) {
	params := ev.Params()

	spec, err := d.builder.Build(params)
	if err != nil {
		return "", &domain.DispatchError{JobID: params.JobID, Attempt: attempt, Err: err}
	}

	handle, err := d.provisioner.Provision(ctx, spec)
	if err != nil {
		d.logger.Error("Worker provisioning failed",
			slog.String("job_id", params.JobID),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
		return "", &domain.DispatchError{JobID: params.JobID, Attempt: attempt, Err: err}
	}

	d.logger.Info("Worker provisioned",
		slog.String("job_id", params.JobID),
		slog.String("handle", handle),
		slog.Int("attempt", attempt),
	)
	return handle, nil
}

func (d *Dispatcher) deadLetter(ctx context.Context, ev domain.ChangeEvent, attempts int, cause error) error {
	payload, err := feed.Encode(ev)
	if err != nil {
		return fmt.Errorf("failed to encode dead letter of job %s: %w", ev.Record.ID, err)
	}

	letter := DeadLetter{
		JobID:    ev.Record.ID,
		Reason:   ReasonDispatchFailed,
		Attempts: attempts,
		Error:    cause.Error(),
		Payload:  string(payload),
		FailedAt: d.now().UTC(),
	}
	if err := d.deadLetters.DeadLetter(ctx, letter); err != nil {
		return fmt.Errorf("failed to dead-letter job %s: %w", ev.Record.ID, err)
	}

	d.logger.Error("Job dead-lettered",
		slog.String("job_id", ev.Record.ID),
		slog.Int("attempts", attempts),
		slog.String("error", cause.Error()),
	)
	return nil
}

// release drops the claims of events. It runs detached from ctx so a shutdown
// cannot leave claims behind for a batch that is about to be redelivered.
func (d *Dispatcher) release(ctx context.Context, events []domain.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	for _, ev := range events {
		if err := d.dedup.Release(ctx, ev.Record.ID); err != nil {
			d.logger.Warn("Failed to release dedup claim",
				slog.String("job_id", ev.Record.ID),
				slog.Any("error", err),
			)
		}
	}
}

// failedFrom returns the events at or after start whose last attempt failed
func failedFrom(events []domain.ChangeEvent, failures []error, start int) []domain.ChangeEvent {
	var out []domain.ChangeEvent
	for j := start; j < len(events); j++ {
		if failures[j] != nil {
			out = append(out, events[j])
		}
	}
	return out
}

func (d *Dispatcher) backoff(retry int) time.Duration {
	return d.config.RetryBackoff * time.Duration(1<<(retry-1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
