package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/textjob/internal/domain"
	"github.com/cuongbtq/textjob/internal/objectstore"
)

// JobRecorder is the part of the record store a Worker writes to
type JobRecorder interface {
	UpdateStatus(ctx context.Context, id, status, message string) error
	RecordCompletion(ctx context.Context, id, outputFilePath string) error
}

// RunnerConfig holds per-job execution limits
type RunnerConfig struct {
	JobTimeout        time.Duration
	CompletionRetries int
	CompletionBackoff time.Duration
	TerminateTimeout  time.Duration
}

// Runner executes one job and then terminates its environment
type Runner struct {
	store      objectstore.Store
	records    JobRecorder
	terminator Terminator
	config     RunnerConfig
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner; a nil terminator never terminates
func NewRunner(store objectstore.Store, records JobRecorder, terminator Terminator, config RunnerConfig, logger *slog.Logger) *Runner {
	if terminator == nil {
		terminator = NoopTerminator{}
	}
	if config.CompletionBackoff <= 0 {
		config.CompletionBackoff = 500 * time.Millisecond
	}
	if config.TerminateTimeout <= 0 {
		config.TerminateTimeout = 30 * time.Second
	}
	return &Runner{
		store:      store,
		records:    records,
		terminator: terminator,
		config:     config,
		logger:     logger,
		sleep:      sleepContext,
	}
}

// Run fetches the input, writes the transformed output, records completion and
// terminates. Termination is deferred so it happens on every path, panics included.
// Failures are logged and leave the job record incomplete.
func (r *Runner) Run(ctx context.Context, params domain.JobParams) error {
	defer r.terminate(ctx, params.JobID)

	if params.JobID == "" {
		return &domain.ProcessingError{Step: "start", Err: errors.New("job id is required")}
	}

	jobCtx := ctx
	if r.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, r.config.JobTimeout)
		defer cancel()
	}

	r.logger.Info("Processing job",
		slog.String("job_id", params.JobID),
		slog.String("input_file_path", params.InputFilePath),
	)

	if err := r.records.UpdateStatus(jobCtx, params.JobID, domain.JobStatusRunning, ""); err != nil {
		if errors.Is(err, domain.ErrAlreadyCompleted) {
			r.logger.Info("Job already completed, nothing to do",
				slog.String("job_id", params.JobID),
			)
			return nil
		}
		r.logger.Warn("Failed to mark job running",
			slog.String("job_id", params.JobID),
			slog.Any("error", err),
		)
	}

	output, err := r.process(jobCtx, params)
	if err == nil {
		err = r.complete(jobCtx, params.JobID, output)
		if errors.Is(err, domain.ErrAlreadyCompleted) {
			r.logger.Info("Completion already recorded by another run",
				slog.String("job_id", params.JobID),
			)
			return nil
		}
	}

	if err != nil {
		r.logger.Error("Job execution failed",
			slog.String("job_id", params.JobID),
			slog.Any("error", err),
		)
		r.markFailed(ctx, params.JobID, err)
		return err
	}

	r.logger.Info("Job completed successfully",
		slog.String("job_id", params.JobID),
		slog.String("output_file_path", output),
	)
	return nil
}

// process runs fetch, transform and write; it returns the output reference
func (r *Runner) process(ctx context.Context, params domain.JobParams) (string, error) {
	var (
		content []byte
		ref     objectstore.Ref
	)

	switch {
	case params.InputFilePath != "":
		var err error
		ref, err = objectstore.ParseRef(params.InputFilePath)
		if err != nil {
			return "", &domain.ProcessingError{JobID: params.JobID, Step: "fetch", Err: err}
		}
		if ref.Bucket != r.store.Bucket() {
			return "", &domain.ProcessingError{
				JobID: params.JobID,
				Step:  "fetch",
				Err:   fmt.Errorf("input bucket %q is not the worker store %q", ref.Bucket, r.store.Bucket()),
			}
		}

		content, err = r.store.Get(ctx, ref.Key)
		if err != nil {
			return "", &domain.ProcessingError{JobID: params.JobID, Step: "fetch", Err: err}
		}

	case params.InputText != "":
		ref = objectstore.Ref{Bucket: r.store.Bucket(), Key: params.JobID + ".txt"}

	default:
		return "", &domain.ProcessingError{JobID: params.JobID, Step: "fetch", Err: errors.New("job has neither input text nor input file")}
	}

	out := objectstore.Ref{Bucket: ref.Bucket, Key: objectstore.OutputKey(ref.Key)}
	if err := r.store.Put(ctx, out.Key, "text/plain", Transform(content, params.InputText)); err != nil {
		return "", &domain.ProcessingError{JobID: params.JobID, Step: "write", Err: err}
	}

	return out.String(), nil
}

// Transform appends the inline text as one line to the input content
func Transform(content []byte, inputText string) []byte {
	out := make([]byte, 0, len(content)+len(inputText)+1)
	out = append(out, content...)
	out = append(out, inputText...)
	return append(out, '\n')
}

// complete records the output, retrying transient store errors with exponential backoff
func (r *Runner) complete(ctx context.Context, jobID, output string) error {
	backoff := r.config.CompletionBackoff

	for attempt := 0; ; attempt++ {
		err := r.records.RecordCompletion(ctx, jobID, output)
		if err == nil {
			return nil
		}

		var writeErr *domain.WriteError
		if errors.As(err, &writeErr) && writeErr.Rejected() {
			return err
		}
		if attempt >= r.config.CompletionRetries {
			return err
		}

		r.logger.Warn("Completion write failed, retrying",
			slog.String("job_id", jobID),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.Any("error", err),
		)
		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

func (r *Runner) markFailed(ctx context.Context, jobID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := r.records.UpdateStatus(ctx, jobID, domain.JobStatusFailed, cause.Error()); err != nil {
		r.logger.Warn("Failed to mark job failed",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
	}
}

func (r *Runner) terminate(ctx context.Context, jobID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.TerminateTimeout)
	defer cancel()

	if err := r.terminator.Terminate(ctx); err != nil {
		r.logger.Error("Failed to terminate worker environment",
			slog.String("job_id", jobID),
			slog.Any("error", err),
		)
		return
	}
	r.logger.Debug("Worker environment terminated",
		slog.String("job_id", jobID),
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
