package provisioner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// ExecProvisioner runs each bootstrap script as a detached local process
type ExecProvisioner struct {
	shell  string
	output io.Writer
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewExecProvisioner uses /bin/sh when shell is empty and os.Stderr when output is nil
func NewExecProvisioner(shell string, output io.Writer, logger *slog.Logger) *ExecProvisioner {
	if shell == "" {
		shell = "/bin/sh"
	}
	if output == nil {
		output = os.Stderr
	}
	return &ExecProvisioner{
		shell:  shell,
		output: output,
		logger: logger,
	}
}

// Provision starts the script and returns its pid. The process is not tied to
// ctx: a Worker outlives the dispatch call that launched it.
func (p *ExecProvisioner) Provision(ctx context.Context, spec LaunchSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	cmd := exec.Command(p.shell, "-c", spec.Script)
	cmd.Stdout = p.output
	cmd.Stderr = p.output

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start worker for job %s: %w", spec.Params.JobID, err)
	}

	pid := strconv.Itoa(cmd.Process.Pid)
	p.logger.Info("Worker process started",
		slog.String("job_id", spec.Params.JobID),
		slog.String("pid", pid),
	)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := cmd.Wait(); err != nil {
			p.logger.Warn("Worker process exited with error",
				slog.String("job_id", spec.Params.JobID),
				slog.String("pid", pid),
				slog.Any("error", err),
			)
			return
		}
		p.logger.Info("Worker process exited",
			slog.String("job_id", spec.Params.JobID),
			slog.String("pid", pid),
		)
	}()

	return pid, nil
}

// Wait blocks until every started process has exited
func (p *ExecProvisioner) Wait() {
	p.wg.Wait()
}
