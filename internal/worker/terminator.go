package worker

import (
	"context"
	"fmt"
	"os/exec"
)

// Terminator ends the Worker's execution environment
type Terminator interface {
	Terminate(ctx context.Context) error
}

// TerminatorFunc adapts a function to Terminator
type TerminatorFunc func(ctx context.Context) error

func (f TerminatorFunc) Terminate(ctx context.Context) error {
	return f(ctx)
}

// CommandTerminator runs a shell command such as "shutdown -h now"
type CommandTerminator struct {
	Command string
	Shell   string
}

func (t CommandTerminator) Terminate(ctx context.Context) error {
	shell := t.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	out, err := exec.CommandContext(ctx, shell, "-c", t.Command).CombinedOutput()
	if err != nil {
		return fmt.Errorf("terminate command %q failed: %w: %s", t.Command, err, out)
	}
	return nil
}

// NoopTerminator leaves the environment running; used when Workers share a long-lived pool process
type NoopTerminator struct{}

func (NoopTerminator) Terminate(context.Context) error { return nil }

// NewTerminator returns a CommandTerminator for command, or a NoopTerminator when it is empty
func NewTerminator(command string) Terminator {
	if command == "" {
		return NoopTerminator{}
	}
	return CommandTerminator{Command: command}
}
