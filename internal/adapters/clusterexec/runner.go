package clusterexec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Command is one process invocation.
type Command struct {
	Name string
	Args []string
	Env  []string
}

// Output is what a finished process produced.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// CommandRunner executes commands. A non-zero exit is reported in Output,
// not as an error; errors mean the process could not run to completion.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExecRunner runs commands as local processes.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Env = cmd.Env

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	out := Output{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	return out, err
}
