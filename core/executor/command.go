package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultWaitDelay bounds how long a cancelled command may keep its output
// pipes open through leftover child processes
const DefaultWaitDelay = 5 * time.Second

// Command is one external process invocation
type Command struct {
	Args []string
	Dir  string
	Env  []string // appended to the current environment
}

// CommandResult holds the output of a finished command
type CommandResult struct {
	Output   string // stdout and stderr interleaved
	ExitCode int
}

// CommandRunner executes external commands
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (*CommandResult, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	// Output, when set, also receives the live command output
	Output io.Writer
	// WaitDelay overrides DefaultWaitDelay
	WaitDelay time.Duration
}

// Run implements CommandRunner
func (r ExecRunner) Run(ctx context.Context, c Command) (*CommandResult, error) {
	if len(c.Args) == 0 {
		return nil, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	var combined bytes.Buffer
	var w io.Writer = &combined
	if r.Output != nil {
		w = io.MultiWriter(&combined, r.Output)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()

	result := &CommandResult{Output: combined.String()}
	var exitErr *exec.ExitError
	switch {
	case err != nil && errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	case err != nil:
		result.ExitCode = -1
	}

	if err != nil {
		return result, fmt.Errorf("command execution failed: %w", err)
	}
	return result, nil
}

// tail returns the last n lines of output
func tail(output string, n int) string {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
