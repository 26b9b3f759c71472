// Package agent invokes the external coding agent process and hands its
// output to the response analyzer. Both are external collaborators; this
// package owns only the subprocess boundary.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/ralph-loop/ralph/internal/exec"
	"github.com/ralph-loop/ralph/internal/signals"
	"github.com/ralph-loop/ralph/internal/store"
)

// Timeout bounds accepted for one agent invocation, in minutes.
const (
	MinTimeoutMinutes = 1
	MaxTimeoutMinutes = 120
)

// DefaultCommand is the agent CLI invoked each iteration.
const DefaultCommand = "claude"

// Invoker runs the external agent with the session prompt on stdin.
type Invoker struct {
	runner  exec.CommandRunner
	dir     *store.Dir
	command string
	timeout time.Duration
	format  signals.OutputFormat
}

// NewInvoker creates an Invoker. timeoutMinutes must already be validated
// to the accepted range; the CLI layer rejects anything else before state
// is touched.
func NewInvoker(runner exec.CommandRunner, dir *store.Dir, timeoutMinutes int, format signals.OutputFormat) *Invoker {
	return &Invoker{
		runner:  runner,
		dir:     dir,
		command: DefaultCommand,
		timeout: time.Duration(timeoutMinutes) * time.Minute,
		format:  format,
	}
}

// SetCommand overrides the agent CLI binary (for tests and alternate
// agents).
func (inv *Invoker) SetCommand(command string) {
	inv.command = command
}

// Invoke runs one agent iteration: the prompt document is piped to the
// agent CLI under the configured timeout, and the combined output is
// returned. A missing prompt document is an error; the loop cannot do
// useful work without instructions.
func (inv *Invoker) Invoke(ctx context.Context) ([]byte, error) {
	prompt, err := inv.dir.Read(store.PromptFile)
	if err != nil {
		return nil, fmt.Errorf("read prompt: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	args := []string{"-p", "--dangerously-skip-permissions"}
	if inv.format == signals.OutputJSON {
		args = append(args, "--output-format", "json")
	}

	output, err := inv.runner.RunWithInput(ctx, "", prompt, inv.command, args...)
	if err != nil {
		// Output is still meaningful on failure (partial work, the
		// timeout message); return both.
		return output, fmt.Errorf("agent invocation: %w", err)
	}
	return output, nil
}

// ValidateTimeout checks a timeout value against the accepted range.
func ValidateTimeout(minutes int) error {
	if minutes < MinTimeoutMinutes || minutes > MaxTimeoutMinutes {
		return fmt.Errorf("timeout must be a positive integer between %d and %d", MinTimeoutMinutes, MaxTimeoutMinutes)
	}
	return nil
}
