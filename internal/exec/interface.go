// Package exec provides an interface for running the external agent
// process.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking agent invocations in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// RunWithInput executes a command with the given stdin contents and
	// returns combined stdout/stderr output.
	RunWithInput(ctx context.Context, workDir string, input []byte, name string, args ...string) (output []byte, err error)
}
