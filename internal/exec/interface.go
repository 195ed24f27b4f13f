// Package exec provides an interface for command execution.
package exec

import (
	"context"
)

// Command describes one external process invocation.
type Command struct {
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is appended to the parent environment as KEY=value pairs.
	Env []string
	// Stdin is written to the process's standard input when non-empty.
	Stdin string
	Name  string
	Args  []string
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes cmd and returns combined stdout/stderr output.
	Run(ctx context.Context, cmd Command) (output []byte, err error)
}

// Shell wraps script in a "sh -c" command.
func Shell(script string) Command {
	return Command{Name: "sh", Args: []string{"-c", script}}
}
