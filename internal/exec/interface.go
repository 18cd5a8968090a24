// Package exec runs the user-supplied build and test shell commands.
package exec

import "context"

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// RunShell executes a shell command through "sh -c" in workDir and
	// returns combined stdout/stderr. Output is returned even when the
	// command fails.
	RunShell(ctx context.Context, workDir, command string) (output string, err error)
}
