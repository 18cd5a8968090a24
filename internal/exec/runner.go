package exec

import (
	"context"
	"os/exec"
	"syscall"
)

// ShellRunner implements CommandRunner using os/exec. Commands run in
// their own process group so context cancellation kills the whole tree.
type ShellRunner struct{}

// NewRunner creates a new ShellRunner.
func NewRunner() *ShellRunner {
	return &ShellRunner{}
}

// RunShell executes a shell command and returns its combined output.
func (r *ShellRunner) RunShell(ctx context.Context, workDir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if workDir != "" {
		cmd.Dir = workDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Tail returns the last max bytes of s, trimmed to a line boundary when
// possible. Used to cap captured build and test output.
func Tail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	tail := s[len(s)-max:]
	for i := 0; i < len(tail); i++ {
		if tail[i] == '\n' {
			return tail[i+1:]
		}
	}
	return tail
}

var _ CommandRunner = (*ShellRunner)(nil)
