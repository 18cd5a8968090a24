// Package agent spawns AI backend subprocesses. The backend is opaque:
// it is a command that receives a task prompt, runs in a working
// directory, and streams progress on stdout/stderr. Nothing here parses
// or interprets the backend's output.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// DefaultCommand is the backend invocation used when none is configured.
var DefaultCommand = []string{"claude", "--print", "-p"}

// Backend launches agent processes.
type Backend interface {
	// Start spawns a long-running agent with the prompt appended to the
	// backend command, running in dir with extraEnv appended to the
	// host environment.
	Start(ctx context.Context, dir, prompt string, extraEnv []string) (Process, error)

	// RunOnce runs a single blocking invocation and returns its
	// combined output. Used for repair prompts where the caller only
	// needs the outcome, not a stream.
	RunOnce(ctx context.Context, dir, prompt string, timeout time.Duration) (string, error)
}

// Process is a running agent subprocess.
type Process interface {
	// Stdout and Stderr stream the live output. Each must be drained.
	Stdout() io.Reader
	Stderr() io.Reader

	// Wait blocks until the process exits and returns its exit error.
	Wait() error

	// Stop sends a graceful stop to the process group, waits up to
	// grace, then hard-kills. Idempotent.
	Stop(grace time.Duration)

	// PID returns the process ID.
	PID() int
}

// CommandBackend runs a configurable backend command via os/exec.
type CommandBackend struct {
	command []string
}

// NewCommandBackend creates a backend for the given command. An empty
// command falls back to DefaultCommand.
func NewCommandBackend(command []string) *CommandBackend {
	if len(command) == 0 {
		command = DefaultCommand
	}
	return &CommandBackend{command: command}
}

// Start spawns the backend in its own process group so a stop signal
// reaches the whole tree, not just the direct child.
func (b *CommandBackend) Start(ctx context.Context, dir, prompt string, extraEnv []string) (Process, error) {
	args := append([]string{}, b.command[1:]...)
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, b.command[0], args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start backend %q: %w", b.command[0], err)
	}

	// cmd.Wait closes the exec pipes, so the process may only be reaped
	// after both streams have been read to EOF. Forward them through
	// in-process pipes and reap once the forwards finish.
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	p := &process{
		cmd:    cmd,
		stdout: outR,
		stderr: errR,
		done:   make(chan struct{}),
	}
	var drained sync.WaitGroup
	drained.Add(2)
	go func() {
		defer drained.Done()
		io.Copy(outW, stdout)
		outW.Close()
	}()
	go func() {
		defer drained.Done()
		io.Copy(errW, stderr)
		errW.Close()
	}()
	go func() {
		drained.Wait()
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// RunOnce runs the backend to completion with a timeout. Output is
// returned even when the invocation fails.
func (b *CommandBackend) RunOnce(ctx context.Context, dir, prompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := append([]string{}, b.command[1:]...)
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, b.command[0], args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, fmt.Errorf("backend %q: %w", b.command[0], err)
	}
	return output, nil
}

var _ Backend = (*CommandBackend)(nil)

type process struct {
	cmd     *exec.Cmd
	stdout  io.Reader
	stderr  io.Reader
	done    chan struct{}
	waitErr error
}

func (p *process) Stdout() io.Reader { return p.stdout }
func (p *process) Stderr() io.Reader { return p.stderr }
func (p *process) PID() int          { return p.cmd.Process.Pid }

func (p *process) Wait() error {
	<-p.done
	return p.waitErr
}

func (p *process) Stop(grace time.Duration) {
	select {
	case <-p.done:
		return
	default:
	}

	// Negative PID signals the whole process group.
	pgid := -p.cmd.Process.Pid
	syscall.Kill(pgid, syscall.SIGTERM)

	select {
	case <-p.done:
	case <-time.After(grace):
		syscall.Kill(pgid, syscall.SIGKILL)
		<-p.done
	}
}

// ExitCode extracts the exit code from a Wait error. Returns 0 for nil
// and -1 when the process was killed by a signal.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
