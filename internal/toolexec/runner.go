// Package toolexec runs external CLI tools and captures their output.
package toolexec

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/opsbridge/kubebridge/internal/log"
)

const (
	// maxStderrBytes caps the amount of stderr captured from tool execution.
	maxStderrBytes = 64 * 1024

	// terminationGracePeriod is the time we wait after SIGTERM before sending SIGKILL.
	terminationGracePeriod = 5 * time.Second
)

// Invocation describes a single tool run.
type Invocation struct {
	// Path is the binary to execute, resolved via PATH if not absolute.
	Path string
	// Args is the argument list, excluding the binary name.
	Args []string
	// Stdin, when non-empty, is delivered to the process's standard input.
	Stdin string
	// Timeout bounds the run. Zero means no timeout.
	Timeout time.Duration
}

// Runner executes tool invocations. Handlers depend on this interface so
// tests can substitute a recording stub.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (string, error)
}

// Exec is the production Runner backed by os/exec.
type Exec struct {
	logger *slog.Logger
}

// NewExec creates a Runner that spawns real subprocesses.
func NewExec() *Exec {
	return &Exec{logger: log.WithComponent("toolexec")}
}

// Run executes the invocation synchronously and returns its standard output.
// A non-zero exit becomes an error carrying the tool's stderr text. Stderr is
// discarded on success.
func (e *Exec) Run(ctx context.Context, inv Invocation) (string, error) {
	if inv.Path == "" {
		return "", fmt.Errorf("tool path is empty")
	}

	cmd := exec.Command(inv.Path, inv.Args...)

	if inv.Stdin != "" {
		cmd.Stdin = strings.NewReader(inv.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.logger.Debug("running tool", "path", inv.Path, "args", inv.Args, "timeout", inv.Timeout)

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", inv.Path, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var timeoutCh <-chan time.Time
	if inv.Timeout > 0 {
		timer := time.NewTimer(inv.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-timeoutCh:
		e.terminate(cmd, waitErr)
		return "", fmt.Errorf("%s timed out after %v", inv.Path, inv.Timeout)

	case <-ctx.Done():
		e.terminate(cmd, waitErr)
		return "", ctx.Err()

	case err := <-waitErr:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				return "", &ToolError{
					Tool:     inv.Path,
					Args:     inv.Args,
					ExitCode: exitErr.ExitCode(),
					Stderr:   truncateStderr(stderr.String()),
				}
			}
			return "", fmt.Errorf("wait for %s: %w", inv.Path, err)
		}
		return stdout.String(), nil
	}
}

// terminate sends SIGTERM, waits for the grace period, then SIGKILLs.
func (e *Exec) terminate(cmd *exec.Cmd, waitErr chan error) {
	e.logger.Warn("terminating tool", "path", cmd.Path)
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			e.logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(terminationGracePeriod)
	defer grace.Stop()

	select {
	case <-waitErr:
	case <-grace.C:
		e.logger.Warn("tool did not exit after SIGTERM, sending SIGKILL", "path", cmd.Path)
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				e.logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}

// ToolError reports a tool that exited non-zero. The message carries the
// tool's own failure text so it can pass through to the error envelope.
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s %s: exit status %d", e.Tool, strings.Join(e.Args, " "), e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

func truncateStderr(s string) string {
	if len(s) > maxStderrBytes {
		return s[:maxStderrBytes]
	}
	return s
}
