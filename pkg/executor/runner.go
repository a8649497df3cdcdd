package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/sysmaint/sysmaint/pkg/engine"
)

// DefaultTimeout bounds every external command unless configured otherwise.
const DefaultTimeout = 30 * time.Minute

// Result is the captured outcome of one command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration

	// Simulated is set when the command was not run because of dry-run.
	Simulated bool
}

// Runner runs external commands. Run reports an error only when the
// command could not be started or timed out; exit codes are returned in
// Result.
type Runner interface {
	Run(ctx context.Context, spec engine.CommandSpec) (Result, error)

	// Start launches spec in its own session and does not wait for it.
	Start(ctx context.Context, spec engine.CommandSpec) error
}

// SystemRunner runs commands on the local host with os/exec.
type SystemRunner struct {
	Timeout time.Duration
}

// NewSystemRunner creates a runner with the given per-command timeout.
func NewSystemRunner(timeout time.Duration) *SystemRunner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SystemRunner{Timeout: timeout}
}

// Run implements Runner. The command is detached from ctx cancellation:
// once started it runs to completion or to the timeout.
func (r *SystemRunner) Run(ctx context.Context, spec engine.CommandSpec) (Result, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Program, spec.Args...)
	cmd.Env = append(os.Environ(), "LC_ALL=C")
	cmd.Env = append(cmd.Env, spec.Env...)
	if spec.Stdin != "" {
		cmd.Stdin = strings.NewReader(spec.Stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = engine.TimeoutExitCode
		return result, engine.NewCommandFailed(spec.String(), engine.TimeoutExitCode, "",
			fmt.Errorf("timed out after %s", timeout))
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// 127 mirrors the shell's "command not found".
		result.ExitCode = 127
		return result, engine.NewCommandFailed(spec.String(), 127, "", err)
	}

	return result, nil
}

// Start implements Runner.
func (r *SystemRunner) Start(_ context.Context, spec engine.CommandSpec) error {
	cmd := exec.Command(spec.Program, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return engine.NewCommandFailed(spec.String(), 127, "", err)
	}
	return cmd.Process.Release()
}
