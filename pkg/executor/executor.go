// Package executor runs external commands on behalf of the workflows and
// package adapters. It is the single place where dry-run is enforced:
// mutating commands are logged and simulated, read-only queries always run.
package executor

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/fsutil"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
)

// lockMarkers identify package-manager lock contention in stderr.
var lockMarkers = []string{
	"could not get lock",
	"unable to acquire the dpkg frontend lock",
	"unable to lock database",
	"db.lck",
	"waiting for process with pid",
	"system management is locked",
}

// Executor classifies commands as queries or mutations and runs them
// through a Runner.
type Executor struct {
	ectx   *engine.ExecutionContext
	runner Runner
	logger *telemetry.Logger

	lockRetries  uint64
	lockInterval time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithLockRetry sets how often a mutation blocked by a package-manager lock
// is retried, and the first backoff interval.
func WithLockRetry(retries uint64, initial time.Duration) Option {
	return func(e *Executor) {
		e.lockRetries = retries
		e.lockInterval = initial
	}
}

// New creates an executor.
func New(ectx *engine.ExecutionContext, runner Runner, logger *telemetry.Logger, opts ...Option) *Executor {
	e := &Executor{
		ectx:         ectx,
		runner:       runner,
		logger:       logger.NewComponentLogger("executor"),
		lockRetries:  3,
		lockInterval: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Context returns the execution context the executor enforces.
func (e *Executor) Context() *engine.ExecutionContext {
	return e.ectx
}

// Logger returns the executor's logger.
func (e *Executor) Logger() *telemetry.Logger {
	return e.logger
}

// Query runs a read-only command. It runs even under dry-run.
func (e *Executor) Query(ctx context.Context, spec engine.CommandSpec) (Result, error) {
	e.logger.Trace("running query", telemetry.Fields{"command": spec.String()})
	return e.run(ctx, spec)
}

// Mutate runs a state-mutating command. Under dry-run it emits exactly one
// DEBUG event naming the command and returns a simulated success.
func (e *Executor) Mutate(ctx context.Context, spec engine.CommandSpec) (Result, error) {
	if e.ectx.DryRun() {
		e.logger.Debug("would execute: "+spec.String(), telemetry.Fields{"command": spec.String(), "dry_run": true})
		return Result{Simulated: true}, nil
	}

	e.logger.Debug("executing", telemetry.Fields{"command": spec.String()})

	var result Result
	op := func() error {
		res, err := e.run(ctx, spec)
		result = res
		if err != nil && isLockContention(res) {
			e.logger.Warn("package manager is locked; retrying", telemetry.Fields{"command": spec.String()})
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.lockInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, e.lockRetries), context.WithoutCancel(ctx))
	err := backoff.Retry(op, policy)
	return result, err
}

// Detach starts a mutating command without waiting for it.
func (e *Executor) Detach(ctx context.Context, spec engine.CommandSpec) error {
	if e.ectx.DryRun() {
		e.logger.Debug("would execute: "+spec.String(), telemetry.Fields{"command": spec.String(), "dry_run": true, "detached": true})
		return nil
	}
	e.logger.Debug("starting detached", telemetry.Fields{"command": spec.String()})
	return e.runner.Start(ctx, spec)
}

// WriteFile atomically replaces path with data, keeping the existing file
// mode when there is one. Under dry-run it only logs.
func (e *Executor) WriteFile(_ context.Context, path string, data []byte, perm os.FileMode) error {
	if e.ectx.DryRun() {
		e.logger.Debug("would write "+path, telemetry.Fields{"path": path, "bytes": len(data), "dry_run": true})
		return nil
	}
	e.logger.Debug("writing file", telemetry.Fields{"path": path, "bytes": len(data)})
	return fsutil.WriteFileAtomic(path, data, fsutil.FileMode(path, perm))
}

func (e *Executor) run(ctx context.Context, spec engine.CommandSpec) (Result, error) {
	res, err := e.runner.Run(ctx, spec)
	if err != nil {
		if _, ok := err.(*engine.Error); ok {
			return res, err
		}
		return res, engine.NewCommandFailed(spec.String(), res.ExitCode, trimStderr(res.Stderr), err)
	}
	if !spec.Accepts(res.ExitCode) {
		return res, engine.NewCommandFailed(spec.String(), res.ExitCode, trimStderr(res.Stderr), nil)
	}
	return res, nil
}

func isLockContention(res Result) bool {
	stderr := strings.ToLower(res.Stderr)
	for _, marker := range lockMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

// trimStderr keeps the last non-empty line, which is where package managers
// put the actual failure.
func trimStderr(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
