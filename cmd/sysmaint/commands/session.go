package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sysmaint/sysmaint/pkg/config"
	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
	"github.com/sysmaint/sysmaint/pkg/providers/pkgmgr"
	"github.com/sysmaint/sysmaint/pkg/stores"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
	"github.com/sysmaint/sysmaint/pkg/workflows"
)

// session holds everything one workflow run is wired to.
type session struct {
	cfg     *config.Config
	tel     *telemetry.Telemetry
	ectx    *engine.ExecutionContext
	exec    *executor.Executor
	gate    engine.Authorizer
	state   *stores.FileStateStore
	journal stores.Journal
	lock    *stores.Lock
	runID   string
}

// telemetryConfig maps the application configuration onto telemetry.
func (c *cli) telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = c.info.Version
	tc.Logging.Level = telemetry.LevelForVerbosity(cfg.Verbose)
	if cfg.JSON {
		tc.Logging.Format = "json"
		tc.Logging.Writer = c.stdout
	} else {
		tc.Logging.Format = "console"
		tc.Logging.Writer = c.stderr
	}
	tc.Tracing.Enabled = cfg.Tracing.Enabled
	tc.Tracing.Exporter = cfg.Tracing.Exporter
	tc.Tracing.Endpoint = cfg.Tracing.Endpoint
	tc.Tracing.Insecure = cfg.Tracing.Insecure
	tc.Metrics.Textfile = cfg.Metrics.Textfile
	return tc
}

// openSession loads configuration, takes the state lock and builds the
// run's collaborators. The caller must close the session.
func (c *cli) openSession(cmd *cobra.Command, workflow string) (*session, error) {
	ctx := cmd.Context()

	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(c.telemetryConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	s := &session{
		cfg:   cfg,
		tel:   tel,
		runID: uuid.NewString(),
		ectx: engine.NewExecutionContext(engine.RunOptions{
			DryRun:     cfg.DryRun,
			Headless:   cfg.Headless,
			JSONOutput: cfg.JSON,
			Verbosity:  cfg.Verbose,
		}),
		state: stores.NewFileStateStore(cfg.StatePath),
	}

	lock, err := stores.AcquireLock(cfg.LockDir, "state")
	switch {
	case err == nil:
		s.lock = lock
	case errors.Is(err, stores.ErrLocked) || !cfg.DryRun:
		_ = tel.Shutdown(context.WithoutCancel(ctx))
		return nil, err
	default:
		tel.Logger.Warn("running without state lock", telemetry.Fields{"error": err.Error()})
	}

	s.openJournal(ctx, workflow)

	s.exec = executor.New(s.ectx, executor.NewSystemRunner(cfg.CommandTimeout), tel.Logger)
	s.gate = engine.NewTerminalGate(s.ectx, tel.Logger)

	tel.Logger.Debug("session started", telemetry.Fields{
		"run_id":   s.runID,
		"workflow": workflow,
		"dry_run":  cfg.DryRun,
		"headless": cfg.Headless,
		"backend":  cfg.Backend,
	})
	return s, nil
}

// openJournal attaches the run journal when one is configured. Journal
// problems never stop a run.
func (s *session) openJournal(ctx context.Context, workflow string) {
	if s.cfg.JournalPath == "" {
		return
	}

	journal, err := stores.OpenJournal(ctx, s.cfg.JournalPath)
	if err != nil {
		s.tel.Logger.Warn("run journal unavailable", telemetry.Fields{"path": s.cfg.JournalPath, "error": err.Error()})
		return
	}

	run := &stores.Run{ID: s.runID, Workflow: workflow, DryRun: s.cfg.DryRun}
	if err := journal.CreateRun(ctx, run); err != nil {
		s.tel.Logger.Warn("failed to record run start", telemetry.Fields{"error": err.Error()})
		_ = journal.Close()
		return
	}

	s.journal = journal
	s.tel.Logger = s.tel.Logger.WithRecorder(stores.NewJournalRecorder(journal, s.runID))
}

// deps returns the workflow dependencies for this session.
func (s *session) deps() *workflows.Deps {
	return &workflows.Deps{
		Context:   s.ectx,
		Exec:      s.exec,
		Gate:      s.gate,
		State:     s.state,
		Telemetry: s.tel,
		Journal:   s.journal,
		RunID:     s.runID,
	}
}

// provider resolves the configured package manager backend.
func (s *session) provider() (pkgmgr.Provider, error) {
	args, err := s.cfg.PackageManager.Args()
	if err != nil {
		return nil, engine.NewValidationFailed("invalid package manager arguments", err)
	}
	return pkgmgr.Resolve(s.cfg.Backend, s.exec, pkgmgr.Options{ExtraArgs: args})
}

// fail records a run that could not start its workflow.
func (s *session) fail(ctx context.Context, workflow string, err error) engine.WorkflowOutcome {
	outcome := workflows.Failed(workflow, nil, err)
	d := s.deps()
	d.Finish(ctx, d.Logger(workflow), &outcome)
	return outcome
}

// Close flushes telemetry and releases the journal and lock.
func (s *session) Close(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := s.tel.Shutdown(ctx); err != nil {
		s.tel.Logger.Warn("telemetry shutdown failed", telemetry.Fields{"error": err.Error()})
	}
	if s.journal != nil {
		_ = s.journal.Close()
	}
	if err := s.lock.Release(); err != nil {
		s.tel.Logger.Warn("failed to release lock", telemetry.Fields{"error": err.Error()})
	}
}

// report prints one summary line per failed or skipped step, plus the fatal
// error of a failed run, and records the exit code.
func (c *cli) report(outcome engine.WorkflowOutcome) {
	for _, r := range outcome.Failures {
		fmt.Fprintln(c.stderr, r.String())
	}
	if outcome.Status == engine.StatusFailed && outcome.Err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", outcome.Err)
	}
	if outcome.Reboot != nil {
		fmt.Fprintf(c.stderr, "Reboot scheduled for %s (cancel with %q)\n",
			outcome.Reboot.ScheduledFor.Local().Format("15:04 MST"), outcome.Reboot.CancelCommand)
	}
	c.exitCode = outcome.ExitCode()
}
