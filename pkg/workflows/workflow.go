// Package workflows holds what the update and hardening workflows share:
// their dependencies, step instrumentation and the terminal RecordOutcome
// step that persists and reports a run.
package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
	"github.com/sysmaint/sysmaint/pkg/privilege"
	"github.com/sysmaint/sysmaint/pkg/stores"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
)

// ErrInterrupted is returned when a run is cancelled between steps.
var ErrInterrupted = errors.New("interrupted before step")

// PrivilegeCheck decides whether the run may proceed with the current rights.
type PrivilegeCheck func(ectx *engine.ExecutionContext, logger *telemetry.Logger) error

// Deps are the collaborators a workflow run needs.
type Deps struct {
	Context   *engine.ExecutionContext
	Exec      *executor.Executor
	Gate      engine.Authorizer
	State     stores.StateStore
	Telemetry *telemetry.Telemetry

	// Journal is optional.
	Journal stores.Journal

	// RunID tags the outcome and journal entries.
	RunID string

	// Privilege defaults to privilege.Check.
	Privilege PrivilegeCheck

	// Now defaults to time.Now.
	Now func() time.Time
}

// Validate reports missing required collaborators.
func (d *Deps) Validate() error {
	switch {
	case d == nil:
		return fmt.Errorf("workflow dependencies are required")
	case d.Context == nil:
		return fmt.Errorf("execution context is required")
	case d.Exec == nil:
		return fmt.Errorf("executor is required")
	case d.Gate == nil:
		return fmt.Errorf("confirmation gate is required")
	case d.State == nil:
		return fmt.Errorf("state store is required")
	case d.Telemetry == nil:
		return fmt.Errorf("telemetry is required")
	}
	return nil
}

// Logger returns the component logger for a workflow.
func (d *Deps) Logger(workflow string) *telemetry.Logger {
	logger := d.Telemetry.Logger.NewComponentLogger(workflow)
	if d.RunID != "" {
		logger = logger.WithField("run_id", d.RunID)
	}
	return logger
}

// Clock returns the current time.
func (d *Deps) Clock() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// CheckPrivilege runs the configured privilege check.
func (d *Deps) CheckPrivilege(logger *telemetry.Logger) error {
	check := d.Privilege
	if check == nil {
		check = privilege.Check
	}
	return check(d.Context, logger)
}

// StepFunc is the body of one workflow step.
type StepFunc func(ctx context.Context, logger *telemetry.Logger) error

// RunStep runs fn as the named step, with its own span, timing metric and
// start/finish log events. It refuses to start once ctx is cancelled; a
// started step always runs to completion.
func (d *Deps) RunStep(ctx context.Context, logger *telemetry.Logger, workflow, step string, fn StepFunc) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w %s: %v", ErrInterrupted, step, ctx.Err())
	}

	is := d.Telemetry.StartStep(ctx, workflow, step)
	stepLogger := logger.WithField("step", step)
	stepLogger.Debug("step started")

	err := fn(context.WithoutCancel(is.Ctx), stepLogger)

	result := StepResultOf(err)
	is.End(string(result), errOrNil(result, err))

	switch result {
	case engine.StepSucceeded:
		stepLogger.Info("step succeeded")
	case engine.StepSkipped:
		stepLogger.Info("step skipped", telemetry.Fields{"reason": err.Error()})
	default:
		stepLogger.Error("step failed", telemetry.Fields{"error": err.Error()})
	}

	return err
}

func errOrNil(result engine.StepResult, err error) error {
	if result == engine.StepFailed {
		return err
	}
	return nil
}

// Finish is the terminal RecordOutcome step. It stamps the outcome, persists
// it unless this is a dry run, completes the journal entry and records
// metrics. Persistence problems are logged; they never change the outcome.
func (d *Deps) Finish(ctx context.Context, logger *telemetry.Logger, outcome *engine.WorkflowOutcome) {
	ctx = context.WithoutCancel(ctx)

	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = d.Clock().UTC()
	}
	if outcome.Counts == nil {
		outcome.Counts = map[string]int{}
	}
	outcome.RunID = d.RunID

	fields := telemetry.Fields{
		"status":    string(outcome.Status),
		"exit_code": outcome.ExitCode(),
		"counts":    outcome.Counts,
	}
	if outcome.Err != nil {
		fields["error"] = outcome.Err.Error()
	}

	if d.Context.DryRun() {
		logger.Debug("dry run; state record not written", telemetry.Fields{"status": string(outcome.Status)})
	} else if err := d.State.Write(ctx, *outcome); err != nil {
		logger.Error("failed to persist state record", telemetry.Fields{"error": err.Error()})
	}

	if d.Journal != nil && d.RunID != "" {
		if err := d.Journal.CompleteRun(ctx, *outcome); err != nil {
			logger.Warn("failed to complete journal entry", telemetry.Fields{"error": err.Error()})
		}
	}

	d.Telemetry.Metrics.RecordOutcome(outcome.Workflow, string(outcome.Status), outcome.ExitCode(), outcome.Timestamp)

	if outcome.Status == engine.StatusFailed {
		logger.Error("workflow failed", fields)
		return
	}
	logger.Info("workflow finished", fields)
}

// Failed builds a Failed outcome for err.
func Failed(workflow string, counts map[string]int, err error) engine.WorkflowOutcome {
	return engine.WorkflowOutcome{
		Workflow: workflow,
		Status:   engine.StatusFailed,
		Counts:   counts,
		Err:      err,
	}
}
