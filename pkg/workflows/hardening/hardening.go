// Package hardening implements the hardening workflow: an accumulator that
// runs independent security baseline steps, counts the ones that fail and
// keeps going. HardenSSH is the only step that can roll back.
package hardening

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/policy"
	"github.com/sysmaint/sysmaint/pkg/providers/pkgmgr"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
	"github.com/sysmaint/sysmaint/pkg/workflows"
)

// Step names, in execution order.
const (
	StepHardenSSH                = "HardenSSH"
	StepEnableUnattendedUpgrades = "EnableUnattendedUpgrades"
	StepApplySysctlBaseline      = "ApplySysctlBaseline"
	StepConfigureFirewall        = "ConfigureFirewall"
)

// Outcome count keys.
const (
	CountStepsRun       = "steps_run"
	CountStepsFailed    = "steps_failed"
	CountStepsSkipped   = "steps_skipped"
	CountStepsSucceeded = "steps_succeeded"
)

// Steps lists every hardening step in execution order.
var Steps = []string{
	StepHardenSSH,
	StepEnableUnattendedUpgrades,
	StepApplySysctlBaseline,
	StepConfigureFirewall,
}

// Selection filters which steps run.
type Selection struct {
	SSHOnly      bool
	FirewallOnly bool
	SkipSSH      bool
	SkipFirewall bool
}

// Validate rejects contradictory selectors.
func (s Selection) Validate() error {
	switch {
	case s.SSHOnly && s.SkipSSH:
		return fmt.Errorf("--ssh-only and --skip-ssh are mutually exclusive")
	case s.FirewallOnly && s.SkipFirewall:
		return fmt.Errorf("--firewall-only and --skip-firewall are mutually exclusive")
	case s.SSHOnly && s.FirewallOnly:
		return fmt.Errorf("--ssh-only and --firewall-only are mutually exclusive")
	}
	return nil
}

// Includes reports whether step is selected.
func (s Selection) Includes(step string) bool {
	switch {
	case s.SSHOnly:
		return step == StepHardenSSH
	case s.FirewallOnly:
		return step == StepConfigureFirewall
	case s.SkipSSH && step == StepHardenSSH:
		return false
	case s.SkipFirewall && step == StepConfigureFirewall:
		return false
	}
	return true
}

// Config configures the hardening steps.
type Config struct {
	SSH SSHConfig

	SysctlPath     string
	SysctlSettings map[string]string

	// AptAutoUpgradesPath is the apt periodic config written for apt hosts.
	AptAutoUpgradesPath string

	// ManagementPort stays open when incoming traffic is denied.
	ManagementPort int

	// LockDir holds the sshd advisory lock. Empty disables locking.
	LockDir string

	// LookPath finds firewall frontends; defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

// Workflow is one hardening run.
type Workflow struct {
	deps   *workflows.Deps
	sel    Selection
	logger *telemetry.Logger
	steps  map[string]workflows.StepFunc
}

// New creates a hardening workflow. With a nil provider the
// EnableUnattendedUpgrades step fails and the others still run; a nil policy
// engine gets the built-in sshd baseline.
func New(deps *workflows.Deps, provider pkgmgr.Provider, policies *policy.Engine, cfg Config, sel Selection) (*Workflow, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger(engine.WorkflowHardening)
	if policies == nil {
		var err error
		policies, err = policy.NewEngine(context.Background(), logger)
		if err != nil {
			return nil, err
		}
	}

	svc := services{exec: deps.Exec}
	ssh := &sshHardener{
		cfg:      cfg.SSH,
		lockDir:  cfg.LockDir,
		exec:     deps.Exec,
		gate:     deps.Gate,
		policy:   policies,
		services: svc,
	}
	unattended := &unattendedUpgrades{
		provider:    provider,
		exec:        deps.Exec,
		gate:        deps.Gate,
		services:    svc,
		aptConfPath: cfg.AptAutoUpgradesPath,
	}
	sysctl := &sysctlBaseline{
		path:     cfg.SysctlPath,
		settings: cfg.SysctlSettings,
		exec:     deps.Exec,
		gate:     deps.Gate,
	}
	fw := &firewall{
		port:     cfg.ManagementPort,
		exec:     deps.Exec,
		gate:     deps.Gate,
		services: svc,
		lookPath: cfg.LookPath,
	}

	return &Workflow{
		deps:   deps,
		sel:    sel,
		logger: logger,
		steps: map[string]workflows.StepFunc{
			StepHardenSSH:                ssh.Run,
			StepEnableUnattendedUpgrades: unattended.Run,
			StepApplySysctlBaseline:      sysctl.Run,
			StepConfigureFirewall:        fw.Run,
		},
	}, nil
}

// Run executes the selected steps and records the outcome.
func (w *Workflow) Run(ctx context.Context) engine.WorkflowOutcome {
	ctx, span := w.deps.Telemetry.Tracer.StartWorkflowSpan(ctx, engine.WorkflowHardening, w.deps.RunID, w.deps.Context.DryRun())
	defer span.End()

	outcome := w.run(ctx)
	w.deps.Finish(ctx, w.logger, &outcome)

	span.SetAttributes(telemetry.AttrStatus.String(string(outcome.Status)))
	if outcome.Err != nil {
		telemetry.RecordError(span, outcome.Err)
	}
	return outcome
}

func (w *Workflow) run(ctx context.Context) engine.WorkflowOutcome {
	counts := map[string]int{
		CountStepsRun:       0,
		CountStepsFailed:    0,
		CountStepsSkipped:   0,
		CountStepsSucceeded: 0,
	}

	if err := w.deps.CheckPrivilege(w.logger); err != nil {
		return workflows.Failed(engine.WorkflowHardening, counts, err)
	}

	var (
		merr    *multierror.Error
		reports []engine.StepReport
	)
	for _, step := range Steps {
		if !w.sel.Includes(step) {
			w.logger.Debug("step not selected", telemetry.Fields{"step": step})
			continue
		}

		err := w.deps.RunStep(ctx, w.logger, engine.WorkflowHardening, step, w.steps[step])
		if errors.Is(err, workflows.ErrInterrupted) {
			outcome := workflows.Failed(engine.WorkflowHardening, counts, err)
			outcome.Failures = reports
			return outcome
		}

		counts[CountStepsRun]++
		result := workflows.StepResultOf(err)
		switch result {
		case engine.StepSucceeded:
			counts[CountStepsSucceeded]++
			continue
		case engine.StepSkipped:
			counts[CountStepsSkipped]++
		default:
			counts[CountStepsFailed]++
			merr = multierror.Append(merr, fmt.Errorf("%s: %w", step, err))
		}
		reports = append(reports, engine.StepReport{Step: step, Result: result, Reason: err.Error()})
	}

	status := engine.StatusApplied
	if counts[CountStepsFailed] > 0 {
		status = engine.StatusPartialFailure
	}
	return engine.WorkflowOutcome{
		Workflow: engine.WorkflowHardening,
		Status:   status,
		Counts:   counts,
		Failures: reports,
		Err:      merr.ErrorOrNil(),
	}
}
