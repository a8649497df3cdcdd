// Package update implements the update workflow: a strict state machine that
// refreshes package metadata, assesses pending updates, asks for
// confirmation, applies them, cleans the cache and checks whether a reboot is
// needed. The first fatal step ends the run.
package update

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/providers/pkgmgr"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
	"github.com/sysmaint/sysmaint/pkg/workflows"
)

// Step names, in execution order.
const (
	StepRequireElevated = "RequireElevated"
	StepRefreshCache    = "RefreshCache"
	StepAssessUpdates   = "AssessUpdates"
	StepConfirm         = "Confirm"
	StepApplyUpdates    = "ApplyUpdates"
	StepClean           = "Clean"
	StepRebootCheck     = "RebootCheck"
)

// Outcome count keys.
const (
	CountUpgradable     = "upgradable"
	CountSecurity       = "security"
	CountApplied        = "applied"
	CountRebootRequired = "reboot_required"
	CountFullUpgrade    = "full_upgrade"
)

// RebootCancelCommand cancels a reboot scheduled with shutdown -r.
const RebootCancelCommand = "shutdown -c"

// Options select the update behaviour.
type Options struct {
	// SecurityOnly restricts the upgrade to security updates where the
	// backend can tell them apart.
	SecurityOnly bool

	// RebootIfRequired acts on a pending reboot: headless runs schedule a
	// deferred reboot, interactive runs ask to reboot now.
	RebootIfRequired bool

	// NoReboot never reboots, even when one is required.
	NoReboot bool

	// RebootDelay is how far ahead a headless reboot is scheduled.
	RebootDelay time.Duration
}

// Validate rejects contradictory options.
func (o Options) Validate() error {
	if o.RebootIfRequired && o.NoReboot {
		return fmt.Errorf("--reboot-if-required and --no-reboot are mutually exclusive")
	}
	if o.RebootDelay < 0 {
		return fmt.Errorf("reboot delay must not be negative")
	}
	return nil
}

// Workflow is one update run.
type Workflow struct {
	deps     *workflows.Deps
	provider pkgmgr.Provider
	opts     Options
	logger   *telemetry.Logger
}

// New creates an update workflow for provider.
func New(deps *workflows.Deps, provider pkgmgr.Provider, opts Options) (*Workflow, error) {
	if err := deps.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, engine.NewBackendUnavailable("no package manager backend resolved", nil)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Workflow{
		deps:     deps,
		provider: provider,
		opts:     opts,
		logger:   deps.Logger(engine.WorkflowUpdate).WithField("backend", provider.Name()),
	}, nil
}

// run carries the state threaded between steps.
type run struct {
	counts        map[string]int
	targets       []string
	securityClass bool
	securityOnly  bool
	rebootNeeded  bool
	reboot        *engine.RebootSchedule
}

// Run executes the state machine and records the outcome.
func (w *Workflow) Run(ctx context.Context) engine.WorkflowOutcome {
	ctx, span := w.deps.Telemetry.Tracer.StartWorkflowSpan(ctx, engine.WorkflowUpdate, w.deps.RunID, w.deps.Context.DryRun())
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
	r := &run{counts: map[string]int{
		CountUpgradable:     0,
		CountSecurity:       0,
		CountApplied:        0,
		CountRebootRequired: 0,
		CountFullUpgrade:    0,
	}}

	fatal := func(err error) engine.WorkflowOutcome {
		return workflows.Failed(engine.WorkflowUpdate, r.counts, err)
	}

	if err := w.step(ctx, StepRequireElevated, func(_ context.Context, logger *telemetry.Logger) error {
		return w.deps.CheckPrivilege(logger)
	}); err != nil {
		return fatal(err)
	}

	if err := w.step(ctx, StepRefreshCache, func(ctx context.Context, _ *telemetry.Logger) error {
		return w.provider.RefreshCache(ctx)
	}); err != nil {
		return fatal(err)
	}

	if err := w.step(ctx, StepAssessUpdates, func(ctx context.Context, logger *telemetry.Logger) error {
		return w.assess(ctx, logger, r)
	}); err != nil {
		return fatal(err)
	}

	// The only early exit: nothing to apply skips every mutating step.
	if len(r.targets) == 0 {
		return w.outcome(engine.StatusUpToDate, r)
	}

	err := w.step(ctx, StepConfirm, func(_ context.Context, _ *telemetry.Logger) error {
		req := engine.ActionRequest{
			Description: w.describe(r),
			Command:     w.provider.PlanUpgrade(r.targets, r.securityOnly),
		}
		if w.deps.Gate.Authorize(req) == engine.Skip {
			return workflows.Skipped("operator declined %d update(s)", len(r.targets))
		}
		return nil
	})
	if workflows.IsSkipped(err) {
		return w.outcome(engine.StatusUpToDate, r)
	}
	if err != nil {
		return fatal(err)
	}

	if err := w.step(ctx, StepApplyUpdates, func(ctx context.Context, logger *telemetry.Logger) error {
		res, err := w.provider.Upgrade(ctx, r.targets, r.securityOnly)
		if err != nil {
			return err
		}
		r.counts[CountApplied] = len(r.targets)
		if res.FullUpgrade {
			r.counts[CountFullUpgrade] = 1
		}
		logger.Info("updates applied", telemetry.Fields{
			"count":        len(r.targets),
			"full_upgrade": res.FullUpgrade,
			"simulated":    res.Simulated,
		})
		return nil
	}); err != nil {
		return fatal(err)
	}

	// Clean is best effort; its failure is logged by the step and ignored.
	_ = w.step(ctx, StepClean, func(ctx context.Context, logger *telemetry.Logger) error {
		if err := w.provider.Clean(ctx); err != nil {
			logger.Warn("cache cleanup failed", telemetry.Fields{"error": err.Error()})
		}
		return nil
	})

	if err := w.step(ctx, StepRebootCheck, func(ctx context.Context, logger *telemetry.Logger) error {
		return w.rebootCheck(ctx, logger, r)
	}); err != nil {
		return fatal(err)
	}

	if r.rebootNeeded {
		return w.outcome(engine.StatusRebootRequired, r)
	}
	return w.outcome(engine.StatusApplied, r)
}

func (w *Workflow) step(ctx context.Context, name string, fn workflows.StepFunc) error {
	return w.deps.RunStep(ctx, w.logger, engine.WorkflowUpdate, name, fn)
}

func (w *Workflow) outcome(status engine.Status, r *run) engine.WorkflowOutcome {
	return engine.WorkflowOutcome{
		Workflow: engine.WorkflowUpdate,
		Status:   status,
		Counts:   r.counts,
		Reboot:   r.reboot,
	}
}

func (w *Workflow) describe(r *run) string {
	kind := "update(s)"
	if r.securityOnly {
		kind = "security update(s)"
	}
	return fmt.Sprintf("Apply %d %s with %s", len(r.targets), kind, w.provider.Name())
}

// assess lists pending updates and picks the packages to upgrade.
func (w *Workflow) assess(ctx context.Context, logger *telemetry.Logger, r *run) error {
	pkgs, err := w.provider.ListUpgradable(ctx)
	if err != nil {
		return err
	}
	r.counts[CountUpgradable] = len(pkgs)
	w.deps.Telemetry.Metrics.SetUpdatesPending(len(pkgs))

	security, err := w.provider.SecurityUpdates(ctx)
	switch {
	case errors.Is(err, pkgmgr.ErrNoSecurityClass):
		logger.Warn("backend does not classify security updates", telemetry.Fields{"backend": w.provider.Name()})
	case err != nil:
		if w.opts.SecurityOnly {
			return err
		}
		logger.Warn("could not list security updates", telemetry.Fields{"error": err.Error()})
	default:
		r.securityClass = true
	}
	r.counts[CountSecurity] = len(security)

	if len(pkgs) == 0 {
		logger.Info("system is up to date")
		return nil
	}

	switch {
	case w.opts.SecurityOnly && r.securityClass:
		r.securityOnly = true
		r.targets = intersect(security, pkgmgr.Names(pkgs))
		if len(r.targets) == 0 && len(security) > 0 {
			// Patch or advisory identifiers rather than package names; the
			// backend's security upgrade selects the packages itself.
			r.targets = security
		}
	case w.opts.SecurityOnly:
		logger.Warn("security-only requested but unsupported; falling back to a full upgrade")
		r.targets = pkgmgr.Names(pkgs)
	default:
		r.targets = pkgmgr.Names(pkgs)
	}

	logger.Info("updates available", telemetry.Fields{
		"upgradable": len(pkgs),
		"security":   len(security),
		"selected":   len(r.targets),
	})
	return nil
}

// rebootCheck records whether a reboot is pending and acts on it when asked.
// Updates are already applied here, so a reboot that cannot be started is
// logged and the run still ends RebootRequired.
func (w *Workflow) rebootCheck(ctx context.Context, logger *telemetry.Logger, r *run) error {
	r.rebootNeeded = w.provider.RebootRequired(ctx)
	w.deps.Telemetry.Metrics.SetRebootRequired(r.rebootNeeded)
	if !r.rebootNeeded {
		return nil
	}
	r.counts[CountRebootRequired] = 1
	logger.Warn("reboot required to finish applying updates")

	if !w.opts.RebootIfRequired || w.opts.NoReboot {
		return nil
	}

	if w.deps.Context.Headless() {
		if err := w.scheduleReboot(ctx, logger, r); err != nil {
			logger.Error("failed to schedule reboot", telemetry.Fields{"error": err.Error()})
		}
		return nil
	}

	req := engine.ActionRequest{
		Description: "Reboot now to finish applying updates",
		Command:     engine.Command("shutdown", "-r", "now"),
	}
	if w.deps.Gate.Authorize(req) == engine.Skip {
		logger.Info("reboot postponed by operator")
		return nil
	}
	if err := w.deps.Exec.Detach(ctx, req.Command); err != nil {
		logger.Error("failed to start reboot", telemetry.Fields{"error": err.Error()})
	}
	return nil
}

// scheduleReboot starts a deferred reboot and does not wait for it.
func (w *Workflow) scheduleReboot(ctx context.Context, logger *telemetry.Logger, r *run) error {
	minutes := int(w.opts.RebootDelay.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}

	spec := engine.Command("shutdown", "-r", "+"+strconv.Itoa(minutes), "sysmaint: rebooting to finish updates")
	if err := w.deps.Exec.Detach(ctx, spec); err != nil {
		return err
	}

	at := w.deps.Clock().UTC().Add(time.Duration(minutes) * time.Minute)
	if !w.deps.Context.DryRun() {
		r.reboot = &engine.RebootSchedule{ScheduledFor: at, CancelCommand: RebootCancelCommand}
	}
	logger.Warn("reboot scheduled", telemetry.Fields{
		"scheduled_for":  at.Format(time.RFC3339),
		"cancel_command": RebootCancelCommand,
	})
	return nil
}

// intersect keeps the members of want that appear in have, in want's order.
func intersect(want, have []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	out := make([]string, 0, len(want))
	for _, w := range want {
		if _, ok := set[w]; ok {
			out = append(out, w)
		}
	}
	return out
}
