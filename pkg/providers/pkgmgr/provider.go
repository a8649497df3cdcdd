// Package pkgmgr adapts the distribution package managers (apt, dnf/yum,
// pacman and zypper) to one capability set used by the workflows.
//
// Every adapter routes its commands through an executor.Executor: read-only
// queries always run, mutating commands are simulated under dry-run.
package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
)

// ErrNoSecurityClass is returned by SecurityUpdates on backends that do not
// publish security advisories separately from ordinary updates.
var ErrNoSecurityClass = errors.New("backend has no security-only update class")

// Package is one upgrade candidate.
type Package struct {
	Name             string `json:"name"`
	CurrentVersion   string `json:"current_version,omitempty"`
	CandidateVersion string `json:"candidate_version"`
	Security         bool   `json:"security,omitempty"`
}

// UpgradeResult describes what an upgrade actually did.
type UpgradeResult struct {
	// FullUpgrade is set when the backend upgraded the whole system instead
	// of the requested subset.
	FullUpgrade bool
	Simulated   bool
}

// Provider is the capability set every package-manager backend exposes.
type Provider interface {
	// Name returns the backend identifier.
	Name() string

	RefreshCache(ctx context.Context) error
	ListUpgradable(ctx context.Context) ([]Package, error)

	// SecurityUpdates returns the names of pending security updates, or
	// ErrNoSecurityClass.
	SecurityUpdates(ctx context.Context) ([]string, error)

	// PlanUpgrade returns the command Upgrade would run.
	PlanUpgrade(packages []string, securityOnly bool) engine.CommandSpec
	Upgrade(ctx context.Context, packages []string, securityOnly bool) (UpgradeResult, error)

	Install(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
	IsInstalled(ctx context.Context, name string) (bool, error)

	// RebootRequired reports whether the host needs a reboot. When the
	// backend cannot tell, it reports false.
	RebootRequired(ctx context.Context) bool

	Clean(ctx context.Context) error
}

// Options configures a backend.
type Options struct {
	// ExtraArgs are appended to every mutating command.
	ExtraArgs []string
}

// base holds what every backend shares.
type base struct {
	exec      *executor.Executor
	logger    *telemetry.Logger
	extraArgs []string
	env       []string
}

func newBase(name string, exec *executor.Executor, opts Options) base {
	return base{
		exec:      exec,
		logger:    exec.Logger().NewComponentLogger("pkgmgr").WithField("backend", name),
		extraArgs: opts.ExtraArgs,
	}
}

// command builds a mutating command with the configured extra arguments.
func (b *base) command(program string, args ...string) engine.CommandSpec {
	all := make([]string, 0, len(args)+len(b.extraArgs))
	all = append(all, args...)
	all = append(all, b.extraArgs...)
	return engine.CommandSpec{Program: program, Args: all, Env: b.env}
}

// query builds a read-only command.
func (b *base) query(program string, args ...string) engine.CommandSpec {
	return engine.CommandSpec{Program: program, Args: args, Env: b.env}
}

func (b *base) mutate(ctx context.Context, spec engine.CommandSpec) (executor.Result, error) {
	return b.exec.Mutate(ctx, spec)
}

// install is the shared install path: a package that is already installed
// is a no-op success, and notFound markers in the output become
// PackageNotFound.
func (b *base) install(ctx context.Context, name string, isInstalled func(context.Context, string) (bool, error), spec engine.CommandSpec, notFound []string) error {
	if err := validatePackageName(name); err != nil {
		return err
	}

	installed, err := isInstalled(ctx, name)
	if err != nil {
		return err
	}
	if installed {
		b.logger.Info("package already installed", telemetry.Fields{"package": name})
		return nil
	}

	res, err := b.mutate(ctx, spec)
	if err != nil {
		if containsAny(res.Stdout+res.Stderr, notFound) {
			return engine.NewPackageNotFound(name)
		}
		return err
	}
	b.logger.Info("package installed", telemetry.Fields{"package": name, "dry_run": res.Simulated})
	return nil
}

// remove is the shared remove path: removing a package that is not
// installed is PackageNotFound.
func (b *base) remove(ctx context.Context, name string, isInstalled func(context.Context, string) (bool, error), spec engine.CommandSpec) error {
	if err := validatePackageName(name); err != nil {
		return err
	}

	installed, err := isInstalled(ctx, name)
	if err != nil {
		return err
	}
	if !installed {
		return engine.NewPackageNotFound(name)
	}

	res, err := b.mutate(ctx, spec)
	if err != nil {
		return err
	}
	b.logger.Info("package removed", telemetry.Fields{"package": name, "dry_run": res.Simulated})
	return nil
}

// queryInstalled runs a query whose exit status 0 means installed and 1
// means not installed.
func (b *base) queryInstalled(ctx context.Context, spec engine.CommandSpec) (bool, error) {
	spec.OkCodes = []int{1}
	res, err := b.exec.Query(ctx, spec)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// validatePackageName rejects names that a package manager would parse as
// an option.
func validatePackageName(name string) error {
	if name == "" {
		return engine.NewValidationFailed("package name is required", nil)
	}
	if strings.HasPrefix(name, "-") || strings.ContainsAny(name, " \t\n") {
		return engine.NewValidationFailed(fmt.Sprintf("invalid package name %q", name), nil)
	}
	return nil
}

func containsAny(s string, markers []string) bool {
	lower := strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Names returns the package names in pkgs.
func Names(pkgs []Package) []string {
	out := make([]string, len(pkgs))
	for i, p := range pkgs {
		out[i] = p.Name
	}
	return out
}
