package pkgmgr

import (
	"context"
	"strings"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
)

var pacmanNotFound = []string{"target not found"}

// Pacman drives pacman on Arch Linux. Arch does not support partial
// upgrades, so every upgrade is a full system upgrade.
type Pacman struct {
	base
	kernel kernelCheck
}

// NewPacman creates the pacman backend.
func NewPacman(exec *executor.Executor, opts Options) *Pacman {
	return &Pacman{base: newBase("pacman", exec, opts), kernel: newKernelCheck()}
}

// Name implements Provider.
func (p *Pacman) Name() string { return "pacman" }

// RefreshCache implements Provider.
func (p *Pacman) RefreshCache(ctx context.Context) error {
	_, err := p.mutate(ctx, p.command("pacman", "-Sy", "--noconfirm"))
	return err
}

// ListUpgradable implements Provider. pacman -Qu exits 1 when nothing is
// upgradable.
func (p *Pacman) ListUpgradable(ctx context.Context) ([]Package, error) {
	spec := p.query("pacman", "-Qu")
	spec.OkCodes = []int{1}
	res, err := p.exec.Query(ctx, spec)
	if err != nil {
		return nil, err
	}
	pkgs := filterNewer(parsePacmanQu(res.Stdout), rpmNewer)
	p.logger.Debug("listed upgradable packages", telemetry.Fields{"count": len(pkgs)})
	return pkgs, nil
}

// parsePacmanQu parses "name old -> new" lines; held packages carry an
// "[ignored]" suffix and are skipped.
func parsePacmanQu(out string) []Package {
	var pkgs []Package
	for _, line := range nonEmptyLines(out) {
		if strings.HasSuffix(line, "[ignored]") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 || fields[2] != "->" {
			continue
		}
		pkgs = append(pkgs, Package{Name: fields[0], CurrentVersion: fields[1], CandidateVersion: fields[3]})
	}
	return pkgs
}

// SecurityUpdates implements Provider.
func (p *Pacman) SecurityUpdates(_ context.Context) ([]string, error) {
	return nil, ErrNoSecurityClass
}

// PlanUpgrade implements Provider. The arguments are ignored: pacman always
// upgrades the whole system.
func (p *Pacman) PlanUpgrade(_ []string, _ bool) engine.CommandSpec {
	return p.command("pacman", "-Syu", "--noconfirm")
}

// Upgrade implements Provider.
func (p *Pacman) Upgrade(ctx context.Context, packages []string, securityOnly bool) (UpgradeResult, error) {
	if securityOnly || len(packages) > 0 {
		p.logger.Warn("pacman has no partial or security-only upgrades; performing full system upgrade",
			telemetry.Fields{"security_only": securityOnly, "requested": len(packages)})
	}
	res, err := p.mutate(ctx, p.PlanUpgrade(packages, securityOnly))
	if err != nil {
		return UpgradeResult{}, err
	}
	return UpgradeResult{FullUpgrade: true, Simulated: res.Simulated}, nil
}

// Install implements Provider.
func (p *Pacman) Install(ctx context.Context, name string) error {
	return p.install(ctx, name, p.IsInstalled, p.command("pacman", "-S", "--noconfirm", "--needed", name), pacmanNotFound)
}

// Remove implements Provider.
func (p *Pacman) Remove(ctx context.Context, name string) error {
	return p.remove(ctx, name, p.IsInstalled, p.command("pacman", "-R", "--noconfirm", name))
}

// IsInstalled implements Provider.
func (p *Pacman) IsInstalled(ctx context.Context, name string) (bool, error) {
	if err := validatePackageName(name); err != nil {
		return false, err
	}
	return p.queryInstalled(ctx, p.query("pacman", "-Q", name))
}

// RebootRequired implements Provider. The running kernel needs replacing
// when its module tree is gone or the installed linux package is newer.
func (p *Pacman) RebootRequired(ctx context.Context) bool {
	running := p.kernel.running()
	if running == "" {
		return false
	}
	if p.kernel.modulesRemoved(running) {
		return true
	}

	res, err := p.exec.Query(ctx, p.query("pacman", "-Q", "linux"))
	if err != nil {
		return false
	}
	fields := strings.Fields(res.Stdout)
	if len(fields) != 2 {
		return false
	}
	// uname reports 6.7.4-arch1-1 for package version 6.7.4.arch1-1.
	normalized := strings.Replace(running, "-arch", ".arch", 1)
	return rpmNewer(normalized, fields[1])
}

// Clean implements Provider.
func (p *Pacman) Clean(ctx context.Context) error {
	_, err := p.mutate(ctx, p.command("pacman", "-Sc", "--noconfirm"))
	return err
}
