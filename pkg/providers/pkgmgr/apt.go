package pkgmgr

import (
	"context"
	"os"
	"strings"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
)

const aptRebootMarker = "/var/run/reboot-required"

var aptNotFound = []string{"unable to locate package", "has no installation candidate"}

// Apt drives apt-get and dpkg on Debian and Ubuntu.
type Apt struct {
	base
	rebootMarker string
}

// NewApt creates the apt backend.
func NewApt(exec *executor.Executor, opts Options) *Apt {
	b := newBase("apt", exec, opts)
	b.env = []string{"DEBIAN_FRONTEND=noninteractive"}
	return &Apt{base: b, rebootMarker: aptRebootMarker}
}

// Name implements Provider.
func (a *Apt) Name() string { return "apt" }

// RefreshCache implements Provider.
func (a *Apt) RefreshCache(ctx context.Context) error {
	_, err := a.mutate(ctx, a.command("apt-get", "update", "-q"))
	return err
}

// ListUpgradable implements Provider.
func (a *Apt) ListUpgradable(ctx context.Context) ([]Package, error) {
	res, err := a.exec.Query(ctx, a.query("apt", "list", "--upgradable"))
	if err != nil {
		return nil, err
	}
	pkgs := filterNewer(parseAptUpgradable(res.Stdout), debNewer)
	a.logger.Debug("listed upgradable packages", telemetry.Fields{"count": len(pkgs)})
	return pkgs, nil
}

// parseAptUpgradable parses `apt list --upgradable` lines such as
//
//	curl/jammy-updates,jammy-security 7.81.0-1ubuntu1.15 amd64 [upgradable from: 7.81.0-1ubuntu1.14]
func parseAptUpgradable(out string) []Package {
	var pkgs []Package
	for _, line := range nonEmptyLines(out) {
		fields := strings.Fields(line)
		if len(fields) < 3 || !strings.Contains(fields[0], "/") {
			continue
		}
		name, suites, _ := strings.Cut(fields[0], "/")
		p := Package{
			Name:             name,
			CandidateVersion: fields[1],
			Security:         strings.Contains(suites, "-security"),
		}
		if _, from, ok := strings.Cut(line, "[upgradable from: "); ok {
			p.CurrentVersion = strings.TrimSuffix(strings.TrimSpace(from), "]")
		}
		pkgs = append(pkgs, p)
	}
	return pkgs
}

// SecurityUpdates implements Provider. A candidate is a security update
// when it comes from a -security suite.
func (a *Apt) SecurityUpdates(ctx context.Context) ([]string, error) {
	pkgs, err := a.ListUpgradable(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, p := range pkgs {
		if p.Security {
			names = append(names, p.Name)
		}
	}
	return names, nil
}

// PlanUpgrade implements Provider.
func (a *Apt) PlanUpgrade(packages []string, securityOnly bool) engine.CommandSpec {
	args := []string{
		"-y", "-q",
		"-o", "Dpkg::Options::=--force-confdef",
		"-o", "Dpkg::Options::=--force-confold",
	}
	if len(packages) == 0 {
		return a.command("apt-get", append([]string{"upgrade"}, args...)...)
	}
	args = append([]string{"install", "--only-upgrade"}, args...)
	return a.command("apt-get", append(args, packages...)...)
}

// Upgrade implements Provider.
func (a *Apt) Upgrade(ctx context.Context, packages []string, securityOnly bool) (UpgradeResult, error) {
	res, err := a.mutate(ctx, a.PlanUpgrade(packages, securityOnly))
	if err != nil {
		return UpgradeResult{}, err
	}
	return UpgradeResult{Simulated: res.Simulated}, nil
}

// Install implements Provider.
func (a *Apt) Install(ctx context.Context, name string) error {
	return a.install(ctx, name, a.IsInstalled, a.command("apt-get", "install", "-y", "-q", name), aptNotFound)
}

// Remove implements Provider.
func (a *Apt) Remove(ctx context.Context, name string) error {
	return a.remove(ctx, name, a.IsInstalled, a.command("apt-get", "remove", "-y", "-q", name))
}

// IsInstalled implements Provider.
func (a *Apt) IsInstalled(ctx context.Context, name string) (bool, error) {
	if err := validatePackageName(name); err != nil {
		return false, err
	}
	spec := a.query("dpkg-query", "-W", "-f=${Status}", name)
	spec.OkCodes = []int{1}
	res, err := a.exec.Query(ctx, spec)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0 && strings.Contains(res.Stdout, "install ok installed"), nil
}

// RebootRequired implements Provider.
func (a *Apt) RebootRequired(_ context.Context) bool {
	_, err := os.Stat(a.rebootMarker)
	return err == nil
}

// Clean implements Provider.
func (a *Apt) Clean(ctx context.Context) error {
	_, err := a.mutate(ctx, a.command("apt-get", "clean"))
	return err
}
