package pkgmgr

import (
	"context"
	"strings"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
)

// dnfRebootMessage is printed by needs-restarting -r when a reboot is due.
const dnfRebootMessage = "reboot is required"

var dnfNotFound = []string{"no match for argument", "unable to find a match", "no package"}

// Dnf drives dnf (or yum, which takes the same arguments) on Fedora and
// RHEL-family hosts.
type Dnf struct {
	base
	program string
}

// NewDnf creates the dnf backend. program is "dnf" or "yum".
func NewDnf(program string, exec *executor.Executor, opts Options) *Dnf {
	if program == "" {
		program = "dnf"
	}
	return &Dnf{base: newBase(program, exec, opts), program: program}
}

// Name implements Provider.
func (d *Dnf) Name() string { return d.program }

// RefreshCache implements Provider.
func (d *Dnf) RefreshCache(ctx context.Context) error {
	_, err := d.mutate(ctx, d.command(d.program, "makecache", "-q"))
	return err
}

// ListUpgradable implements Provider. check-update exits 100 when updates
// are available.
func (d *Dnf) ListUpgradable(ctx context.Context) ([]Package, error) {
	spec := d.query(d.program, "check-update", "-q")
	spec.OkCodes = []int{100}
	res, err := d.exec.Query(ctx, spec)
	if err != nil {
		return nil, err
	}
	pkgs := parseDnfCheckUpdate(res.Stdout)
	if len(pkgs) == 0 {
		return nil, nil
	}

	current, err := d.installedVersions(ctx, Names(pkgs))
	if err != nil {
		d.logger.Warn("could not read installed versions", telemetry.Fields{"error": err.Error()})
	}
	for i := range pkgs {
		pkgs[i].CurrentVersion = current[pkgs[i].Name]
	}
	pkgs = filterNewer(pkgs, rpmNewer)
	d.logger.Debug("listed upgradable packages", telemetry.Fields{"count": len(pkgs)})
	return pkgs, nil
}

// parseDnfCheckUpdate parses `dnf check-update` rows of the form
// "name.arch  version-release  repo", stopping at the obsoletes section.
func parseDnfCheckUpdate(out string) []Package {
	var pkgs []Package
	seen := make(map[string]bool)
	for _, line := range nonEmptyLines(out) {
		if strings.HasPrefix(line, "Obsoleting") || strings.HasPrefix(line, "Security:") {
			break
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			continue
		}
		name := fields[0]
		if i := strings.LastIndex(name, "."); i > 0 {
			name = name[:i]
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		pkgs = append(pkgs, Package{Name: name, CandidateVersion: fields[1]})
	}
	return pkgs
}

func (d *Dnf) installedVersions(ctx context.Context, names []string) (map[string]string, error) {
	versions := make(map[string]string, len(names))
	args := append([]string{"-q", "--queryformat", `%{NAME} %|EPOCH?{%{EPOCH}:}:{}|%{VERSION}-%{RELEASE}\n`}, names...)
	spec := d.query("rpm", args...)
	spec.OkCodes = []int{1}
	res, err := d.exec.Query(ctx, spec)
	if err != nil {
		return versions, err
	}
	for _, line := range nonEmptyLines(res.Stdout) {
		fields := strings.Fields(line)
		if len(fields) == 2 {
			versions[fields[0]] = fields[1]
		}
	}
	return versions, nil
}

// SecurityUpdates implements Provider.
func (d *Dnf) SecurityUpdates(ctx context.Context) ([]string, error) {
	res, err := d.exec.Query(ctx, d.query(d.program, "updateinfo", "list", "--security", "-q"))
	if err != nil {
		return nil, err
	}
	var names []string
	seen := make(map[string]bool)
	for _, line := range nonEmptyLines(res.Stdout) {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		name := nevraName(fields[len(fields)-1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// nevraName extracts the package name from name-version-release.arch.
func nevraName(nevra string) string {
	if i := strings.LastIndex(nevra, "."); i > 0 {
		nevra = nevra[:i]
	}
	for n := 0; n < 2; n++ {
		i := strings.LastIndex(nevra, "-")
		if i <= 0 {
			return ""
		}
		nevra = nevra[:i]
	}
	return nevra
}

// PlanUpgrade implements Provider.
func (d *Dnf) PlanUpgrade(packages []string, securityOnly bool) engine.CommandSpec {
	if securityOnly {
		return d.command(d.program, "upgrade", "-y", "--security")
	}
	return d.command(d.program, append([]string{"upgrade", "-y"}, packages...)...)
}

// Upgrade implements Provider.
func (d *Dnf) Upgrade(ctx context.Context, packages []string, securityOnly bool) (UpgradeResult, error) {
	res, err := d.mutate(ctx, d.PlanUpgrade(packages, securityOnly))
	if err != nil {
		return UpgradeResult{}, err
	}
	return UpgradeResult{Simulated: res.Simulated}, nil
}

// Install implements Provider.
func (d *Dnf) Install(ctx context.Context, name string) error {
	return d.install(ctx, name, d.IsInstalled, d.command(d.program, "install", "-y", name), dnfNotFound)
}

// Remove implements Provider.
func (d *Dnf) Remove(ctx context.Context, name string) error {
	return d.remove(ctx, name, d.IsInstalled, d.command(d.program, "remove", "-y", name))
}

// IsInstalled implements Provider.
func (d *Dnf) IsInstalled(ctx context.Context, name string) (bool, error) {
	if err := validatePackageName(name); err != nil {
		return false, err
	}
	return d.queryInstalled(ctx, d.query("rpm", "-q", name))
}

// RebootRequired implements Provider. needs-restarting -r exits 1 when a
// reboot is needed; dnf5 ships it as a dnf subcommand. dnf4 also exits 1 for
// an unknown subcommand, so that form only counts with the reboot message.
func (d *Dnf) RebootRequired(ctx context.Context) bool {
	spec := d.query("needs-restarting", "-r")
	spec.OkCodes = []int{1}
	if res, err := d.exec.Query(ctx, spec); err == nil {
		return res.ExitCode == 1
	}

	spec = d.query(d.program, "needs-restarting", "-r")
	spec.OkCodes = []int{1}
	if res, err := d.exec.Query(ctx, spec); err == nil {
		return res.ExitCode == 1 && strings.Contains(strings.ToLower(res.Stdout), dnfRebootMessage)
	}

	d.logger.Debug("reboot signal unavailable; assuming no reboot needed")
	return false
}

// Clean implements Provider.
func (d *Dnf) Clean(ctx context.Context) error {
	_, err := d.mutate(ctx, d.command(d.program, "clean", "packages"))
	return err
}
