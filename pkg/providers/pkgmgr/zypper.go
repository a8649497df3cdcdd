package pkgmgr

import (
	"context"
	"os"
	"strings"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
)

const zypperRebootMarker = "/run/reboot-needed"

// zypper informational exit codes: 100 updates needed, 101 security updates
// needed, 102 reboot needed, 103 restart of zypper needed.
var zypperInfoCodes = []int{100, 101, 102, 103}

var zypperNotFound = []string{"not found in package names", "no provider of"}

// Zypper drives zypper on openSUSE and SLES.
type Zypper struct {
	base
	rebootMarker string
	kernel       kernelCheck
}

// NewZypper creates the zypper backend.
func NewZypper(exec *executor.Executor, opts Options) *Zypper {
	return &Zypper{
		base:         newBase("zypper", exec, opts),
		rebootMarker: zypperRebootMarker,
		kernel:       newKernelCheck(),
	}
}

// Name implements Provider.
func (z *Zypper) Name() string { return "zypper" }

func (z *Zypper) zcommand(args ...string) engine.CommandSpec {
	spec := z.command("zypper", append([]string{"--non-interactive"}, args...)...)
	spec.OkCodes = zypperInfoCodes
	return spec
}

func (z *Zypper) zquery(args ...string) engine.CommandSpec {
	spec := z.query("zypper", append([]string{"--non-interactive", "--quiet"}, args...)...)
	spec.OkCodes = zypperInfoCodes
	return spec
}

// RefreshCache implements Provider.
func (z *Zypper) RefreshCache(ctx context.Context) error {
	_, err := z.mutate(ctx, z.zcommand("refresh"))
	return err
}

// ListUpgradable implements Provider.
func (z *Zypper) ListUpgradable(ctx context.Context) ([]Package, error) {
	res, err := z.exec.Query(ctx, z.zquery("list-updates"))
	if err != nil {
		return nil, err
	}
	var pkgs []Package
	for _, row := range parseZypperTable(res.Stdout, 6) {
		pkgs = append(pkgs, Package{Name: row[2], CurrentVersion: row[3], CandidateVersion: row[4]})
	}
	pkgs = filterNewer(pkgs, rpmNewer)
	z.logger.Debug("listed upgradable packages", telemetry.Fields{"count": len(pkgs)})
	return pkgs, nil
}

// parseZypperTable returns the data rows of a zypper table with cols
// columns, skipping the header and separator lines.
func parseZypperTable(out string, cols int) [][]string {
	var rows [][]string
	for _, line := range nonEmptyLines(out) {
		if strings.HasPrefix(line, "--") || strings.HasPrefix(line, "-+") {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != cols {
			continue
		}
		for j := range parts {
			parts[j] = strings.TrimSpace(parts[j])
		}
		if parts[0] == "S" || parts[0] == "Repository" {
			continue
		}
		rows = append(rows, parts)
	}
	return rows
}

// SecurityUpdates implements Provider. zypper reports security fixes as
// patches, so the returned names are patch identifiers.
func (z *Zypper) SecurityUpdates(ctx context.Context) ([]string, error) {
	res, err := z.exec.Query(ctx, z.zquery("list-patches", "--category", "security"))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, row := range parseZypperTable(res.Stdout, 7) {
		if strings.EqualFold(row[5], "needed") {
			names = append(names, row[1])
		}
	}
	return names, nil
}

// PlanUpgrade implements Provider.
func (z *Zypper) PlanUpgrade(packages []string, securityOnly bool) engine.CommandSpec {
	if securityOnly {
		return z.zcommand("patch", "--category", "security")
	}
	return z.zcommand(append([]string{"update"}, packages...)...)
}

// Upgrade implements Provider.
func (z *Zypper) Upgrade(ctx context.Context, packages []string, securityOnly bool) (UpgradeResult, error) {
	res, err := z.mutate(ctx, z.PlanUpgrade(packages, securityOnly))
	if err != nil {
		return UpgradeResult{}, err
	}
	return UpgradeResult{Simulated: res.Simulated}, nil
}

// Install implements Provider.
func (z *Zypper) Install(ctx context.Context, name string) error {
	return z.install(ctx, name, z.IsInstalled, z.zcommand("install", name), zypperNotFound)
}

// Remove implements Provider.
func (z *Zypper) Remove(ctx context.Context, name string) error {
	return z.remove(ctx, name, z.IsInstalled, z.zcommand("remove", name))
}

// IsInstalled implements Provider.
func (z *Zypper) IsInstalled(ctx context.Context, name string) (bool, error) {
	if err := validatePackageName(name); err != nil {
		return false, err
	}
	return z.queryInstalled(ctx, z.query("rpm", "-q", name))
}

// RebootRequired implements Provider.
func (z *Zypper) RebootRequired(ctx context.Context) bool {
	if _, err := os.Stat(z.rebootMarker); err == nil {
		return true
	}

	spec := z.query("zypper", "needs-rebooting")
	spec.OkCodes = []int{102}
	if res, err := z.exec.Query(ctx, spec); err == nil {
		return res.ExitCode == 102
	}

	return z.kernel.modulesRemoved(z.kernel.running())
}

// Clean implements Provider.
func (z *Zypper) Clean(ctx context.Context) error {
	_, err := z.mutate(ctx, z.zcommand("clean", "--all"))
	return err
}
