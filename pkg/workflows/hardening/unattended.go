package hardening

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
	"github.com/sysmaint/sysmaint/pkg/providers/pkgmgr"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
	"github.com/sysmaint/sysmaint/pkg/workflows"
)

// AptAutoUpgrades turns on the daily apt timers that drive
// unattended-upgrades.
const AptAutoUpgrades = "APT::Periodic::Update-Package-Lists \"1\";\nAPT::Periodic::Unattended-Upgrade \"1\";\n"

// autoUpdater describes how a backend applies updates on its own.
type autoUpdater struct {
	pkg string
	// unit is enabled with systemctl; empty for apt, which uses a config file.
	unit string
}

var autoUpdaters = map[string]autoUpdater{
	"apt": {pkg: "unattended-upgrades"},
	"dnf": {pkg: "dnf-automatic", unit: "dnf-automatic.timer"},
	"yum": {pkg: "yum-cron", unit: "yum-cron"},
}

// unattendedUpgrades is the EnableUnattendedUpgrades step.
type unattendedUpgrades struct {
	provider    pkgmgr.Provider
	exec        *executor.Executor
	gate        engine.Authorizer
	services    services
	aptConfPath string
}

// Run installs and enables the backend's automatic update tool.
func (u *unattendedUpgrades) Run(ctx context.Context, logger *telemetry.Logger) error {
	if u.provider == nil {
		return engine.NewBackendUnavailable("no package manager backend resolved", nil)
	}
	backend := u.provider.Name()
	tool, ok := autoUpdaters[backend]
	if !ok {
		logger.Warn("no automatic update tool for backend", telemetry.Fields{"backend": backend})
		return workflows.Skipped("automatic updates are not supported on %s", backend)
	}

	installed, err := u.provider.IsInstalled(ctx, tool.pkg)
	if err != nil {
		return err
	}
	configured := u.configured(ctx, tool)
	if installed && configured {
		logger.Info("automatic updates already enabled", telemetry.Fields{"package": tool.pkg})
		return nil
	}

	req := engine.ActionRequest{
		Description: fmt.Sprintf("Install %s and enable automatic updates", tool.pkg),
	}
	if !installed {
		req.Command = engine.Command(backend, "install", tool.pkg)
	}
	if u.gate.Authorize(req) == engine.Skip {
		return workflows.Skipped("operator declined automatic updates")
	}

	if !installed {
		if err := u.provider.Install(ctx, tool.pkg); err != nil {
			return err
		}
	}
	if configured {
		return nil
	}

	if tool.unit == "" {
		if err := u.exec.WriteFile(ctx, u.aptConfPath, []byte(AptAutoUpgrades), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", u.aptConfPath, err)
		}
		logger.Info("apt periodic upgrades configured", telemetry.Fields{"path": u.aptConfPath})
		return nil
	}
	return u.services.enableNow(ctx, tool.unit)
}

func (u *unattendedUpgrades) configured(ctx context.Context, tool autoUpdater) bool {
	if tool.unit != "" {
		return u.services.isActive(ctx, tool.unit)
	}
	data, err := os.ReadFile(u.aptConfPath)
	return err == nil && bytes.Equal(data, []byte(AptAutoUpgrades))
}
