// Package privilege checks that sysmaint runs with the rights it needs.
package privilege

import (
	"os"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
)

// geteuid is replaced in tests.
var geteuid = os.Geteuid

// RequireElevated returns PermissionDenied unless the effective UID is 0.
func RequireElevated() error {
	if geteuid() != 0 {
		return engine.NewPermissionDenied("sysmaint must run as root (try sudo)")
	}
	return nil
}

// Check enforces RequireElevated for a run. Under dry-run nothing mutates, so
// a missing privilege is reported as a warning and the run continues.
func Check(ectx *engine.ExecutionContext, logger *telemetry.Logger) error {
	err := RequireElevated()
	if err == nil {
		return nil
	}
	if ectx.DryRun() {
		logger.Warn("not running as root; continuing because this is a dry run", telemetry.Fields{
			"euid": geteuid(),
		})
		return nil
	}
	return err
}
