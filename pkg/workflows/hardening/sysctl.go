package hardening

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
	"github.com/sysmaint/sysmaint/pkg/workflows"
)

const sysctlHeader = "# Managed by sysmaint. Local changes are overwritten.\n"

// sysctlBaseline is the ApplySysctlBaseline step.
type sysctlBaseline struct {
	path     string
	settings map[string]string
	exec     *executor.Executor
	gate     engine.Authorizer
}

// renderSysctl renders settings as a sysctl.d drop-in with sorted keys.
func renderSysctl(settings map[string]string) []byte {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(sysctlHeader)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s = %s\n", k, settings[k])
	}
	return []byte(b.String())
}

// Run writes the drop-in and loads it.
func (s *sysctlBaseline) Run(ctx context.Context, logger *telemetry.Logger) error {
	if len(s.settings) == 0 {
		return workflows.Skipped("no sysctl settings configured")
	}

	content := renderSysctl(s.settings)
	if current, err := os.ReadFile(s.path); err == nil && bytes.Equal(current, content) {
		logger.Info("sysctl baseline already applied", telemetry.Fields{"path": s.path})
		return nil
	}

	apply := engine.Command("sysctl", "--system")
	req := engine.ActionRequest{
		Description: fmt.Sprintf("Write %d kernel parameter(s) to %s and reload", len(s.settings), s.path),
		Command:     apply,
	}
	if s.gate.Authorize(req) == engine.Skip {
		return workflows.Skipped("operator declined sysctl baseline")
	}

	if err := s.exec.WriteFile(ctx, s.path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	if _, err := s.exec.Mutate(ctx, apply); err != nil {
		return err
	}
	logger.Info("sysctl baseline applied", telemetry.Fields{"path": s.path, "settings": len(s.settings)})
	return nil
}
