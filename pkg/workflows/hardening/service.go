package hardening

import (
	"context"
	"fmt"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
)

// services drives systemd units through the executor.
type services struct {
	exec *executor.Executor
}

// isActive reports whether unit is running. It is a read-only query.
func (s services) isActive(ctx context.Context, unit string) bool {
	spec := engine.Command("systemctl", "is-active", "--quiet", unit)
	spec.OkCodes = []int{1, 2, 3, 4}
	res, err := s.exec.Query(ctx, spec)
	return err == nil && res.ExitCode == 0
}

// enableNow enables and starts unit.
func (s services) enableNow(ctx context.Context, unit string) error {
	if _, err := s.exec.Mutate(ctx, engine.Command("systemctl", "enable", "--now", unit)); err != nil {
		return fmt.Errorf("failed to enable %s: %w", unit, err)
	}
	return nil
}

// reload reloads the first of units that systemd accepts.
func (s services) reload(ctx context.Context, units ...string) error {
	var lastErr error
	for _, unit := range units {
		_, err := s.exec.Mutate(ctx, engine.Command("systemctl", "reload", unit))
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("failed to reload %v: %w", units, lastErr)
}
