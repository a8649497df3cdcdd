package hardening

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
	"github.com/sysmaint/sysmaint/pkg/fsutil"
	"github.com/sysmaint/sysmaint/pkg/policy"
	"github.com/sysmaint/sysmaint/pkg/stores"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
	"github.com/sysmaint/sysmaint/pkg/workflows"
)

// BackupSuffix is appended to the sshd config path for the one-time backup.
const BackupSuffix = ".sysmaint.bak"

// SSHConfig configures HardenSSH.
type SSHConfig struct {
	ConfigPath          string
	Settings            map[string]string
	// AuthorizedKeysPaths overrides discovery of ~/.ssh/authorized_keys
	// for the login accounts in PasswdPath.
	AuthorizedKeysPaths []string
	PasswdPath          string

	// SSHDBinary validates the candidate config; defaults to "sshd".
	SSHDBinary string
}

// sshHardener is the HardenSSH step.
type sshHardener struct {
	cfg      SSHConfig
	lockDir  string
	exec     *executor.Executor
	gate     engine.Authorizer
	policy   *policy.Engine
	services services
}

func (h *sshHardener) backupPath() string {
	return h.cfg.ConfigPath + BackupSuffix
}

// Run rewrites the sshd config, validates it and reloads sshd. A config that
// fails validation is restored byte for byte from the snapshot taken before
// the write.
func (h *sshHardener) Run(ctx context.Context, logger *telemetry.Logger) error {
	dryRun := h.exec.Context().DryRun()
	path := h.cfg.ConfigPath

	if !dryRun && h.lockDir != "" {
		lock, err := stores.AcquireLock(h.lockDir, "sshd")
		if err != nil {
			return err
		}
		defer func() { _ = lock.Release() }()
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	mode := fsutil.FileMode(path, 0o600)

	desired := normalizeSettings(h.cfg.Settings)
	rootLogin, ok := desired["permitrootlogin"]
	if !ok {
		rootLogin = parseSSHDSettings(string(original))["permitrootlogin"]
	}
	files := authorizedKeyFiles(h.cfg.AuthorizedKeysPaths, h.cfg.PasswdPath, logger)
	keys := countAuthorizedKeys(files, rootKeyLoginAllowed(rootLogin), logger)
	desired = guardPasswordAuthentication(desired, keys, files, logger)

	updated, edits := rewriteSSHDConfig(string(original), desired)
	if len(edits) == 0 {
		logger.Info("sshd configuration already hardened", telemetry.Fields{"path": path})
		return nil
	}

	req := engine.ActionRequest{
		Description: fmt.Sprintf("Harden %s (%d setting(s)) and reload sshd", path, len(edits)),
		Command:     engine.Command(h.sshd(), "-t", "-f", path),
		Reversible:  true,
	}
	if h.gate.Authorize(req) == engine.Skip {
		return workflows.Skipped("operator declined sshd hardening")
	}

	if err := h.ensureBackup(ctx, logger, original); err != nil {
		return err
	}

	if err := h.exec.WriteFile(ctx, path, []byte(updated), mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	for _, e := range edits {
		logger.Info("sshd setting changed", telemetry.Fields{"keyword": e.Keyword, "from": e.From, "to": e.To})
	}

	if err := h.validate(ctx, logger, updated, desired, keys); err != nil {
		return h.rollback(ctx, logger, original, mode, err)
	}

	if err := h.services.reload(ctx, "sshd", "ssh"); err != nil {
		return h.rollback(ctx, logger, original, mode, err)
	}
	logger.Info("sshd reloaded")
	return nil
}

func (h *sshHardener) sshd() string {
	if h.cfg.SSHDBinary != "" {
		return h.cfg.SSHDBinary
	}
	return "sshd"
}

// guardPasswordAuthentication drops PasswordAuthentication no when no key
// could be used to log in afterwards.
func guardPasswordAuthentication(desired map[string]string, keys int, files []keyFile, logger *telemetry.Logger) map[string]string {
	if keys > 0 || desired["passwordauthentication"] != "no" {
		return desired
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		paths = append(paths, f.path)
	}
	delete(desired, "passwordauthentication")
	logger.Warn("no usable authorized keys found; leaving PasswordAuthentication unchanged", telemetry.Fields{
		"authorized_keys_paths": paths,
	})
	return desired
}

// ensureBackup copies the original config once; an existing backup from an
// earlier run is kept.
func (h *sshHardener) ensureBackup(ctx context.Context, logger *telemetry.Logger, original []byte) error {
	backup := h.backupPath()
	_, err := os.Stat(backup)
	switch {
	case err == nil:
		logger.Debug("sshd backup already exists", telemetry.Fields{"path": backup})
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("failed to check backup %s: %w", backup, err)
	}

	if err := h.exec.WriteFile(ctx, backup, original, 0o600); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	logger.Info("sshd configuration backed up", telemetry.Fields{"path": backup})
	return nil
}

// validate runs sshd's own syntax check on the written file, confirms that
// no included file overrides a desired setting, then runs the policy
// baseline on the settings sshd will actually use.
func (h *sshHardener) validate(ctx context.Context, logger *telemetry.Logger, updated string, desired map[string]string, keys int) error {
	path := h.cfg.ConfigPath
	settings := parseSSHDSettings(updated)

	if h.exec.Context().DryRun() {
		logger.Debug("would validate sshd configuration", telemetry.Fields{"command": h.sshd() + " -t -f " + path})
	} else {
		if _, err := h.exec.Query(ctx, engine.Command(h.sshd(), "-t", "-f", path)); err != nil {
			return engine.NewValidationFailed(fmt.Sprintf("sshd rejected %s", path), err)
		}

		res, err := h.exec.Query(ctx, engine.Command(h.sshd(), "-T", "-f", path))
		if err != nil {
			return engine.NewValidationFailed("sshd could not report its effective configuration", err)
		}
		effective := parseEffectiveSettings(res.Stdout)
		if overridden := overriddenSettings(desired, effective); len(overridden) > 0 {
			return engine.NewValidationFailed(fmt.Sprintf(
				"settings overridden by an included file: %s", strings.Join(overridden, ", ")), nil)
		}
		for k := range settings {
			if v, ok := effective[k]; ok {
				settings[k] = v
			}
		}
	}

	result, err := h.policy.EvaluateSSH(ctx, policy.NewSSHInput(settings, keys))
	if err != nil {
		return engine.NewValidationFailed("sshd policy evaluation failed", err)
	}
	for _, w := range result.Warnings {
		logger.Warn("sshd policy warning", telemetry.Fields{"warning": w})
	}
	for _, v := range result.Violations {
		if !v.Severity.Blocking() {
			logger.Warn("sshd policy advisory", telemetry.Fields{"policy": v.Policy, "message": v.Message})
		}
	}
	return result.Err()
}

// rollback restores the pre-write snapshot and returns cause.
func (h *sshHardener) rollback(ctx context.Context, logger *telemetry.Logger, original []byte, mode os.FileMode, cause error) error {
	if err := h.exec.WriteFile(ctx, h.cfg.ConfigPath, original, mode); err != nil {
		logger.Error("sshd rollback failed; restore manually from backup", telemetry.Fields{
			"backup": h.backupPath(),
			"error":  err.Error(),
		})
		return fmt.Errorf("%w (rollback failed: %v)", cause, err)
	}
	logger.Warn("sshd configuration rolled back", telemetry.Fields{"path": h.cfg.ConfigPath, "reason": cause.Error()})
	return cause
}
