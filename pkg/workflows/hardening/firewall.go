package hardening

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
	"github.com/sysmaint/sysmaint/pkg/workflows"
)

// ErrNoFirewall is returned when neither ufw nor firewalld is installed.
var ErrNoFirewall = errors.New("no supported firewall found (ufw, firewalld)")

// firewall is the ConfigureFirewall step. The management port is always
// allowed before incoming traffic is denied.
type firewall struct {
	port     int
	exec     *executor.Executor
	gate     engine.Authorizer
	services services
	lookPath func(string) (string, error)
}

// Run detects the firewall frontend and configures it.
func (f *firewall) Run(ctx context.Context, logger *telemetry.Logger) error {
	lookPath := f.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	switch {
	case found(lookPath, "ufw"):
		logger.Debug("using ufw")
		return f.ufw(ctx, logger)
	case found(lookPath, "firewall-cmd"):
		logger.Debug("using firewalld")
		return f.firewalld(ctx, logger)
	default:
		return ErrNoFirewall
	}
}

func found(lookPath func(string) (string, error), name string) bool {
	_, err := lookPath(name)
	return err == nil
}

func (f *firewall) ufw(ctx context.Context, logger *telemetry.Logger) error {
	rule := fmt.Sprintf("%d/tcp", f.port)
	if _, err := f.exec.Mutate(ctx, engine.Command("ufw", "allow", rule)); err != nil {
		return fmt.Errorf("failed to allow management port: %w", err)
	}
	logger.Info("management port allowed", telemetry.Fields{"port": f.port, "firewall": "ufw"})

	req := engine.ActionRequest{
		Description: fmt.Sprintf("Deny incoming traffic by default (port %d stays open) and enable ufw", f.port),
		Command:     engine.Command("ufw", "default", "deny", "incoming"),
	}
	if f.gate.Authorize(req) == engine.Skip {
		return workflows.Skipped("operator declined default-deny firewall policy")
	}

	if _, err := f.exec.Mutate(ctx, req.Command); err != nil {
		return err
	}
	if _, err := f.exec.Mutate(ctx, engine.Command("ufw", "--force", "enable")); err != nil {
		return err
	}
	logger.Info("firewall enabled with default deny", telemetry.Fields{"firewall": "ufw"})
	return nil
}

func (f *firewall) firewalld(ctx context.Context, logger *telemetry.Logger) error {
	port := fmt.Sprintf("--add-port=%d/tcp", f.port)
	active := f.services.isActive(ctx, "firewalld")

	allow := engine.Command("firewall-offline-cmd", "--zone=public", port)
	if active {
		allow = engine.Command("firewall-cmd", "--permanent", "--zone=public", port)
	}
	if _, err := f.exec.Mutate(ctx, allow); err != nil {
		return fmt.Errorf("failed to allow management port: %w", err)
	}
	logger.Info("management port allowed", telemetry.Fields{"port": f.port, "firewall": "firewalld"})

	deny := engine.Command("firewall-cmd", "--permanent", "--zone=public", "--set-target=DROP")
	req := engine.ActionRequest{
		Description: fmt.Sprintf("Drop incoming traffic by default (port %d stays open) and enable firewalld", f.port),
		Command:     deny,
	}
	if f.gate.Authorize(req) == engine.Skip {
		return workflows.Skipped("operator declined default-deny firewall policy")
	}

	if !active {
		if err := f.services.enableNow(ctx, "firewalld"); err != nil {
			return err
		}
	}
	if _, err := f.exec.Mutate(ctx, deny); err != nil {
		return err
	}
	if _, err := f.exec.Mutate(ctx, engine.Command("firewall-cmd", "--reload")); err != nil {
		return err
	}
	logger.Info("firewall enabled with default deny", telemetry.Fields{"firewall": "firewalld"})
	return nil
}
