package commands

import (
	"github.com/spf13/cobra"

	"github.com/sysmaint/sysmaint/pkg/config"
	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/policy"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
	"github.com/sysmaint/sysmaint/pkg/workflows/hardening"
)

func (c *cli) newHardeningCommand() *cobra.Command {
	var sel hardening.Selection

	cmd := &cobra.Command{
		Use:   "hardening",
		Short: "Apply the security baseline",
		Long: `Apply the security baseline: sshd configuration, automatic updates, kernel
network parameters and a default-deny firewall.

Steps are independent. A failed step is reported and the next one still
runs. A rejected sshd configuration is rolled back.

Exit codes: 0 every selected step succeeded or was skipped, 3 at least one
step failed, 1 the run could not start.`,
		Example: `  # Only tighten sshd
  sysmaint hardening --ssh-only

  # Everything except the firewall, without prompts
  sysmaint hardening --headless --skip-firewall`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := sel.Validate(); err != nil {
				return err
			}

			s, err := c.openSession(cmd, engine.WorkflowHardening)
			if err != nil {
				return err
			}
			defer s.Close(cmd.Context())

			ctx := cmd.Context()
			logger := s.tel.Logger.NewComponentLogger("policy")

			policies, err := policy.NewEngine(ctx, logger)
			if err == nil && len(s.cfg.Hardening.PolicyPaths) > 0 {
				err = policies.LoadPolicies(ctx, s.cfg.Hardening.PolicyPaths)
			}
			if err != nil {
				c.report(s.fail(ctx, engine.WorkflowHardening, engine.NewValidationFailed("failed to load sshd policies", err)))
				return nil
			}

			// The backend is only needed for automatic updates.
			provider, err := s.provider()
			if err != nil {
				s.tel.Logger.Debug("no package manager backend", telemetry.Fields{"error": err.Error()})
			}

			wf, err := hardening.New(s.deps(), provider, policies, hardeningConfig(s.cfg), sel)
			if err != nil {
				c.report(s.fail(ctx, engine.WorkflowHardening, err))
				return nil
			}

			c.report(wf.Run(ctx))
			return nil
		},
	}

	cmd.Flags().BoolVar(&sel.SSHOnly, "ssh-only", false, "run only the sshd hardening step")
	cmd.Flags().BoolVar(&sel.FirewallOnly, "firewall-only", false, "run only the firewall step")
	cmd.Flags().BoolVar(&sel.SkipSSH, "skip-ssh", false, "skip the sshd hardening step")
	cmd.Flags().BoolVar(&sel.SkipFirewall, "skip-firewall", false, "skip the firewall step")

	return cmd
}

func hardeningConfig(cfg *config.Config) hardening.Config {
	h := cfg.Hardening
	return hardening.Config{
		SSH: hardening.SSHConfig{
			ConfigPath:          h.SSHConfigPath,
			Settings:            h.SSHSettings,
			AuthorizedKeysPaths: h.AuthorizedKeysPaths,
		},
		SysctlPath:          h.SysctlPath,
		SysctlSettings:      h.SysctlSettings,
		AptAutoUpgradesPath: h.UnattendedConfigPath,
		ManagementPort:      h.SSHPort,
		LockDir:             cfg.LockDir,
	}
}
