package commands

import (
	"github.com/spf13/cobra"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/workflows/update"
)

func (c *cli) newUpdateCommand() *cobra.Command {
	var opts update.Options

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Refresh, assess and apply package updates",
		Long: `Refresh the package metadata, list pending updates and apply them after
confirmation. The run stops at the first step that fails.

The package manager is not detected: select it with --backend or the
backend key in the config file (apt, dnf, yum, pacman or zypper).

Exit codes: 0 applied, 2 nothing to do or declined, 10 applied and a reboot
is pending, 1 failed.`,
		Example: `  # Preview pending updates
  sysmaint update --dry-run

  # Unattended security patching with a deferred reboot
  sysmaint update --headless --security-only --reboot-if-required`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}

			s, err := c.openSession(cmd, engine.WorkflowUpdate)
			if err != nil {
				return err
			}
			defer s.Close(cmd.Context())

			opts.RebootDelay = s.cfg.Update.RebootDelay

			provider, err := s.provider()
			if err != nil {
				c.report(s.fail(cmd.Context(), engine.WorkflowUpdate, err))
				return nil
			}

			wf, err := update.New(s.deps(), provider, opts)
			if err != nil {
				c.report(s.fail(cmd.Context(), engine.WorkflowUpdate, err))
				return nil
			}

			c.report(wf.Run(cmd.Context()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.SecurityOnly, "security-only", false, "apply security updates only, where the backend can tell")
	cmd.Flags().BoolVar(&opts.RebootIfRequired, "reboot-if-required", false, "reboot when the updates need it (deferred when headless)")
	cmd.Flags().BoolVar(&opts.NoReboot, "no-reboot", false, "never reboot")

	return cmd
}
