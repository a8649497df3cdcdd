package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sysmaint/sysmaint/pkg/config"
	"github.com/sysmaint/sysmaint/pkg/engine"
)

// BuildInfo identifies the binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// cli is one invocation of the command tree.
type cli struct {
	info       BuildInfo
	configPath string
	stdout     io.Writer
	stderr     io.Writer

	// exitCode is set by workflow commands from the run outcome.
	exitCode int
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, info BuildInfo) int {
	return run(ctx, info, os.Args[1:], os.Stdout, os.Stderr)
}

func run(ctx context.Context, info BuildInfo, args []string, stdout, stderr io.Writer) int {
	c := &cli{info: info, stdout: stdout, stderr: stderr}

	rootCmd := c.newRootCommand()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return engine.ExitFailed
	}
	return c.exitCode
}

func (c *cli) newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sysmaint",
		Short: "Cross-distribution Linux maintenance",
		Long: `sysmaint keeps Linux hosts patched and hardened through one interface,
whatever the package manager.

Every state-changing action is confirmed first, or simulated with --dry-run.
The result of each run is written to a state file and reported through the
exit code:

  0   changes applied
  1   failed
  2   already up to date
  3   some hardening steps failed
  10  updates applied, reboot pending`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", c.info.Version, c.info.Commit, c.info.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags are bound into the configuration; see config.FlagBindings.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", fmt.Sprintf("config file path (default %s)", config.DefaultConfigPath))
	flags.Bool("dry-run", false, "show what would change without changing anything")
	flags.Bool("json", false, "emit JSON log events on stdout")
	flags.Bool("headless", false, "answer every confirmation with yes")
	flags.CountP("verbose", "v", "increase log verbosity (-v debug, -vv trace)")
	flags.String("backend", "", "package manager backend (apt, dnf, yum, pacman, zypper)")
	flags.String("state-file", "", "path of the last-run state record")

	rootCmd.AddCommand(c.newUpdateCommand())
	rootCmd.AddCommand(c.newHardeningCommand())
	rootCmd.AddCommand(c.newStateCommand())
	rootCmd.AddCommand(c.newHistoryCommand())
	rootCmd.AddCommand(c.newConfigCommand())
	rootCmd.AddCommand(c.newVersionCommand())

	return rootCmd
}

// loadConfig resolves the effective configuration for cmd.
func (c *cli) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(c.configPath, cmd.Flags())
}
