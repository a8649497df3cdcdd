package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func (c *cli) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(c.stdout, "sysmaint %s\n  commit:  %s\n  built:   %s\n  go:      %s\n",
				c.info.Version, c.info.Commit, c.info.BuildDate, runtime.Version())
			return err
		},
	}
}
