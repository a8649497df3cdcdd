package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sysmaint/sysmaint/pkg/stores"
)

func (c *cli) newStateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the last recorded run",
		Long: `Print the state record of the most recent update or hardening run. Use
--json for the record exactly as stored. Exits 1 when no run has been
recorded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}

			rec, err := stores.NewFileStateStore(cfg.StatePath).Read(cmd.Context())
			if errors.Is(err, stores.ErrStateNotFound) {
				return fmt.Errorf("no run recorded yet in %s", cfg.StatePath)
			}
			if err != nil {
				return err
			}

			var out []byte
			if cfg.JSON {
				out, err = json.MarshalIndent(rec, "", "  ")
				out = append(out, '\n')
			} else {
				out, err = yaml.Marshal(rec)
			}
			if err != nil {
				return fmt.Errorf("failed to render state: %w", err)
			}

			_, err = c.stdout.Write(out)
			return err
		},
	}
}
