package commands

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sysmaint/sysmaint/pkg/stores"
)

func (c *cli) newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.JournalPath == "" {
				return fmt.Errorf("run journal is disabled (journal_path is empty)")
			}

			journal, err := stores.OpenJournal(cmd.Context(), cfg.JournalPath)
			if err != nil {
				return err
			}
			defer journal.Close()

			runs, err := journal.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if cfg.JSON {
				enc := json.NewEncoder(c.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			return writeRuns(c, runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", stores.DefaultHistoryLimit, "number of runs to show")

	return cmd
}

func writeRuns(c *cli, runs []*stores.Run) error {
	w := tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tWORKFLOW\tSTATUS\tEXIT\tDRY RUN\tDURATION\tRUN ID")
	for _, r := range runs {
		exit, duration := "-", "-"
		if r.ExitCode != nil {
			exit = strconv.Itoa(*r.ExitCode)
		}
		if r.CompletedAt != nil {
			duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime), r.Workflow, r.Status, exit, r.DryRun, duration, r.ID)
	}
	return w.Flush()
}
