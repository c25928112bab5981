package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/api"
	"conveyor/internal/history"
	"conveyor/internal/ipc"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect archived pipelines",
	}

	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryExportCommand(ctx))

	return historyCmd
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withHistory(func(client *ipc.Client, store *history.Store) error {
				var entries []ipc.HistoryEntry
				if client != nil {
					resp, err := client.History(limit)
					if err != nil {
						return err
					}
					entries = resp.Entries
				} else {
					recs, err := store.ListPipelines(cmd.Context(), limit)
					if err != nil {
						return err
					}
					entries = api.FromHistoryPipelines(recs)
				}

				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "History is empty")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Owner", "Status", "Progress", "Jobs", "Completed"},
					buildHistoryRows(entries),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of pipelines to list (0 for the default page size)")
	return cmd
}

func newHistoryExportCommand(ctx *commandContext) *cobra.Command {
	var output string
	var limit int

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export archived pipelines to an XLSX workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(output)
			if target == "" {
				return errors.New("--output is required")
			}

			// The workbook is always built from the archive database
			// directly; WAL mode keeps reads safe while the daemon writes.
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg)
			if err != nil {
				return fmt.Errorf("open history archive: %w", err)
			}
			defer store.Close()

			data, err := store.ExportXLSX(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return fmt.Errorf("write workbook: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported history to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "O", "", "Destination .xlsx path (required)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of pipelines to export (0 for all)")
	return cmd
}
