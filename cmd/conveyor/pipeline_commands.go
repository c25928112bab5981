package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/api"
	"conveyor/internal/history"
	"conveyor/internal/ipc"
	"conveyor/internal/queue"
)

func newListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, status := range listStatuses {
				if _, ok := queue.ParsePipelineStatus(status); !ok {
					return fmt.Errorf("invalid pipeline status %q (use running, completed, failed, or cancelled)", status)
				}
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.List(listStatuses)
				if err != nil {
					return err
				}
				if len(resp.Pipelines) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No live pipelines")
					return nil
				}
				table := renderTable(
					[]string{"ID", "Owner", "Status", "Progress", "Items", "Created"},
					buildPipelineRows(resp.Pipelines),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&listStatuses, "status", "s", nil, "Filter by pipeline status (repeatable)")
	return cmd
}

func newDescribeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <pipeline-id>",
		Short: "Show a pipeline and its jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return errors.New("pipeline id is required")
			}

			return ctx.withHistory(func(client *ipc.Client, store *history.Store) error {
				var detail ipc.PipelineDetail
				archived := false

				if client != nil {
					resp, err := client.Describe(id)
					if err != nil {
						return err
					}
					detail = resp.Detail
					archived = resp.Archived
				} else {
					rec, err := store.PipelineByID(cmd.Context(), id)
					if err != nil {
						return err
					}
					if rec == nil {
						return fmt.Errorf("pipeline %s not found (daemon is down; only archived pipelines are visible)", id)
					}
					jobs, err := store.JobsForPipeline(cmd.Context(), id)
					if err != nil {
						return err
					}
					detail = api.FromHistoryDetail(rec, jobs)
					archived = true
				}

				printPipelineDetail(cmd.OutOrStdout(), detail, archived)
				return nil
			})
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <pipeline-id>",
		Short: "Cancel a pipeline and its remaining jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return errors.New("pipeline id is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Cancel(id)
				if err != nil {
					return err
				}
				if resp.Cancelled {
					fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s cancelled\n", id)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Pipeline %s was not cancelled (unknown id or already terminal)\n", id)
				}
				return nil
			})
		},
	}
}
