package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"conveyor/internal/ipc"
	"conveyor/internal/queue"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show engine and hub counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Stats()
				if err != nil {
					return err
				}
				stats := resp.Stats

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				for _, line := range renderSectionHeader("Pipelines", colorize) {
					fmt.Fprintln(stdout, line)
				}
				pipelineRows := [][]string{
					{"Active", fmt.Sprintf("%d", stats.ActivePipelines)},
					{"Completed", fmt.Sprintf("%d", stats.CompletedPipelines)},
					{"Failed", fmt.Sprintf("%d", stats.FailedPipelines)},
					{"Cancelled", fmt.Sprintf("%d", stats.CancelledPipelines)},
					{"Total", fmt.Sprintf("%d", stats.TotalPipelines)},
				}
				fmt.Fprintln(stdout, renderTable([]string{"Counter", "Value"}, pipelineRows, []columnAlignment{alignLeft, alignRight}))
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Jobs", colorize) {
					fmt.Fprintln(stdout, line)
				}
				jobRows := buildCountRows(stats.JobsByStatus)
				jobRows = append(jobRows, []string{"Total", fmt.Sprintf("%d", stats.TotalJobs)})
				fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, jobRows, []columnAlignment{alignLeft, alignRight}))
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Queue Depths", colorize) {
					fmt.Fprintln(stdout, line)
				}
				depthRows := make([][]string, 0, len(queue.PriorityOrder()))
				for _, priority := range queue.PriorityOrder() {
					depthRows = append(depthRows, []string{
						formatStatusLabel(string(priority)),
						fmt.Sprintf("%d", stats.QueueDepths[string(priority)]),
					})
				}
				fmt.Fprintln(stdout, renderTable([]string{"Priority", "Depth"}, depthRows, []columnAlignment{alignLeft, alignRight}))
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Hub", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintf(stdout, "Connections: %d\nOwners: %d\nSubscriptions: %d\n",
					stats.Connections, stats.Owners, stats.Subscriptions)
				return nil
			})
		},
	}
}
