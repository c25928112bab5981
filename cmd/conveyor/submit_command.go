package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/ipc"
	"conveyor/internal/queue"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var owner string
	var priority string
	var maxRetries int
	var plan []string

	cmd := &cobra.Command{
		Use:   "submit <item-ref>...",
		Short: "Submit a batch of work items as a new pipeline",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(owner) == "" {
				return errors.New("--owner is required")
			}
			if trimmed := strings.TrimSpace(priority); trimmed != "" {
				if _, ok := queue.ParsePriority(trimmed); !ok {
					return fmt.Errorf("invalid priority %q (use urgent, high, medium, or low)", priority)
				}
			}
			items := make([]string, 0, len(args))
			for _, arg := range args {
				ref := strings.TrimSpace(arg)
				if ref == "" {
					return errors.New("item references must not be empty")
				}
				items = append(items, ref)
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(ipc.SubmitRequest{
					Items:      items,
					OwnerID:    strings.TrimSpace(owner),
					Priority:   strings.TrimSpace(priority),
					MaxRetries: maxRetries,
					Plan:       plan,
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				pipeline := resp.Pipeline
				fmt.Fprintf(out, "Pipeline %s created (%d items, %d jobs)\n",
					pipeline.ID, len(pipeline.ItemRefs), len(pipeline.JobIDs))
				fmt.Fprintf(out, "Follow it with: conveyor watch %s --owner %s\n", pipeline.ID, pipeline.OwnerID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&owner, "owner", "o", "", "Owner id the pipeline belongs to (required)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Job priority: urgent, high, medium, or low")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retry budget per job (0 uses the configured default)")
	cmd.Flags().StringSliceVar(&plan, "plan", nil, "Job types to run per item (default from config)")
	return cmd
}
