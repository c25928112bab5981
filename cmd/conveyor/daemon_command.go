package main

import (
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "daemon",
		Short:        "Run the conveyor daemon (internal)",
		Hidden:       true,
		Annotations:  map[string]string{"skipConfigLoad": "true"},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var socket string
			if ctx.socketFlag != nil {
				socket = strings.TrimSpace(*ctx.socketFlag)
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:   cfg.Logging.Level,
				SocketPath: socket,
			})
		},
	}
	return cmd
}
