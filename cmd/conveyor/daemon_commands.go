package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"conveyor/internal/daemonctl"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the conveyor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintln(stdout, "Daemon started")
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Message) != "" {
					fmt.Fprintln(stdout, result.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the conveyor daemon (completely terminates the process)",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if !result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			} else {
				fmt.Fprintln(stdout, "Stopping engine...")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the conveyor daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.Restart(
				ctx.socketPath(),
				ctx.configValue(),
				exe,
				daemonLaunchOptions(ctx),
				5*time.Second,
				10*time.Second,
			)
			if err != nil {
				return err
			}

			if result.WasRunning {
				if result.Stop.ForcedKill && result.Stop.PID > 0 {
					fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.Stop.PID)
				}
				fmt.Fprintln(stdout, "Daemon stopped")
			}

			switch result.Start.State {
			case daemonctl.StartStateStarted, daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon restarted")
			case daemonctl.StartStateRequested:
				if strings.TrimSpace(result.Start.Message) != "" {
					fmt.Fprintln(stdout, result.Start.Message)
					return nil
				}
				fmt.Fprintln(stdout, "Start request sent")
			}
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and engine status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range systemStatusLines(snap, colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Preflight Checks", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, check := range snap.Checks {
				fmt.Fprintln(stdout, renderStatusLine(check.Name, statusKindForCheck(check.Passed), check.Detail, colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Engine", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if !snap.Reachable {
				fmt.Fprintln(stdout, "Engine statistics unavailable (daemon not running)")
			} else {
				rows := buildCountRows(snap.Status.Stats.JobsByStatus)
				if len(rows) == 0 {
					fmt.Fprintln(stdout, "No jobs tracked")
				} else {
					table := renderTable([]string{"Job Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
					fmt.Fprintln(stdout, table)
				}
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Archive", colorize) {
				fmt.Fprintln(stdout, line)
			}
			archiveRows := buildCountRows(snap.Archive)
			if len(archiveRows) == 0 {
				fmt.Fprintln(stdout, "Archive is empty")
				return nil
			}
			table := renderTable([]string{"Status", "Count"}, archiveRows, []columnAlignment{alignLeft, alignRight})
			fmt.Fprintln(stdout, table)
			return nil
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd}
}

func systemStatusLines(snap *daemonctl.Snapshot, colorize bool) []string {
	lines := make([]string, 0, 5)
	lines = append(lines, renderStatusLine("Daemon", daemonStatusKind(snap), daemonStatusDetail(snap), colorize))

	if snap.Reachable && snap.Status.StartedAt != "" {
		lines = append(lines, renderStatusLine("Engine started", statusInfo, formatDisplayTime(snap.Status.StartedAt), colorize))
	}

	lines = append(lines, listenerLine("Stream listener", snap.Status.StreamAddr, colorize))
	lines = append(lines, listenerLine("HTTP API", snap.Status.APIAddr, colorize))
	lines = append(lines, renderStatusLine("Item spool", statusInfo, snap.Spool.SpoolDetail(), colorize))
	return lines
}

func daemonStatusKind(snap *daemonctl.Snapshot) statusKind {
	switch {
	case snap.Reachable && snap.Status.Running:
		return statusOK
	case snap.Reachable:
		return statusWarn
	default:
		return statusError
	}
}

func daemonStatusDetail(snap *daemonctl.Snapshot) string {
	switch {
	case snap.Reachable && snap.Status.Running:
		return fmt.Sprintf("Running (pid %d, %d workers)", snap.Status.PID, snap.Status.Workers)
	case snap.Reachable:
		return fmt.Sprintf("Process up (pid %d), engine stopped", snap.Status.PID)
	default:
		return "Not running"
	}
}

func listenerLine(label, addr string, colorize bool) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return renderStatusLine(label, statusWarn, "Disabled", colorize)
	}
	return renderStatusLine(label, statusOK, addr, colorize)
}

func buildCountRows(counts map[string]int) [][]string {
	if len(counts) == 0 {
		return nil
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{formatStatusLabel(key), fmt.Sprintf("%d", counts[key])})
	}
	return rows
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{}
	if ctx.socketFlag != nil {
		if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
			opts.SocketPath = socket
		}
	}
	if ctx.configFlag != nil {
		if config := strings.TrimSpace(*ctx.configFlag); config != "" {
			opts.ConfigPath = config
		}
	}
	return opts
}
