package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"conveyor/internal/hub"
	"conveyor/internal/queue"
)

const watchMaxFrame = 256 * 1024

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "watch [pipeline-id]",
		Short: "Stream live pipeline events",
		Long: "Connects to the daemon's stream listener and prints events as they " +
			"arrive. With a pipeline id only that pipeline's events are shown; " +
			"without one the connection stays open for subsequent subscriptions " +
			"driven by other clients on the same owner id.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(owner) == "" {
				return errors.New("--owner is required")
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			addr := strings.TrimSpace(cfg.Paths.StreamBind)
			if addr == "" {
				return errors.New("stream listener is disabled (set paths.stream_bind in the config)")
			}

			pipelineID := ""
			if len(args) > 0 {
				pipelineID = strings.TrimSpace(args[0])
			}
			return watchStream(cmd, addr, strings.TrimSpace(owner), pipelineID)
		},
	}

	cmd.Flags().StringVarP(&owner, "owner", "o", "", "Owner id to register the connection under (required)")
	return cmd
}

func watchStream(cmd *cobra.Command, addr, owner, pipelineID string) error {
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(cmd.Context(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to stream listener %s: %w (is the daemon running?)", addr, err)
	}
	defer conn.Close()

	hello := struct {
		OwnerID    string `json:"ownerId"`
		PipelineID string `json:"pipelineId,omitempty"`
	}{OwnerID: owner, PipelineID: pipelineID}
	frame, err := json.Marshal(hello)
	if err != nil {
		return fmt.Errorf("encode hello frame: %w", err)
	}
	if _, err := conn.Write(append(frame, '\n')); err != nil {
		return fmt.Errorf("send hello frame: %w", err)
	}

	// Unblock the scanner on Ctrl-C.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-cmd.Context().Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	out := cmd.OutOrStdout()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 4096), watchMaxFrame)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg hub.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			fmt.Fprintln(out, string(line))
			continue
		}
		fmt.Fprintln(out, formatStreamMessage(msg))
		if pipelineID != "" && isTerminalEvent(msg, pipelineID) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil && cmd.Context().Err() == nil {
		return fmt.Errorf("stream closed: %w", err)
	}
	return nil
}

func formatStreamMessage(msg hub.Message) string {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var builder strings.Builder
	builder.WriteString(ts.Local().Format("15:04:05"))
	builder.WriteByte(' ')
	builder.WriteString(formatStatusLabel(msg.Type))

	if msg.PipelineID != "" {
		builder.WriteString("  pipeline=")
		builder.WriteString(shortID(msg.PipelineID))
	}
	if msg.JobID != "" {
		builder.WriteString(" job=")
		builder.WriteString(shortID(msg.JobID))
	}
	if msg.JobType != "" {
		builder.WriteString(" type=")
		builder.WriteString(msg.JobType)
	}
	if msg.Status != "" {
		builder.WriteString(" status=")
		builder.WriteString(msg.Status)
	}
	builder.WriteString(fmt.Sprintf(" %d%%", msg.Progress))
	if message := strings.TrimSpace(msg.Message); message != "" {
		builder.WriteString("  ")
		builder.WriteString(message)
	}
	return builder.String()
}

// isTerminalEvent reports whether the message ends the watched pipeline, so
// a single-pipeline watch can exit instead of waiting for Ctrl-C.
func isTerminalEvent(msg hub.Message, pipelineID string) bool {
	if msg.PipelineID != pipelineID {
		return false
	}
	switch queue.EventType(msg.Type) {
	case queue.EventPipelineComplete, queue.EventPipelineError, queue.EventPipelineCancelled:
		return true
	default:
		return false
	}
}
