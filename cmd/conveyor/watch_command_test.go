package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"conveyor/internal/hub"
	"conveyor/internal/queue"
	"conveyor/internal/testsupport"
)

// fakeStreamListener accepts one connection, validates the hello frame, and
// replays the given messages as NDJSON.
func fakeStreamListener(t *testing.T, wantOwner, wantPipeline string, messages []hub.Message) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		line, err := bufio.NewReader(conn).ReadBytes('\n')
		if err != nil {
			t.Errorf("read hello: %v", err)
			return
		}
		var hello struct {
			OwnerID    string `json:"ownerId"`
			PipelineID string `json:"pipelineId"`
		}
		if err := json.Unmarshal(bytes.TrimSpace(line), &hello); err != nil {
			t.Errorf("decode hello: %v", err)
			return
		}
		if hello.OwnerID != wantOwner || hello.PipelineID != wantPipeline {
			t.Errorf("unexpected hello: %+v", hello)
			return
		}

		for _, msg := range messages {
			frame, err := json.Marshal(msg)
			if err != nil {
				t.Errorf("encode frame: %v", err)
				return
			}
			if _, err := conn.Write(append(frame, '\n')); err != nil {
				return
			}
		}
		// Hold the connection open; the client decides when to leave.
		time.Sleep(5 * time.Second)
	}()

	return ln
}

func TestCLIWatchExitsOnTerminalEvent(t *testing.T) {
	messages := []hub.Message{
		{
			Type:       string(queue.EventJobStatus),
			PipelineID: "pipe-1",
			JobID:      "job-1",
			JobType:    "analysis",
			OwnerID:    "alice",
			Status:     "processing",
			Progress:   40,
			Message:    "halfway",
			Timestamp:  time.Now(),
		},
		{
			Type:       string(queue.EventPipelineComplete),
			PipelineID: "pipe-1",
			OwnerID:    "alice",
			Progress:   100,
			Message:    "all jobs finished",
			Timestamp:  time.Now(),
		},
	}
	ln := fakeStreamListener(t, "alice", "pipe-1", messages)

	cfg := testsupport.NewConfig(t)
	cfg.Paths.StreamBind = ln.Addr().String()
	configPath := filepath.Join(testsupport.BaseDir(cfg), "watch-config.toml")
	writeTestConfig(t, configPath, cfg)

	socket := filepath.Join(cfg.Paths.LogDir, "unused.sock")
	out, _, err := runCLI(t, []string{"watch", "pipe-1", "--owner", "alice"}, socket, configPath)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	for _, want := range []string{"Job Status", "pipeline=pipe-1", "type=analysis", "40%", "halfway", "Pipeline Complete"} {
		if !strings.Contains(out, want) {
			t.Fatalf("watch output missing %q: %q", want, out)
		}
	}
}

func TestCLIWatchRequiresOwner(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"watch", "pipe-1"}, env.socketPath, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "--owner is required") {
		t.Fatalf("expected owner error, got %v", err)
	}
}

func TestWatchStreamStopsOnContextCancel(t *testing.T) {
	messages := []hub.Message{
		{
			Type:       string(queue.EventPipelineStatus),
			PipelineID: "pipe-2",
			OwnerID:    "bob",
			Status:     "running",
			Progress:   10,
			Timestamp:  time.Now(),
		},
	}
	ln := fakeStreamListener(t, "bob", "", messages)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := &cobra.Command{}
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() {
		done <- watchStream(cmd, ln.Addr().String(), "bob", "")
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watchStream: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watchStream did not exit after cancel")
	}

	if !strings.Contains(stdout.String(), "Pipeline Status") {
		t.Fatalf("expected streamed event in output, got %q", stdout.String())
	}
}
