// Package daemonrun hosts the shared daemon runtime loop used by both the
// standalone conveyord binary and the CLI's hidden daemon subcommand.
package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"conveyor/internal/config"
	"conveyor/internal/daemon"
	"conveyor/internal/history"
	"conveyor/internal/ipc"
	"conveyor/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	SocketPath  string
}

// Run starts the conveyor daemon runtime loop. It blocks until the context is
// cancelled or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("conveyord-%s.log", runID))

	level := strings.TrimSpace(opts.LogLevel)
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logRuntimeSnapshot(logger, cfg)
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update conveyord.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "conveyord-*.log", Exclude: []string{logPath}},
	)

	pidPath := filepath.Join(cfg.Paths.DataDir, "conveyord.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := history.Open(cfg)
	if err != nil {
		logger.Error("open history store", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, store, logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	socketPath := strings.TrimSpace(opts.SocketPath)
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logger.Warn("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check configuration and data directory access"),
			logging.String(logging.FieldImpact, "daemon may not process submissions"),
		)
	}

	<-signalCtx.Done()
	logger.Info("conveyor daemon shutting down")
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "conveyord.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logRuntimeSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	llm := cfg.GetLLM()
	logger.Info("runtime snapshot",
		logging.String(logging.FieldEventType, "runtime_snapshot"),
		logging.Bool("llm_key_present", llm.APIKey != ""),
		logging.String("llm_base_url", llm.BaseURL),
		logging.String("llm_model", llm.Model),
		logging.Int("workers", cfg.Engine.Workers),
		logging.String("job_plan", strings.Join(cfg.Engine.JobPlan, ",")),
		logging.Bool("ntfy_enabled", strings.TrimSpace(cfg.Notifications.NtfyTopic) != ""),
	)
}
