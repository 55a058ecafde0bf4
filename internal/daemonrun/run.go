package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/google/uuid"

	"folderwatch/internal/config"
	"folderwatch/internal/daemon"
	"folderwatch/internal/logging"
	"folderwatch/internal/services"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the folderwatch daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	runID := uuid.NewString()
	logPath := logging.RunLogPath(cfg.Paths.LogDir, runID)
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String("run_id", runID))

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update folderwatch.log link: %v\n", err)
	}
	if pruned := logging.PruneRunLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, logPath); len(pruned) > 0 {
		logger.Info("pruned old run logs",
			logging.String(logging.FieldEventType, "log_retention"),
			logging.Int("removed", len(pruned)),
			logging.Int("retention_days", cfg.Logging.RetentionDays),
		)
	}
	logConfigSnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.LogDir, "folderwatch.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	d, err := daemon.New(cfg, logger, logPath)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Run(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String("error_kind", services.Kind(err)),
			logging.String(logging.FieldErrorHint, startupHint(err)),
			logging.String(logging.FieldImpact, "no files will be ingested"),
		)
		return err
	}
	logger.Info("folderwatch daemon exited")
	return nil
}

// startupHint names the operator's next step for a failed start.
func startupHint(err error) string {
	switch {
	case errors.Is(err, daemon.ErrLocked):
		return "another folderwatch is running against this base_dir; stop it or point this one elsewhere"
	case services.IsFatal(err):
		return "check database.driver and the data source, then confirm the database is reachable and writable"
	case errors.Is(err, services.ErrIO):
		return "check that the watch, processed and failed folders exist and are writable"
	default:
		return "check the run log for the failing step"
	}
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "folderwatch.log")
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

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("driver", cfg.Database.Driver),
		logging.String("database", cfg.RedactedDataSource()),
		logging.String("watch_dir", cfg.Paths.WatchDir),
		logging.Any("extensions", cfg.Watcher.Extensions),
		logging.Bool("recursive", cfg.Watcher.Recursive),
		logging.Bool("relocate", cfg.Watcher.Relocate),
		logging.Duration("settle_delay", cfg.SettleDelay()),
		logging.String("metrics_bind", cfg.Metrics.Bind),
	)
}
