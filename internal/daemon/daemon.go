package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"folderwatch/internal/config"
	"folderwatch/internal/ingest"
	"folderwatch/internal/logging"
	"folderwatch/internal/metrics"
	"folderwatch/internal/services"
	"folderwatch/internal/storage"
	"folderwatch/internal/tracker"
	"folderwatch/internal/watcher"
)

// ErrLocked reports that another folderwatch instance holds the lock.
var ErrLocked = errors.New("another folderwatch instance is already running")

// Daemon coordinates the gateway, the ingest pipeline and the watcher, and
// enforces single-instance execution per base directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	gateway  *storage.Gateway
	pipeline *ingest.Pipeline
	watcher  *watcher.Watcher
	metrics  *metrics.Metrics
	logPath  string

	lockPath string
	lock     *flock.Flock

	mu          sync.Mutex
	running     atomic.Bool
	lastSweep   watcher.SweepReport
	metricsAddr net.Addr
	cancel      context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	WatcherState watcher.State
	LastSweep    watcher.SweepReport
	Database     string
	LockFilePath string
	MetricsAddr  string
}

// New wires the components for cfg. Nothing touches the database or the
// filesystem until Start.
func New(cfg *config.Config, logger *slog.Logger, logPath string) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	m := metrics.New()
	gw := storage.New(cfg, logger)
	tr := tracker.New(gw, logger)
	pipeline := ingest.New(cfg, gw, tr, m, logger)
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		gateway:  gw,
		pipeline: pipeline,
		watcher:  watcher.New(cfg, pipeline, m, logger),
		metrics:  m,
		logPath:  logPath,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the lock, opens the database, prepares the folders, sweeps
// the watched directory and subscribes to events. Any failure releases what
// was acquired and is returned; the caller should treat it as fatal.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.acquire(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.startServices(runCtx); err != nil {
		cancel()
		d.teardown()
		return err
	}

	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	d.running.Store(true)
	d.logger.Info("folderwatch daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("watch_dir", d.watcher.Layout().Watched),
		logging.String("database", d.cfg.RedactedDataSource()),
	)
	return nil
}

func (d *Daemon) acquire() error {
	if err := d.cfg.EnsureDirectories(); err != nil {
		return services.Wrap(services.ErrIO, "daemon", "prepare directories", "", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w (lock %s)", ErrLocked, d.lockPath)
	}
	return nil
}

func (d *Daemon) startServices(ctx context.Context) error {
	if err := d.gateway.Connect(ctx); err != nil {
		return err
	}
	if err := d.gateway.CreateAllTables(ctx); err != nil {
		return err
	}
	if err := d.watcher.SetupFolders(); err != nil {
		return err
	}

	report, err := d.watcher.ProcessExistingFiles(ctx)
	d.mu.Lock()
	d.lastSweep = report
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("initial sweep: %w", err)
	}
	if err := d.watcher.StartWatching(ctx); err != nil {
		return err
	}

	if bind := strings.TrimSpace(d.cfg.Metrics.Bind); bind != "" {
		addr, err := d.metrics.Serve(ctx, bind, d.logger)
		if err != nil {
			return fmt.Errorf("start metrics endpoint: %w", err)
		}
		d.mu.Lock()
		d.metricsAddr = addr
		d.mu.Unlock()
	}
	return nil
}

// Stop stops watching, closes the database and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.mu.Unlock()
	d.teardown()
	d.running.Store(false)
	d.logger.Info("folderwatch daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

func (d *Daemon) teardown() {
	if err := d.watcher.StopWatching(); err != nil {
		d.logger.Warn("watcher did not stop cleanly",
			logging.Error(err),
			logging.String(logging.FieldEventType, "watcher_stop_failed"),
			logging.String(logging.FieldErrorHint, "a file may still be in flight; it is replayed on the next start"),
		)
	}
	if err := d.gateway.Disconnect(); err != nil {
		d.logger.Warn("failed to close database", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}

// Run starts the daemon, blocks until ctx is cancelled and then stops it. A
// cancellation that lands while Start is still sweeping is a clean shutdown,
// not a startup failure.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		if ctx.Err() != nil {
			d.logger.Info("shutdown requested during startup",
				logging.String(logging.FieldEventType, "startup_interrupted"),
				logging.String("cause", context.Cause(ctx).Error()),
				logging.Error(err),
			)
			return nil
		}
		return err
	}
	<-ctx.Done()
	d.logger.Info("shutdown requested", logging.String("cause", context.Cause(ctx).Error()))
	d.Stop()
	return nil
}

// IngestFiles pushes paths through the pipeline once, outside the watcher.
// It takes the same lock as Start so a running daemon is never raced.
func (d *Daemon) IngestFiles(ctx context.Context, paths []string) ([]ingest.Result, error) {
	if d.running.Load() {
		return nil, errors.New("daemon already running")
	}
	if err := d.acquire(); err != nil {
		return nil, err
	}
	defer func() {
		if err := d.gateway.Disconnect(); err != nil {
			d.logger.Warn("failed to close database", logging.Error(err))
		}
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	if err := d.gateway.Connect(ctx); err != nil {
		return nil, err
	}
	if err := d.gateway.CreateAllTables(ctx); err != nil {
		return nil, err
	}
	if err := d.watcher.SetupFolders(); err != nil {
		return nil, err
	}

	results := make([]ingest.Result, 0, len(paths))
	for _, raw := range paths {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		path, err := filepath.Abs(strings.TrimSpace(raw))
		if err != nil {
			return results, fmt.Errorf("resolve %q: %w", raw, err)
		}
		if _, err := os.Stat(path); err != nil {
			return results, services.Wrap(services.ErrIO, "daemon", "ingest", path, err)
		}
		results = append(results, d.pipeline.Ingest(ctx, path, ingest.TriggerCLI))
	}
	return results, nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Metrics exposes the daemon's collectors.
func (d *Daemon) Metrics() *metrics.Metrics {
	return d.metrics
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := Status{
		Running:      d.running.Load(),
		WatcherState: d.watcher.State(),
		LastSweep:    d.lastSweep,
		Database:     d.cfg.RedactedDataSource(),
		LockFilePath: d.lockPath,
	}
	if d.metricsAddr != nil {
		status.MetricsAddr = d.metricsAddr.String()
	}
	return status
}
