package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"folderwatch/internal/config"
	"folderwatch/internal/folders"
	"folderwatch/internal/ingest"
	"folderwatch/internal/logging"
	"folderwatch/internal/metrics"
	"folderwatch/internal/services"
)

// State is the watcher lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateSweeping State = "sweeping"
	StateWatching State = "watching"
)

// Ingester handles one candidate path. *ingest.Pipeline satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, path, trigger string) ingest.Result
	Accepts(name string) bool
}

// Watcher owns the sweep and the event subscription for one watched directory.
type Watcher struct {
	cfg      *config.Config
	layout   folders.Layout
	ingester Ingester
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	sweeping    bool
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
	stopping    bool
	fsw         *fsnotify.Watcher
	quit        chan struct{}
	done        chan struct{}
	// stopWait is what an in-progress StopWatching waits on.
	stopWait chan struct{}
	// lingering is closed when a consumer abandoned by a timed-out stop exits.
	lingering chan struct{}
}

// New constructs a stopped watcher. m may be nil.
func New(cfg *config.Config, ingester Ingester, m *metrics.Metrics, logger *slog.Logger) *Watcher {
	return &Watcher{
		cfg:      cfg,
		layout:   folders.FromConfig(cfg),
		ingester: ingester,
		metrics:  m,
		logger:   logging.NewComponentLogger(logger, "watcher"),
		state:    StateStopped,
	}
}

// State reports the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Layout returns the directories the watcher works with.
func (w *Watcher) Layout() folders.Layout {
	return w.layout
}

func (w *Watcher) setStateLocked(state State) {
	if w.state == state {
		return
	}
	w.logger.Debug("watcher state changed",
		logging.String(logging.FieldEventType, "watcher_state"),
		logging.String("from", string(w.state)),
		logging.String("to", string(state)),
	)
	w.state = state
	w.metrics.SetWatcherState(string(state))
}

// SetupFolders creates the watched, processed, and failed directories. It is
// only valid while stopped.
func (w *Watcher) SetupFolders() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateStopped || w.stopping || w.lingeringLocked() {
		return services.Wrap(services.ErrBusy, "watcher", "setup folders", "watcher is "+string(w.state), nil)
	}
	if err := folders.Ensure(w.layout); err != nil {
		return err
	}
	w.logger.Info("folders ready",
		logging.String(logging.FieldEventType, "folders_ready"),
		logging.String("watched", w.layout.Watched),
		logging.String("processed", w.layout.Processed),
		logging.String("failed", w.layout.Failed),
	)
	return nil
}

// StartWatching subscribes to filesystem events on the watched directory and
// starts the single consumer goroutine. The consumer first lists the directory
// once so files that arrived after the sweep are not missed.
func (w *Watcher) StartWatching(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateWatching || w.sweeping || w.stopping {
		return services.Wrap(services.ErrBusy, "watcher", "start watching", "watcher is "+string(w.state), nil)
	}
	if w.lingeringLocked() {
		return services.Wrap(services.ErrBusy, "watcher", "start watching", "previous consumer still finishing a file", nil)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return services.Wrap(services.ErrIO, "watcher", "start watching", "create fsnotify watcher", err)
	}
	dirs, err := w.watchDirs()
	if err != nil {
		_ = fsw.Close()
		return services.Wrap(services.ErrIO, "watcher", "start watching", "list watched directories", err)
	}
	for _, dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return services.Wrap(services.ErrIO, "watcher", "start watching", "watch "+dir, err)
		}
	}

	w.fsw = fsw
	w.quit = make(chan struct{})
	w.done = make(chan struct{})
	w.setStateLocked(StateWatching)

	// Pass channels to the goroutine so it never reads them without the lock.
	go w.loop(ctx, fsw, w.quit, w.done)

	w.logger.Info("watching for new files",
		logging.String(logging.FieldEventType, "watch_started"),
		logging.String("dir", w.layout.Watched),
		logging.Bool("recursive", w.cfg.Watcher.Recursive),
		logging.Duration("settle_delay", w.cfg.SettleDelay()),
	)
	return nil
}

// StopWatching returns the watcher to stopped. It is idempotent and safe to
// call from any goroutine. A file already being ingested, by the sweep or by
// the event consumer, completes; waiting for it is bounded by the configured
// stop timeout. After a timeout the watcher refuses to start again until the
// abandoned file has finished.
func (w *Watcher) StopWatching() error {
	w.mu.Lock()
	var wait chan struct{}
	switch {
	case w.stopping:
		wait = w.stopWait
	case w.state == StateStopped:
		w.mu.Unlock()
		return nil
	case w.state == StateSweeping:
		if w.sweepCancel != nil {
			w.sweepCancel()
		}
		wait = w.sweepDone
		if wait == nil {
			w.setStateLocked(StateStopped)
			w.mu.Unlock()
			w.logger.Info("watcher stopped", logging.String(logging.FieldEventType, "watch_stopped"))
			return nil
		}
	default:
		close(w.quit)
		if w.fsw != nil {
			_ = w.fsw.Close()
		}
		wait = w.done
	}
	w.stopping = true
	w.stopWait = wait
	w.mu.Unlock()

	timeout := w.cfg.StopTimeout()
	timedOut := false
	select {
	case <-wait:
	case <-time.After(timeout):
		timedOut = true
		logging.WarnWithContext(w.logger, "watcher stop timed out", "watch_stop_timeout",
			logging.Duration("timeout", timeout),
			logging.String(logging.FieldImpact, "in-flight file may finish after shutdown begins"),
		)
	}

	w.mu.Lock()
	if w.stopping {
		if timedOut {
			w.lingering = wait
		}
		w.stopping = false
		w.stopWait = nil
		w.fsw = nil
		w.quit = nil
		w.done = nil
		w.setStateLocked(StateStopped)
		w.logger.Info("watcher stopped", logging.String(logging.FieldEventType, "watch_stopped"))
	}
	w.mu.Unlock()
	if timedOut {
		return services.Wrap(services.ErrBusy, "watcher", "stop watching", "timed out waiting for in-flight file after "+timeout.String(), nil)
	}
	return nil
}

// lingeringLocked reports whether a consumer abandoned by a timed-out stop is
// still running. Callers hold w.mu.
func (w *Watcher) lingeringLocked() bool {
	if w.lingering == nil {
		return false
	}
	select {
	case <-w.lingering:
		w.lingering = nil
		return false
	default:
		return true
	}
}
