package watcher

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"folderwatch/internal/ingest"
	"folderwatch/internal/logging"
	"folderwatch/internal/services"
)

// SweepReport summarizes one pass over the watched directory.
type SweepReport struct {
	Candidates  int
	Processed   int
	Skipped     int
	Failed      int
	Deferred    int
	Ignored     int
	Records     int
	Interrupted bool
	Duration    time.Duration
}

func (r *SweepReport) add(res ingest.Result) {
	switch res.Outcome {
	case ingest.OutcomeProcessed:
		r.Processed++
		r.Records += res.Records
	case ingest.OutcomeSkipped:
		r.Skipped++
	case ingest.OutcomeFailed:
		r.Failed++
	case ingest.OutcomeDeferred:
		r.Deferred++
	default:
		r.Ignored++
	}
}

// ProcessExistingFiles lists the watched directory afresh and ingests every
// candidate, one at a time. Per-file failures are recorded and never abort
// the sweep. Valid from stopped or from an idle sweeping state; the watcher
// remains in sweeping once the pass completes.
func (w *Watcher) ProcessExistingFiles(ctx context.Context) (SweepReport, error) {
	w.mu.Lock()
	if w.state == StateWatching || w.sweeping || w.stopping || w.lingeringLocked() {
		state := w.state
		w.mu.Unlock()
		return SweepReport{}, services.Wrap(services.ErrBusy, "watcher", "process existing files", "watcher is "+string(state), nil)
	}
	sweepCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	w.sweeping = true
	w.sweepCancel = cancel
	w.sweepDone = done
	w.setStateLocked(StateSweeping)
	w.mu.Unlock()

	defer func() {
		cancel()
		w.mu.Lock()
		w.sweeping = false
		w.sweepCancel = nil
		w.sweepDone = nil
		w.mu.Unlock()
		close(done)
	}()

	start := time.Now()
	var report SweepReport
	candidates, err := w.listUnder(w.layout.Watched)
	if err != nil {
		return report, services.Wrap(services.ErrIO, "watcher", "process existing files", "list "+w.layout.Watched, err)
	}
	report.Candidates = len(candidates)
	w.logger.Info("sweep started",
		logging.String(logging.FieldEventType, "sweep_started"),
		logging.Int("candidates", len(candidates)),
	)

	for _, path := range candidates {
		if sweepCtx.Err() != nil {
			report.Interrupted = true
			break
		}
		report.add(w.ingester.Ingest(sweepCtx, path, ingest.TriggerSweep))
	}
	report.Duration = time.Since(start)

	w.logger.Info("sweep finished",
		logging.String(logging.FieldEventType, "sweep_finished"),
		logging.Int("processed", report.Processed),
		logging.Int("skipped", report.Skipped),
		logging.Int("failed", report.Failed),
		logging.Int("deferred", report.Deferred),
		logging.Int("records", report.Records),
		logging.Bool("interrupted", report.Interrupted),
		logging.Duration("duration", report.Duration),
	)
	if report.Interrupted {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		return report, nil
	}
	w.metrics.SweepCompleted()
	return report, nil
}

// listUnder returns ingestible files under root in lexical order.
// Subdirectories are descended only in recursive mode, and the processed and
// failed directories are never listed.
func (w *Watcher) listUnder(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			logging.WarnWithContext(w.logger, "skipping unreadable path", "sweep_walk_error",
				logging.String(logging.FieldPath, path),
				logging.Error(err),
				logging.String(logging.FieldImpact, "entries below this path are not swept"),
			)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if !w.cfg.Watcher.Recursive || w.excluded(path) {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.ingester.Accepts(d.Name()) {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// watchDirs returns the directories to subscribe to.
func (w *Watcher) watchDirs() ([]string, error) {
	root := w.layout.Watched
	if !w.cfg.Watcher.Recursive {
		return []string{root}, nil
	}
	var dirs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.excluded(path) {
			return fs.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

func (w *Watcher) excluded(path string) bool {
	clean := filepath.Clean(path)
	return clean == filepath.Clean(w.layout.Processed) || clean == filepath.Clean(w.layout.Failed)
}
