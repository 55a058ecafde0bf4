package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"folderwatch/internal/config"
	"folderwatch/internal/fileutil"
	"folderwatch/internal/folders"
	"folderwatch/internal/logging"
	"folderwatch/internal/metrics"
	"folderwatch/internal/records"
	"folderwatch/internal/services"
	"folderwatch/internal/storage"
	"folderwatch/internal/tracker"
)

// Outcome classifies how one file was handled.
type Outcome string

const (
	// OutcomeProcessed means records were committed and the ledger marked processed.
	OutcomeProcessed Outcome = "processed"
	// OutcomeSkipped means the exact content was already processed.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means parsing or persistence failed; the ledger holds the reason.
	OutcomeFailed Outcome = "failed"
	// OutcomeIgnored means the path is not an ingestible file (vanished,
	// directory, hidden, or unaccepted extension).
	OutcomeIgnored Outcome = "ignored"
	// OutcomeDeferred means the ledger could not be consulted or updated; the
	// file stays in place and is picked up again on the next sweep.
	OutcomeDeferred Outcome = "deferred"
)

// Trigger names what delivered a file to the pipeline.
const (
	TriggerSweep = "sweep"
	TriggerEvent = "event"
	TriggerCLI   = "cli"
)

// RecordStore commits a parsed batch. *storage.Gateway satisfies it.
type RecordStore interface {
	UpsertRecords(ctx context.Context, batch storage.Batch) error
}

// Result describes the handling of one file.
type Result struct {
	Path        string
	Fingerprint string
	Outcome     Outcome
	Records     int
	Reason      string
	Err         error
	Destination string
	Duration    time.Duration
}

// Pipeline ingests individual files.
type Pipeline struct {
	cfg      *config.Config
	layout   folders.Layout
	store    RecordStore
	tracker  *tracker.Tracker
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	readFile func(string) ([]byte, error)
}

// New constructs a pipeline. m may be nil.
func New(cfg *config.Config, store RecordStore, tr *tracker.Tracker, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		layout:   folders.FromConfig(cfg),
		store:    store,
		tracker:  tr,
		metrics:  m,
		logger:   logging.NewComponentLogger(logger, "ingest"),
		now:      time.Now,
		readFile: os.ReadFile,
	}
}

// Accepts reports whether name looks like an ingestible file: a configured
// extension and not a hidden or editor temporary file.
func (p *Pipeline) Accepts(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	return p.cfg.AcceptsFile(base)
}

// Ingest handles one path end to end. It never returns an error: failures are
// logged, recorded in the ledger when possible, and described by the Result.
// Cancellation of ctx does not interrupt a file that has started.
func (p *Pipeline) Ingest(ctx context.Context, path, trigger string) Result {
	start := time.Now()
	ctx = context.WithoutCancel(ctx)

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	ctx = services.WithFilePath(ctx, abs)
	ctx = services.WithTrigger(ctx, trigger)
	ctx = services.WithRequestID(ctx, uuid.NewString())

	res := p.ingest(ctx, abs)
	res.Path = abs
	res.Duration = time.Since(start)
	if res.Outcome != OutcomeIgnored {
		p.metrics.ObserveFile(string(res.Outcome), res.Records, res.Duration)
	}
	return res
}

func (p *Pipeline) ingest(ctx context.Context, path string) Result {
	logger := logging.WithContext(ctx, p.logger)

	if !p.Accepts(path) {
		logger.Debug("path not ingestible; ignored", logging.String(logging.FieldEventType, "file_ignored"))
		return Result{Outcome: OutcomeIgnored, Reason: "unaccepted file name"}
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("file vanished before handling", logging.String(logging.FieldEventType, "file_vanished"))
		return Result{Outcome: OutcomeIgnored, Reason: "file no longer exists"}
	}
	if err != nil {
		return p.unreadable(ctx, tracker.FileInfo{}, services.Wrap(services.ErrIO, "ingest", "stat", "", err))
	}
	if !info.Mode().IsRegular() {
		return Result{Outcome: OutcomeIgnored, Reason: "not a regular file"}
	}

	data, err := p.readFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Result{Outcome: OutcomeIgnored, Reason: "file no longer exists"}
	}
	if err != nil {
		seen := tracker.FileInfo{Size: info.Size(), ModTime: info.ModTime()}
		return p.unreadable(ctx, seen, services.Wrap(services.ErrIO, "ingest", "read", "", err))
	}

	fingerprint := tracker.Fingerprint(data)
	ctx = services.WithFingerprint(ctx, fingerprint)
	logger = logging.WithContext(ctx, p.logger)
	fileInfo := tracker.FileInfo{Size: int64(len(data)), ModTime: info.ModTime()}
	res := Result{Fingerprint: fingerprint}

	should, err := p.tracker.ShouldProcess(ctx, path, fingerprint)
	if err != nil {
		return p.deferred(logger, res, err, "ledger lookup failed; file left in place")
	}
	if !should {
		logger.Info("content already processed; skipping",
			logging.String(logging.FieldEventType, "file_skipped"),
		)
		res.Outcome = OutcomeSkipped
		res.Destination = p.relocate(logger, path, p.layout.Processed)
		return res
	}

	if err := p.tracker.MarkPending(ctx, path, fingerprint, fileInfo); err != nil {
		return p.deferred(logger, res, err, "ledger write failed; file left in place")
	}

	parsed, err := records.Parse(data, records.FileMeta{
		Path:        path,
		Size:        fileInfo.Size,
		ModTime:     fileInfo.ModTime,
		Fingerprint: fingerprint,
	})
	if err != nil {
		return p.fail(ctx, logger, res, fileInfo, services.Wrap(services.ErrParse, "ingest", "parse", "", err))
	}

	batch := storage.Batch{SourcePath: path, Fingerprint: fingerprint, Records: parsed}
	if err := p.store.UpsertRecords(ctx, batch); err != nil {
		return p.fail(ctx, logger, res, fileInfo, err)
	}

	if err := p.tracker.MarkProcessed(ctx, path, fingerprint, len(parsed), fileInfo); err != nil {
		// Records are committed but the ledger is not; the file stays so a
		// restart replays it and the keyed upsert converges.
		return p.deferred(logger, res, err, "records committed but ledger not updated; file left in place")
	}

	res.Outcome = OutcomeProcessed
	res.Records = len(parsed)
	logger.Info("file ingested",
		logging.String(logging.FieldEventType, "file_processed"),
		logging.Int("records", len(parsed)),
	)
	res.Destination = p.relocate(logger, path, p.layout.Processed)
	return res
}

func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, res Result, info tracker.FileInfo, cause error) Result {
	res.Outcome = OutcomeFailed
	res.Err = cause
	res.Reason = cause.Error()
	path, _ := services.FilePathFromContext(ctx)

	logging.ErrorWithContext(logger, "file ingestion failed", "file_failed",
		logging.Error(cause),
		logging.String("error_kind", services.Kind(cause)),
		logging.String(logging.FieldErrorHint, failureHint(cause)),
	)
	if err := p.tracker.MarkFailed(ctx, path, res.Fingerprint, res.Reason, info); err != nil {
		logging.WarnWithContext(logger, "could not record failure; file left in place", "ledger_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "file will be retried on the next sweep"),
		)
		return res
	}
	res.Destination = p.relocate(logger, path, p.layout.Failed)
	return res
}

func (p *Pipeline) deferred(logger *slog.Logger, res Result, err error, msg string) Result {
	res.Outcome = OutcomeDeferred
	res.Err = err
	res.Reason = err.Error()
	logging.WarnWithContext(logger, msg, "file_deferred",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check database connectivity"),
		logging.String(logging.FieldImpact, "file will be retried on the next sweep or restart"),
	)
	return res
}

// unreadable records a file whose bytes could not be read as failed under
// UnreadableFingerprint and moves it to the failed directory. Once the file
// becomes readable again its real fingerprint gives it a fresh ledger entry.
func (p *Pipeline) unreadable(ctx context.Context, info tracker.FileInfo, cause error) Result {
	ctx = services.WithFingerprint(ctx, tracker.UnreadableFingerprint)
	return p.fail(ctx, logging.WithContext(ctx, p.logger), Result{Fingerprint: tracker.UnreadableFingerprint}, info, cause)
}

// relocate moves path into dir when relocation is enabled and returns the new
// location. Failure is logged; the ledger outcome already stands.
func (p *Pipeline) relocate(logger *slog.Logger, path, dir string) string {
	if !p.cfg.Watcher.Relocate || dir == "" {
		return ""
	}
	dest, err := fileutil.Relocate(path, dir, p.now())
	if err != nil {
		logging.WarnWithContext(logger, "relocation failed; file left in place", "relocate_failed",
			logging.Error(services.Wrap(services.ErrIO, "ingest", "relocate", "", err)),
			logging.String("target_dir", dir),
			logging.String(logging.FieldErrorHint, "check permissions on the processed and failed directories"),
			logging.String(logging.FieldImpact, "file is re-examined on the next sweep"),
		)
		return ""
	}
	logger.Debug("file relocated",
		logging.String(logging.FieldEventType, "file_relocated"),
		logging.String("destination", dest),
	)
	return dest
}

func failureHint(err error) string {
	switch {
	case errors.Is(err, services.ErrParse):
		return "fix the file contents and drop it into the watched directory again"
	case errors.Is(err, services.ErrPersistence):
		return "check database connectivity and constraints; clear the failed ledger entry to retry"
	case errors.Is(err, services.ErrIO):
		return "check file permissions, then move the file back into the watched directory"
	default:
		return "check logs for details"
	}
}
