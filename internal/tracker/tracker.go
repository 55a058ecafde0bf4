// Package tracker decides whether a file's current content still needs
// ingestion and durably records the outcome once it does.
//
// Identity is the pair (absolute path, content fingerprint): the same path with
// new bytes is a new unit of work, and an unchanged file is never processed
// twice once its "processed" entry has committed.
package tracker

import (
	"context"
	"log/slog"
	"time"

	"folderwatch/internal/fileutil"
	"folderwatch/internal/logging"
	"folderwatch/internal/services"
	"folderwatch/internal/storage"
)

// Ledger is the persistence the tracker needs. *storage.Gateway satisfies it.
type Ledger interface {
	LedgerEntry(ctx context.Context, path, fingerprint string) (*storage.LedgerEntry, error)
	PutLedgerEntry(ctx context.Context, entry storage.LedgerEntry) (bool, error)
}

// FileInfo carries optional attributes recorded alongside an outcome.
type FileInfo struct {
	Size    int64
	ModTime time.Time
}

// Tracker wraps the ingestion ledger.
type Tracker struct {
	ledger Ledger
	logger *slog.Logger
}

// New constructs a tracker over ledger.
func New(ledger Ledger, logger *slog.Logger) *Tracker {
	return &Tracker{ledger: ledger, logger: logging.NewComponentLogger(logger, "tracker")}
}

// UnreadableFingerprint stands in for the content fingerprint of a file whose
// bytes could not be read. It never collides with a hex digest.
const UnreadableFingerprint = "unreadable"

// Fingerprint returns the content fingerprint used as half of a file's identity.
func Fingerprint(data []byte) string {
	return fileutil.Fingerprint(data)
}

// ShouldProcess reports true unless a processed entry exists for exactly
// (path, fingerprint). Failed and pending entries are retried.
func (t *Tracker) ShouldProcess(ctx context.Context, path, fingerprint string) (bool, error) {
	entry, err := t.ledger.LedgerEntry(ctx, path, fingerprint)
	if err != nil {
		return false, err
	}
	if entry == nil {
		return true, nil
	}
	return entry.Status != storage.LedgerProcessed, nil
}

// MarkPending records that the file was seen and is being handled.
func (t *Tracker) MarkPending(ctx context.Context, path, fingerprint string, info FileInfo) error {
	return t.put(ctx, storage.LedgerEntry{
		Path:        path,
		Fingerprint: fingerprint,
		Status:      storage.LedgerPending,
		SizeBytes:   info.Size,
		ModTime:     info.ModTime,
	})
}

// MarkProcessed records a successful ingestion. It returns only after the
// entry has committed.
func (t *Tracker) MarkProcessed(ctx context.Context, path, fingerprint string, records int, info FileInfo) error {
	return t.put(ctx, storage.LedgerEntry{
		Path:        path,
		Fingerprint: fingerprint,
		Status:      storage.LedgerProcessed,
		Records:     records,
		SizeBytes:   info.Size,
		ModTime:     info.ModTime,
	})
}

// MarkFailed records a failed ingestion with its reason. A processed entry for
// the same pair is left untouched.
func (t *Tracker) MarkFailed(ctx context.Context, path, fingerprint, reason string, info FileInfo) error {
	return t.put(ctx, storage.LedgerEntry{
		Path:        path,
		Fingerprint: fingerprint,
		Status:      storage.LedgerFailed,
		Reason:      reason,
		SizeBytes:   info.Size,
		ModTime:     info.ModTime,
	})
}

func (t *Tracker) put(ctx context.Context, entry storage.LedgerEntry) error {
	applied, err := t.ledger.PutLedgerEntry(ctx, entry)
	if err != nil {
		return services.Wrap(services.ErrPersistence, "tracker", "mark "+string(entry.Status), "", err)
	}
	if !applied {
		t.logger.Debug("ledger entry already processed; left unchanged",
			logging.String(logging.FieldEventType, "ledger_write_skipped"),
			logging.String(logging.FieldPath, entry.Path),
			logging.String("requested_status", string(entry.Status)),
		)
	}
	return nil
}
