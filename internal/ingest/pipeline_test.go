package ingest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"folderwatch/internal/config"
	"folderwatch/internal/folders"
	"folderwatch/internal/ingest"
	"folderwatch/internal/logging"
	"folderwatch/internal/metrics"
	"folderwatch/internal/services"
	"folderwatch/internal/storage"
	"folderwatch/internal/testsupport"
	"folderwatch/internal/tracker"
)

type harness struct {
	cfg      *config.Config
	gw       *storage.Gateway
	pipeline *ingest.Pipeline
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	if err := folders.Ensure(folders.FromConfig(cfg)); err != nil {
		t.Fatalf("folders.Ensure: %v", err)
	}
	gw := testsupport.MustOpenGateway(t, cfg)
	tr := tracker.New(gw, logging.NewNop())
	return &harness{
		cfg:      cfg,
		gw:       gw,
		pipeline: ingest.New(cfg, gw, tr, metrics.New(), logging.NewNop()),
	}
}

func (h *harness) drop(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.cfg.Paths.WatchDir, name)
	testsupport.WriteFile(t, path, content)
	return path
}

func (h *harness) count(t *testing.T) int64 {
	t.Helper()
	n, err := h.gw.CountRecords(context.Background())
	if err != nil {
		t.Fatalf("CountRecords: %v", err)
	}
	return n
}

func TestIngestProcessesAndRelocates(t *testing.T) {
	h := newHarness(t)
	path := h.drop(t, "staff.csv", testsupport.EmployeeCSV("1", "2", "3"))

	res := h.pipeline.Ingest(context.Background(), path, ingest.TriggerSweep)
	if res.Outcome != ingest.OutcomeProcessed || res.Records != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if h.count(t) != 3 {
		t.Fatalf("expected 3 records")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should have left the watched dir: %v", err)
	}
	if filepath.Dir(res.Destination) != h.cfg.Paths.ProcessedDir || !strings.HasSuffix(res.Destination, "_staff.csv") {
		t.Fatalf("unexpected destination %q", res.Destination)
	}

	entry, err := h.gw.LedgerEntry(context.Background(), path, res.Fingerprint)
	if err != nil || entry == nil || entry.Status != storage.LedgerProcessed || entry.Records != 3 {
		t.Fatalf("ledger entry = %+v, %v", entry, err)
	}
}

func TestIngestIsIdempotent(t *testing.T) {
	h := newHarness(t, testsupport.WithRelocate(false))
	path := h.drop(t, "staff.csv", testsupport.EmployeeCSV("1", "2"))
	ctx := context.Background()

	first := h.pipeline.Ingest(ctx, path, ingest.TriggerSweep)
	second := h.pipeline.Ingest(ctx, path, ingest.TriggerEvent)
	if first.Outcome != ingest.OutcomeProcessed {
		t.Fatalf("first = %+v", first)
	}
	if second.Outcome != ingest.OutcomeSkipped || second.Fingerprint != first.Fingerprint {
		t.Fatalf("second = %+v", second)
	}
	if h.count(t) != 2 {
		t.Fatalf("records duplicated")
	}
	// One entry and one attempt; the skipped replay writes nothing.
	entries, err := h.gw.ListLedger(ctx)
	if err != nil || len(entries) != 1 || entries[0].Attempts != 1 {
		t.Fatalf("ledger = %+v, %v", entries, err)
	}
}

func TestIngestSkipsTouchedButUnchangedFile(t *testing.T) {
	h := newHarness(t, testsupport.WithRelocate(false))
	path := h.drop(t, "staff.csv", testsupport.EmployeeCSV("1", "2"))
	ctx := context.Background()

	first := h.pipeline.Ingest(ctx, path, ingest.TriggerSweep)
	if first.Outcome != ingest.OutcomeProcessed {
		t.Fatalf("first = %+v", first)
	}
	later := time.Now().Add(2 * time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	second := h.pipeline.Ingest(ctx, path, ingest.TriggerEvent)
	if second.Outcome != ingest.OutcomeSkipped || second.Fingerprint != first.Fingerprint {
		t.Fatalf("touched file should be skipped by content, got %+v", second)
	}
	if h.count(t) != 2 {
		t.Fatalf("records duplicated")
	}
	entries, err := h.gw.ListLedger(ctx)
	if err != nil || len(entries) != 1 || entries[0].Status != storage.LedgerProcessed {
		t.Fatalf("ledger = %+v, %v", entries, err)
	}
}

func TestIngestDetectsChangedContent(t *testing.T) {
	h := newHarness(t, testsupport.WithRelocate(false))
	path := h.drop(t, "staff.csv", testsupport.EmployeeCSV("1"))
	ctx := context.Background()

	first := h.pipeline.Ingest(ctx, path, ingest.TriggerSweep)
	testsupport.WriteFile(t, path, testsupport.EmployeeCSV("1", "2"))
	second := h.pipeline.Ingest(ctx, path, ingest.TriggerEvent)

	if first.Outcome != ingest.OutcomeProcessed || second.Outcome != ingest.OutcomeProcessed {
		t.Fatalf("outcomes = %s, %s", first.Outcome, second.Outcome)
	}
	if first.Fingerprint == second.Fingerprint {
		t.Fatal("changed content must produce a new fingerprint")
	}
	if h.count(t) != 2 {
		t.Fatalf("expected 2 records after update, got %d", h.count(t))
	}
	processed, err := h.gw.ListLedger(ctx, storage.LedgerProcessed)
	if err != nil || len(processed) != 2 {
		t.Fatalf("expected two processed entries, got %+v (%v)", processed, err)
	}
}

func TestIngestParseFailureMarksFailedAndRelocates(t *testing.T) {
	h := newHarness(t)
	good := h.drop(t, "good.csv", testsupport.EmployeeCSV("1"))
	bad := h.drop(t, "bad.csv", "employee_id,first_name,last_name,email\n7,Ada,L,not-an-email\n")
	ctx := context.Background()

	badRes := h.pipeline.Ingest(ctx, bad, ingest.TriggerSweep)
	if badRes.Outcome != ingest.OutcomeFailed || !errors.Is(badRes.Err, services.ErrParse) {
		t.Fatalf("bad result = %+v", badRes)
	}
	if !strings.Contains(badRes.Reason, "line 2") {
		t.Fatalf("reason should locate the failure: %q", badRes.Reason)
	}
	if filepath.Dir(badRes.Destination) != h.cfg.Paths.FailedDir {
		t.Fatalf("bad file destination = %q", badRes.Destination)
	}
	entry, err := h.gw.LedgerEntry(ctx, bad, badRes.Fingerprint)
	if err != nil || entry == nil || entry.Status != storage.LedgerFailed || entry.Reason != badRes.Reason {
		t.Fatalf("ledger entry = %+v, %v", entry, err)
	}

	goodRes := h.pipeline.Ingest(ctx, good, ingest.TriggerSweep)
	if goodRes.Outcome != ingest.OutcomeProcessed {
		t.Fatalf("good file affected by bad file: %+v", goodRes)
	}
	if h.count(t) != 1 {
		t.Fatalf("expected only the good file's record")
	}
}

type failingStore struct{}

func (failingStore) UpsertRecords(context.Context, storage.Batch) error {
	return services.Wrap(services.ErrPersistence, "storage", "upsert records", "constraint violation", errors.New("CHECK constraint failed"))
}

func TestIngestPersistenceFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	tr := tracker.New(h.gw, logging.NewNop())
	broken := ingest.New(h.cfg, failingStore{}, tr, nil, logging.NewNop())
	path := h.drop(t, "staff.csv", testsupport.EmployeeCSV("1"))

	res := broken.Ingest(context.Background(), path, ingest.TriggerSweep)
	if res.Outcome != ingest.OutcomeFailed || !errors.Is(res.Err, services.ErrPersistence) {
		t.Fatalf("result = %+v", res)
	}
	if filepath.Dir(res.Destination) != h.cfg.Paths.FailedDir {
		t.Fatalf("destination = %q", res.Destination)
	}
	if h.count(t) != 0 {
		t.Fatal("no records may be visible after a failed upsert")
	}

	next := h.drop(t, "next.csv", testsupport.EmployeeCSV("2"))
	if res := h.pipeline.Ingest(context.Background(), next, ingest.TriggerSweep); res.Outcome != ingest.OutcomeProcessed {
		t.Fatalf("subsequent file not processed: %+v", res)
	}
}

// processedWriteFails simulates a crash between the upsert and the ledger
// commit: every attempt to mark an entry processed fails.
type processedWriteFails struct {
	*storage.Gateway
}

func (l processedWriteFails) PutLedgerEntry(ctx context.Context, entry storage.LedgerEntry) (bool, error) {
	if entry.Status == storage.LedgerProcessed {
		return false, errors.New("connection reset")
	}
	return l.Gateway.PutLedgerEntry(ctx, entry)
}

func TestIngestCrashBetweenUpsertAndMarkReplaysSafely(t *testing.T) {
	h := newHarness(t)
	path := h.drop(t, "staff.csv", testsupport.EmployeeCSV("1", "2"))
	ctx := context.Background()

	crashing := ingest.New(h.cfg, h.gw, tracker.New(processedWriteFails{h.gw}, nil), nil, logging.NewNop())
	res := crashing.Ingest(ctx, path, ingest.TriggerSweep)
	if res.Outcome != ingest.OutcomeDeferred {
		t.Fatalf("expected deferred outcome, got %+v", res)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file must stay in the watched dir: %v", err)
	}
	if h.count(t) != 2 {
		t.Fatalf("records should be committed")
	}

	// Restart with a healthy ledger.
	replay := h.pipeline.Ingest(ctx, path, ingest.TriggerSweep)
	if replay.Outcome != ingest.OutcomeProcessed {
		t.Fatalf("replay = %+v", replay)
	}
	if h.count(t) != 2 {
		t.Fatalf("replay duplicated records: %d", h.count(t))
	}
}

func TestIngestDefersWhenLedgerUnreachable(t *testing.T) {
	h := newHarness(t)
	path := h.drop(t, "staff.csv", testsupport.EmployeeCSV("1"))
	if err := h.gw.Disconnect(); err != nil {
		t.Fatal(err)
	}
	res := h.pipeline.Ingest(context.Background(), path, ingest.TriggerSweep)
	if res.Outcome != ingest.OutcomeDeferred {
		t.Fatalf("expected deferred, got %+v", res)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file must stay in place: %v", err)
	}
}

func TestIngestIgnoresNonCandidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cases := map[string]string{
		"unaccepted": h.drop(t, "notes.txt", "hello"),
		"hidden":     h.drop(t, ".staff.csv", testsupport.EmployeeCSV("1")),
		"vanished":   filepath.Join(h.cfg.Paths.WatchDir, "gone.csv"),
	}
	dir := filepath.Join(h.cfg.Paths.WatchDir, "nested.csv")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	cases["directory"] = dir

	for name, path := range cases {
		if res := h.pipeline.Ingest(ctx, path, ingest.TriggerEvent); res.Outcome != ingest.OutcomeIgnored {
			t.Fatalf("%s: expected ignored, got %+v", name, res)
		}
	}
	entries, _ := h.gw.ListLedger(ctx)
	if len(entries) != 0 {
		t.Fatalf("ignored paths must not touch the ledger: %+v", entries)
	}
}

func TestIngestCompletesDespiteCancelledContext(t *testing.T) {
	h := newHarness(t)
	path := h.drop(t, "staff.json", `[{"employee_id": "9", "first_name": "A", "last_name": "B", "email": "a@b.io"}]`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := h.pipeline.Ingest(ctx, path, ingest.TriggerEvent)
	if res.Outcome != ingest.OutcomeProcessed || res.Records != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestIngestEmptyFileFails(t *testing.T) {
	h := newHarness(t, testsupport.WithRelocate(false))
	path := h.drop(t, "empty.csv", "")
	res := h.pipeline.Ingest(context.Background(), path, ingest.TriggerSweep)
	if res.Outcome != ingest.OutcomeFailed || !errors.Is(res.Err, services.ErrParse) {
		t.Fatalf("result = %+v", res)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file should stay when relocation is disabled: %v", err)
	}
}

func TestIngestUnreadableFileIsRecordedAsFailed(t *testing.T) {
	h := newHarness(t)
	path := h.drop(t, "locked.csv", testsupport.EmployeeCSV("1"))
	ctx := context.Background()

	ingest.SetReadFile(h.pipeline, func(string) ([]byte, error) {
		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrPermission}
	})
	res := h.pipeline.Ingest(ctx, path, ingest.TriggerSweep)
	if res.Outcome != ingest.OutcomeFailed || !errors.Is(res.Err, services.ErrIO) {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Fingerprint != tracker.UnreadableFingerprint {
		t.Fatalf("fingerprint = %q", res.Fingerprint)
	}
	if filepath.Dir(res.Destination) != h.cfg.Paths.FailedDir {
		t.Fatalf("unreadable file should move to failed/, destination %q", res.Destination)
	}
	entry, err := h.gw.LedgerEntry(ctx, path, tracker.UnreadableFingerprint)
	if err != nil || entry == nil || entry.Status != storage.LedgerFailed || entry.Reason == "" {
		t.Fatalf("ledger entry = %+v, %v", entry, err)
	}

	// Once readable again the same name is ingested under its real fingerprint.
	ingest.SetReadFile(h.pipeline, os.ReadFile)
	h.drop(t, "locked.csv", testsupport.EmployeeCSV("1"))
	again := h.pipeline.Ingest(ctx, path, ingest.TriggerEvent)
	if again.Outcome != ingest.OutcomeProcessed || again.Fingerprint == tracker.UnreadableFingerprint {
		t.Fatalf("retry = %+v", again)
	}
}
