package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"folderwatch/internal/logging"
	"folderwatch/internal/records"
	"folderwatch/internal/services"
	"folderwatch/internal/storage"
	"folderwatch/internal/testsupport"
)

func salary(v float64) *float64 { return &v }

func employee(id, email string) records.Record {
	return records.Record{EmployeeID: id, FirstName: "F" + id, LastName: "L" + id, Email: email, Salary: salary(10)}
}

func TestConnectIsIdempotentAndDisconnectAlwaysSafe(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gw := storage.New(cfg, logging.NewNop())

	if err := gw.Disconnect(); err != nil {
		t.Fatalf("Disconnect before Connect: %v", err)
	}
	ctx := context.Background()
	if err := gw.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := gw.Connect(ctx); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if !gw.Connected() {
		t.Fatal("expected connected gateway")
	}
	if err := gw.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := gw.Disconnect(); err != nil {
		t.Fatalf("repeated Disconnect: %v", err)
	}
	if gw.Connected() {
		t.Fatal("expected disconnected gateway")
	}
}

func TestConnectFailureIsConnectionError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	// A directory cannot be opened as a database file.
	cfg.Database.Path = t.TempDir()
	gw := storage.New(cfg, logging.NewNop())
	err := gw.Connect(context.Background())
	if !errors.Is(err, services.ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
	if !services.IsFatal(err) {
		t.Fatal("connection errors must be fatal")
	}
}

func TestOperationsRequireConnection(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gw := storage.New(cfg, logging.NewNop())
	ctx := context.Background()

	if err := gw.CreateAllTables(ctx); !errors.Is(err, services.ErrSchema) {
		t.Fatalf("CreateAllTables: expected ErrSchema, got %v", err)
	}
	err := gw.UpsertRecords(ctx, storage.Batch{SourcePath: "x", Fingerprint: "f", Records: []records.Record{employee("1", "a@x.io")}})
	if !errors.Is(err, services.ErrPersistence) {
		t.Fatalf("UpsertRecords: expected ErrPersistence, got %v", err)
	}
	if _, err := gw.LedgerEntry(ctx, "x", "f"); !errors.Is(err, services.ErrPersistence) {
		t.Fatalf("LedgerEntry: expected ErrPersistence, got %v", err)
	}
}

func TestCreateAllTablesIsRepeatable(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gw := testsupport.MustOpenGateway(t, cfg)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := gw.CreateAllTables(ctx); err != nil {
			t.Fatalf("CreateAllTables #%d: %v", i, err)
		}
	}
	count, err := gw.CountRecords(ctx)
	if err != nil || count != 0 {
		t.Fatalf("CountRecords = %d, %v", count, err)
	}
}

func TestSchemaSurvivesReconnect(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDatabasePath(filepath.Join(t.TempDir(), "db", "fw.db")))
	ctx := context.Background()

	first := testsupport.MustOpenGateway(t, cfg)
	if err := first.UpsertRecords(ctx, storage.Batch{SourcePath: "/in/a.csv", Fingerprint: "fp", Records: []records.Record{employee("1", "a@x.io")}}); err != nil {
		t.Fatalf("UpsertRecords: %v", err)
	}
	if err := first.Disconnect(); err != nil {
		t.Fatal(err)
	}

	second := testsupport.MustOpenGateway(t, cfg)
	count, err := second.CountRecords(ctx)
	if err != nil || count != 1 {
		t.Fatalf("CountRecords after reconnect = %d, %v", count, err)
	}
}

func TestUpsertRecordsIsKeyedByEmployeeID(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gw := testsupport.MustOpenGateway(t, cfg)
	ctx := context.Background()

	batch := storage.Batch{SourcePath: "/in/a.csv", Fingerprint: "fp1", Records: []records.Record{
		employee("1", "one@x.io"),
		employee("2", "two@x.io"),
	}}
	if err := gw.UpsertRecords(ctx, batch); err != nil {
		t.Fatalf("UpsertRecords: %v", err)
	}
	// Replaying the same batch converges instead of duplicating.
	if err := gw.UpsertRecords(ctx, batch); err != nil {
		t.Fatalf("replay UpsertRecords: %v", err)
	}

	updated := employee("2", "two@x.io")
	updated.Department = "Finance"
	updated.Salary = nil
	if err := gw.UpsertRecords(ctx, storage.Batch{SourcePath: "/in/b.csv", Fingerprint: "fp2", Records: []records.Record{updated}}); err != nil {
		t.Fatalf("UpsertRecords update: %v", err)
	}

	count, err := gw.CountRecords(ctx)
	if err != nil || count != 2 {
		t.Fatalf("CountRecords = %d, %v", count, err)
	}
	fromB, err := gw.RecordsBySource(ctx, "/in/b.csv")
	if err != nil {
		t.Fatalf("RecordsBySource: %v", err)
	}
	if len(fromB) != 1 || fromB[0].Department != "Finance" || fromB[0].Salary != nil {
		t.Fatalf("unexpected records from b: %+v", fromB)
	}
	fromA, err := gw.RecordsBySource(ctx, "/in/a.csv")
	if err != nil || len(fromA) != 1 || fromA[0].EmployeeID != "1" {
		t.Fatalf("unexpected records from a: %+v, %v", fromA, err)
	}
}

func TestUpsertRecordsIsAllOrNothing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gw := testsupport.MustOpenGateway(t, cfg)
	ctx := context.Background()

	if err := gw.UpsertRecords(ctx, storage.Batch{SourcePath: "/in/a.csv", Fingerprint: "fp1", Records: []records.Record{employee("1", "one@x.io")}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// The third record violates the salary check constraint.
	negative := employee("12", "twelve@x.io")
	negative.Salary = salary(-1)
	bad := storage.Batch{SourcePath: "/in/b.csv", Fingerprint: "fp2", Records: []records.Record{
		employee("10", "ten@x.io"),
		employee("11", "eleven@x.io"),
		negative,
	}}
	err := gw.UpsertRecords(ctx, bad)
	if !errors.Is(err, services.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	count, err := gw.CountRecords(ctx)
	if err != nil || count != 1 {
		t.Fatalf("partial batch became visible: count=%d err=%v", count, err)
	}
	if got, _ := gw.RecordsBySource(ctx, "/in/b.csv"); len(got) != 0 {
		t.Fatalf("expected no records from failed batch, got %d", len(got))
	}
}

func TestLedgerNeverDowngradesProcessed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gw := testsupport.MustOpenGateway(t, cfg)
	ctx := context.Background()

	if entry, err := gw.LedgerEntry(ctx, "/in/a.csv", "fp"); err != nil || entry != nil {
		t.Fatalf("expected no entry, got %+v, %v", entry, err)
	}

	for _, status := range []storage.LedgerStatus{storage.LedgerPending, storage.LedgerFailed, storage.LedgerPending} {
		if _, err := gw.PutLedgerEntry(ctx, storage.LedgerEntry{Path: "/in/a.csv", Fingerprint: "fp", Status: status, Reason: "boom"}); err != nil {
			t.Fatalf("put %s: %v", status, err)
		}
	}
	if _, err := gw.PutLedgerEntry(ctx, storage.LedgerEntry{Path: "/in/a.csv", Fingerprint: "fp", Status: storage.LedgerProcessed, Records: 3}); err != nil {
		t.Fatalf("put processed: %v", err)
	}
	if _, err := gw.PutLedgerEntry(ctx, storage.LedgerEntry{Path: "/in/a.csv", Fingerprint: "fp", Status: storage.LedgerFailed, Reason: "late"}); err != nil {
		t.Fatalf("put late failure: %v", err)
	}

	entry, err := gw.LedgerEntry(ctx, "/in/a.csv", "fp")
	if err != nil || entry == nil {
		t.Fatalf("LedgerEntry: %+v, %v", entry, err)
	}
	if entry.Status != storage.LedgerProcessed || entry.Records != 3 || entry.Reason != "" {
		t.Fatalf("processed entry was modified: %+v", entry)
	}
	if entry.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", entry.Attempts)
	}
	if entry.FirstSeenAt.IsZero() || entry.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps, got %+v", entry)
	}

	all, err := gw.ListLedger(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("expected exactly one ledger row, got %d (%v)", len(all), err)
	}
}

func TestLedgerListSummaryAndDelete(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	gw := testsupport.MustOpenGateway(t, cfg)
	ctx := context.Background()

	puts := []storage.LedgerEntry{
		{Path: "/in/a.csv", Fingerprint: "1", Status: storage.LedgerProcessed},
		{Path: "/in/a.csv", Fingerprint: "2", Status: storage.LedgerProcessed},
		{Path: "/in/b.csv", Fingerprint: "3", Status: storage.LedgerFailed, Reason: "parse"},
	}
	for _, entry := range puts {
		if _, err := gw.PutLedgerEntry(ctx, entry); err != nil {
			t.Fatalf("put %+v: %v", entry, err)
		}
	}
	if _, err := gw.PutLedgerEntry(ctx, storage.LedgerEntry{Path: "", Fingerprint: "x"}); !errors.Is(err, services.ErrPersistence) {
		t.Fatalf("expected rejection of empty path, got %v", err)
	}

	failed, err := gw.ListLedger(ctx, storage.LedgerFailed)
	if err != nil || len(failed) != 1 || failed[0].Reason != "parse" {
		t.Fatalf("ListLedger(failed) = %+v, %v", failed, err)
	}

	summary, err := gw.LedgerSummary(ctx)
	if err != nil {
		t.Fatalf("LedgerSummary: %v", err)
	}
	if summary.Processed != 2 || summary.Failed != 1 || summary.Pending != 0 || summary.Total() != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	removed, err := gw.DeleteLedger(ctx, storage.LedgerFailed)
	if err != nil || removed != 1 {
		t.Fatalf("DeleteLedger(failed) = %d, %v", removed, err)
	}
	removed, err = gw.DeleteLedger(ctx)
	if err != nil || removed != 2 {
		t.Fatalf("DeleteLedger(all) = %d, %v", removed, err)
	}
}

func TestParseLedgerStatus(t *testing.T) {
	if status, err := storage.ParseLedgerStatus(" Failed "); err != nil || status != storage.LedgerFailed {
		t.Fatalf("ParseLedgerStatus = %q, %v", status, err)
	}
	if _, err := storage.ParseLedgerStatus("done"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
