package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"folderwatch/internal/services"
)

const ledgerColumns = "path, fingerprint, status, reason, records, attempts, size_bytes, mod_time, first_seen_at, updated_at"

// A processed entry is terminal: the conditional DO UPDATE leaves it untouched.
const putLedgerSQL = `INSERT INTO ingestion_ledger (` + ledgerColumns + `)
VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
ON CONFLICT (path, fingerprint) DO UPDATE SET
    status = excluded.status,
    reason = excluded.reason,
    records = excluded.records,
    attempts = ingestion_ledger.attempts + CASE WHEN excluded.status = 'pending' THEN 1 ELSE 0 END,
    size_bytes = excluded.size_bytes,
    mod_time = excluded.mod_time,
    updated_at = excluded.updated_at
WHERE ingestion_ledger.status <> 'processed'`

func scanLedgerEntry(scanner interface{ Scan(dest ...any) error }) (*LedgerEntry, error) {
	var (
		entry     LedgerEntry
		status    string
		modTime   string
		firstSeen string
		updated   string
	)
	if err := scanner.Scan(
		&entry.Path,
		&entry.Fingerprint,
		&status,
		&entry.Reason,
		&entry.Records,
		&entry.Attempts,
		&entry.SizeBytes,
		&modTime,
		&firstSeen,
		&updated,
	); err != nil {
		return nil, err
	}
	entry.Status = LedgerStatus(status)
	entry.ModTime = parseTime(modTime)
	entry.FirstSeenAt = parseTime(firstSeen)
	entry.UpdatedAt = parseTime(updated)
	return &entry, nil
}

// LedgerEntry returns the entry for exactly (path, fingerprint), or nil when
// none exists.
func (g *Gateway) LedgerEntry(ctx context.Context, path, fingerprint string) (*LedgerEntry, error) {
	ctx = ensureContext(ctx)
	db := g.handle()
	if db == nil {
		return nil, services.Wrap(services.ErrPersistence, "storage", "ledger lookup", "not connected", nil)
	}
	row := db.QueryRowContext(ctx,
		g.dialect.rebind("SELECT "+ledgerColumns+" FROM ingestion_ledger WHERE path = ? AND fingerprint = ?"),
		path, fingerprint,
	)
	entry, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "storage", "ledger lookup", "", err)
	}
	return entry, nil
}

// PutLedgerEntry inserts or updates the entry for (Path, Fingerprint). An
// existing processed entry is never overwritten; applied reports whether the
// write took effect.
func (g *Gateway) PutLedgerEntry(ctx context.Context, entry LedgerEntry) (bool, error) {
	ctx = ensureContext(ctx)
	db := g.handle()
	if db == nil {
		return false, services.Wrap(services.ErrPersistence, "storage", "ledger write", "not connected", nil)
	}
	if strings.TrimSpace(entry.Path) == "" || strings.TrimSpace(entry.Fingerprint) == "" {
		return false, services.Wrap(services.ErrPersistence, "storage", "ledger write", "path and fingerprint are required", nil)
	}
	if entry.Status == "" {
		entry.Status = LedgerPending
	}
	now := time.Now()
	res, err := g.execWithRetry(ctx, db, putLedgerSQL,
		entry.Path,
		entry.Fingerprint,
		string(entry.Status),
		entry.Reason,
		entry.Records,
		entry.SizeBytes,
		formatTime(entry.ModTime),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return false, services.Wrap(services.ErrPersistence, "storage", "ledger write", string(entry.Status), err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return true, nil
	}
	return affected > 0, nil
}

// ListLedger returns ledger entries, newest first, optionally filtered by status.
func (g *Gateway) ListLedger(ctx context.Context, statuses ...LedgerStatus) ([]LedgerEntry, error) {
	ctx = ensureContext(ctx)
	db := g.handle()
	if db == nil {
		return nil, services.Wrap(services.ErrPersistence, "storage", "ledger list", "not connected", nil)
	}
	query := "SELECT " + ledgerColumns + " FROM ingestion_ledger"
	where, args := statusFilter(statuses)
	query += where + " ORDER BY updated_at DESC, path"

	rows, err := db.QueryContext(ctx, g.dialect.rebind(query), args...)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "storage", "ledger list", "", err)
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, services.Wrap(services.ErrPersistence, "storage", "ledger list", "scan", err)
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrPersistence, "storage", "ledger list", "", err)
	}
	return out, nil
}

// LedgerSummary counts ledger entries by status and totals the stored records.
func (g *Gateway) LedgerSummary(ctx context.Context) (Summary, error) {
	ctx = ensureContext(ctx)
	db := g.handle()
	if db == nil {
		return Summary{}, services.Wrap(services.ErrPersistence, "storage", "ledger summary", "not connected", nil)
	}
	rows, err := db.QueryContext(ctx, "SELECT status, COUNT(1) FROM ingestion_ledger GROUP BY status")
	if err != nil {
		return Summary{}, services.Wrap(services.ErrPersistence, "storage", "ledger summary", "", err)
	}
	defer rows.Close()

	var summary Summary
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return Summary{}, services.Wrap(services.ErrPersistence, "storage", "ledger summary", "scan", err)
		}
		switch LedgerStatus(status) {
		case LedgerPending:
			summary.Pending = count
		case LedgerProcessed:
			summary.Processed = count
		case LedgerFailed:
			summary.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return Summary{}, services.Wrap(services.ErrPersistence, "storage", "ledger summary", "", err)
	}
	rows.Close()

	count, err := g.CountRecords(ctx)
	if err != nil {
		return Summary{}, err
	}
	summary.Records = count
	return summary, nil
}

// DeleteLedger removes entries with the given statuses (all entries when none
// are given) and returns how many were removed. Removed files become eligible
// for ingestion again.
func (g *Gateway) DeleteLedger(ctx context.Context, statuses ...LedgerStatus) (int64, error) {
	ctx = ensureContext(ctx)
	db := g.handle()
	if db == nil {
		return 0, services.Wrap(services.ErrPersistence, "storage", "ledger delete", "not connected", nil)
	}
	where, args := statusFilter(statuses)
	res, err := g.execWithRetry(ctx, db, "DELETE FROM ingestion_ledger"+where, args...)
	if err != nil {
		return 0, services.Wrap(services.ErrPersistence, "storage", "ledger delete", "", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return removed, nil
}

func statusFilter(statuses []LedgerStatus) (string, []any) {
	if len(statuses) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = "?"
		args[i] = string(status)
	}
	return " WHERE status IN (" + strings.Join(placeholders, ", ") + ")", args
}
