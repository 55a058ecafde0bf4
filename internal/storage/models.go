package storage

import (
	"fmt"
	"strings"
	"time"

	"folderwatch/internal/records"
)

// LedgerStatus is the settled state of one (path, fingerprint) pair.
type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "pending"
	LedgerProcessed LedgerStatus = "processed"
	LedgerFailed    LedgerStatus = "failed"
)

var allLedgerStatuses = []LedgerStatus{LedgerPending, LedgerProcessed, LedgerFailed}

// ParseLedgerStatus converts user input into a LedgerStatus.
func ParseLedgerStatus(value string) (LedgerStatus, error) {
	normalized := LedgerStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allLedgerStatuses {
		if status == normalized {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown ledger status %q", value)
}

// LedgerEntry records the outcome of ingesting one version of a file.
type LedgerEntry struct {
	Path        string
	Fingerprint string
	Status      LedgerStatus
	Reason      string
	Records     int
	Attempts    int // times handling of this content started
	SizeBytes   int64
	ModTime     time.Time
	FirstSeenAt time.Time
	UpdatedAt   time.Time
}

// Batch is the set of records parsed from one file, committed atomically.
type Batch struct {
	SourcePath  string
	Fingerprint string
	Records     []records.Record
}

// Summary aggregates ledger counts for operators.
type Summary struct {
	Pending   int64
	Processed int64
	Failed    int64
	Records   int64
}

// Total returns the number of ledger entries across all statuses.
func (s Summary) Total() int64 {
	return s.Pending + s.Processed + s.Failed
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
