package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// RunLogPattern matches the per-run daemon logs kept in the log directory.
const RunLogPattern = "folderwatch-*.log"

// RunLogPath names the log file of one daemon run.
func RunLogPath(dir, runID string) string {
	return filepath.Join(dir, "folderwatch-"+runID+".log")
}

// PruneRunLogs removes run logs in dir whose last write is older than
// retentionDays and returns the removed paths in name order. current, the log
// of the run doing the pruning, is never removed, and neither is a symlink.
// retentionDays <= 0 keeps everything.
func PruneRunLogs(logger *slog.Logger, dir string, retentionDays int, current string) []string {
	if retentionDays <= 0 || dir == "" {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, RunLogPattern))
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	keep := filepath.Clean(current)
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	var removed []string
	for _, path := range matches {
		if filepath.Clean(path) == keep {
			continue
		}
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "run log removal failed", "log_retention_failed",
				String(FieldPath, path),
				Error(err),
				String(FieldErrorHint, "check permissions on the log directory"),
				String(FieldImpact, "old run log remains on disk"),
			)
			continue
		}
		removed = append(removed, path)
		if logger != nil {
			logger.Debug("run log pruned",
				String(FieldPath, path),
				String(FieldEventType, "log_pruned"),
			)
		}
	}
	return removed
}
