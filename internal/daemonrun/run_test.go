package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"folderwatch/internal/daemon"
	"folderwatch/internal/logging"
	"folderwatch/internal/services"
	"folderwatch/internal/testsupport"
)

func TestRunWritesRunLogAndCleansUp(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Logging.Format = "json"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := Run(ctx, cfg, Options{LogLevel: "info"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "folderwatch.pid")); !os.IsNotExist(err) {
		t.Fatalf("pid file should be removed on exit, stat err=%v", err)
	}
	matches, err := filepath.Glob(filepath.Join(cfg.Paths.LogDir, "folderwatch-*.log"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one run log, got %v (err=%v)", matches, err)
	}
	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "folderwatch.log"))
	if err != nil {
		t.Fatalf("read current log pointer: %v", err)
	}
	for _, want := range []string{`"run_id"`, "folderwatch daemon started", "folderwatch daemon stopped"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("run log missing %q:\n%s", want, data)
		}
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestWritePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "folderwatch.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pid: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("unexpected pid file contents %q", data)
	}
	if err := writePIDFile(""); err != nil {
		t.Fatalf("empty path should be a no-op: %v", err)
	}
}

func TestEnsureCurrentLogPointerReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "folderwatch-a.log")
	second := filepath.Join(dir, "folderwatch-b.log")
	testsupport.WriteFile(t, first, "first\n")
	testsupport.WriteFile(t, second, "second\n")

	if err := ensureCurrentLogPointer(dir, first); err != nil {
		t.Fatalf("first pointer: %v", err)
	}
	if err := ensureCurrentLogPointer(dir, second); err != nil {
		t.Fatalf("second pointer: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "folderwatch.log"))
	if err != nil {
		t.Fatalf("read pointer: %v", err)
	}
	if string(data) != "second\n" {
		t.Fatalf("pointer should follow the newest run log, got %q", data)
	}
}

func TestRunPrunesStaleRunLogs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Logging.Format = "json"
	cfg.Logging.RetentionDays = 3
	stale := logging.RunLogPath(cfg.Paths.LogDir, "previous")
	testsupport.WriteFile(t, stale, "old run\n")
	old := time.Now().AddDate(0, 0, -7)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := Run(ctx, cfg, Options{}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale run log should be pruned, stat err=%v", err)
	}
	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "folderwatch.log"))
	if err != nil {
		t.Fatalf("read current log pointer: %v", err)
	}
	if !strings.Contains(string(data), `"removed":1`) {
		t.Fatalf("run log should report the pruned count:\n%s", data)
	}
}

func TestStartupHintFollowsErrorClass(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w (lock /x)", daemon.ErrLocked), "another folderwatch"},
		{services.Wrap(services.ErrConnection, "storage", "connect", "", errors.New("refused")), "database"},
		{services.Wrap(services.ErrIO, "watcher", "setup folders", "", nil), "folders"},
		{errors.New("other"), "run log"},
	}
	for _, tc := range cases {
		if got := startupHint(tc.err); !strings.Contains(got, tc.want) {
			t.Fatalf("startupHint(%v) = %q, want mention of %q", tc.err, got, tc.want)
		}
	}
}
