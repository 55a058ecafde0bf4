package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	watchDir   string
	processed  string
	failed     string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)

	env := &cliTestEnv{
		baseDir:    base,
		configPath: filepath.Join(base, "folderwatch.toml"),
		watchDir:   filepath.Join(base, "watched"),
		processed:  filepath.Join(base, "processed"),
		failed:     filepath.Join(base, "failed"),
	}
	content := fmt.Sprintf(`[paths]
base_dir = %q
watch_dir = %q
processed_dir = %q
failed_dir = %q
log_dir = %q

[database]
driver = "sqlite"
path = %q

[watcher]
settle_delay_ms = 20

[logging]
level = "error"
`, base, env.watchDir, env.processed, env.failed, filepath.Join(base, "logs"), filepath.Join(base, "folderwatch.db"))
	if err := os.WriteFile(env.configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func ledgerSummary(t *testing.T, configPath string) ledgerSummaryView {
	t.Helper()
	out, _, err := runCLI(t, []string{"ledger", "summary", "--json"}, configPath)
	if err != nil {
		t.Fatalf("ledger summary: %v", err)
	}
	var view ledgerSummaryView
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode summary %q: %v", out, err)
	}
	return view
}

const staffCSV = "employee_id,first_name,last_name,email,department,position,salary,hire_date\n" +
	"1,Ada,Lovelace,ada@example.com,engineering,analyst,1200,2020-01-02\n" +
	"2,Alan,Turing,alan@example.com,research,scientist,1300,2021-03-04\n"

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err := runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}

	if _, _, err := runCLI(t, []string{"config", "validate"}, env.configPath); err == nil {
		t.Fatal("expected validate to fail before folders exist")
	}
	out, _, err = runCLI(t, []string{"config", "validate", "--create"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate --create: %v\n%s", err, out)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, "watched:")
}

func TestIngestCommandUpdatesLedger(t *testing.T) {
	env := setupCLITestEnv(t)
	good := filepath.Join(env.watchDir, "staff.csv")
	writeFile(t, good, staffCSV)

	out, _, err := runCLI(t, []string{"ingest", good}, env.configPath)
	if err != nil {
		t.Fatalf("ingest: %v\n%s", err, out)
	}
	requireContains(t, out, "processed")
	requireContains(t, out, "staff.csv")

	summary := ledgerSummary(t, env.configPath)
	if summary.Processed != 1 || summary.Failed != 0 || summary.Records != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}

	out, _, err = runCLI(t, []string{"ledger", "summary"}, env.configPath)
	if err != nil {
		t.Fatalf("ledger summary table: %v", err)
	}
	requireContains(t, out, "Total files")
	requireContains(t, out, "Stored records")

	out, _, err = runCLI(t, []string{"ledger", "list", "--status", "processed"}, env.configPath)
	if err != nil {
		t.Fatalf("ledger list: %v", err)
	}
	requireContains(t, out, "staff.csv")
	requireContains(t, out, "processed")
}

func TestIngestFailureAndClear(t *testing.T) {
	env := setupCLITestEnv(t)
	bad := filepath.Join(env.watchDir, "broken.csv")
	writeFile(t, bad, "employee_id,first_name\n1,Ada\n")

	out, _, err := runCLI(t, []string{"ingest", "--json", bad}, env.configPath)
	if err == nil {
		t.Fatal("expected ingest of a malformed file to report failure")
	}
	var results []ingestResultView
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode results %q: %v", out, err)
	}
	if len(results) != 1 || results[0].Outcome != "failed" || results[0].Reason == "" {
		t.Fatalf("unexpected results %+v", results)
	}

	out, _, err = runCLI(t, []string{"ledger", "list", "--status", "failed", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("ledger list: %v", err)
	}
	var entries []ledgerEntryView
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode entries %q: %v", out, err)
	}
	if len(entries) != 1 || entries[0].Status != "failed" || entries[0].Attempts != 1 {
		t.Fatalf("unexpected entries %+v", entries)
	}

	if _, _, err := runCLI(t, []string{"ledger", "clear"}, env.configPath); err == nil {
		t.Fatal("expected clear without a scope flag to fail")
	}
	out, _, err = runCLI(t, []string{"ledger", "clear", "--failed"}, env.configPath)
	if err != nil {
		t.Fatalf("ledger clear: %v", err)
	}
	requireContains(t, out, "Cleared 1 failed entries")
	if summary := ledgerSummary(t, env.configPath); summary.Total != 0 {
		t.Fatalf("expected empty ledger after clear, got %+v", summary)
	}
}

func TestLedgerListRejectsUnknownStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"ledger", "list", "--status", "archived"}, env.configPath); err == nil {
		t.Fatal("expected unknown status to be rejected")
	}
	out, _, err := runCLI(t, []string{"ledger", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("ledger list: %v", err)
	}
	requireContains(t, out, "Ledger is empty")
}

func TestBuildLedgerRowsTruncatesReason(t *testing.T) {
	if got := truncate(strings.Repeat("x", 80), 10); len([]rune(got)) != 10 {
		t.Fatalf("truncate returned %q", got)
	}
	if got := colorizeStatus("failed", false); got != "failed" {
		t.Fatalf("uncolored status changed: %q", got)
	}
	if got := colorizeStatus("failed", true); !strings.HasPrefix(got, ansiRed) {
		t.Fatalf("expected red status, got %q", got)
	}
}
