package testsupport

import (
	"path/filepath"
	"testing"

	"folderwatch/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The SQLite database lives inside the temp directory and live events settle
// quickly so watcher tests stay fast.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.BaseDir = base
	cfgVal.Paths.WatchDir = filepath.Join(base, "watched")
	cfgVal.Paths.ProcessedDir = filepath.Join(base, "processed")
	cfgVal.Paths.FailedDir = filepath.Join(base, "failed")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Database.Driver = config.DriverSQLite
	cfgVal.Database.Path = filepath.Join(base, "folderwatch.db")
	cfgVal.Watcher.SettleDelayMS = 20
	cfgVal.Watcher.StopTimeout = 5
	cfgVal.Logging.RetentionDays = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithRelocate toggles moving settled files out of the watched directory.
func WithRelocate(enabled bool) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watcher.Relocate = enabled
	}
}

// WithRecursive enables watching subdirectories of the watched directory.
func WithRecursive() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watcher.Recursive = true
	}
}

// WithSettleDelay overrides the live-event quiet period in milliseconds.
func WithSettleDelay(ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Watcher.SettleDelayMS = ms
	}
}

// WithDatabasePath points the SQLite database at path.
func WithDatabasePath(path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Database.Path = path
	}
}
