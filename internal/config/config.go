package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Paths contains the directory layout used by the watcher.
type Paths struct {
	BaseDir      string `toml:"base_dir"`
	WatchDir     string `toml:"watch_dir"`
	ProcessedDir string `toml:"processed_dir"`
	FailedDir    string `toml:"failed_dir"`
	LogDir       string `toml:"log_dir"`
}

// Database contains connection parameters for the record store.
type Database struct {
	Driver         string `toml:"driver"`
	Path           string `toml:"path"`
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	User           string `toml:"user"`
	Password       string `toml:"password"`
	Name           string `toml:"name"`
	SSLMode        string `toml:"sslmode"`
	ConnectTimeout int    `toml:"connect_timeout"`
}

// Watcher contains configuration for directory discovery and relocation.
type Watcher struct {
	Extensions []string `toml:"extensions"`
	Recursive  bool     `toml:"recursive"`
	// Relocate moves settled files into the processed/failed directories.
	Relocate bool `toml:"relocate"`
	// SettleDelayMS is how long a path must be quiet before a live event is handled.
	SettleDelayMS int `toml:"settle_delay_ms"`
	// StopTimeout bounds teardown in seconds.
	StopTimeout int `toml:"stop_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Metrics contains configuration for the optional Prometheus endpoint.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Config encapsulates all configuration values for folderwatch.
//
// Configuration sections by subsystem:
//   - Paths: base, watched, processed, failed, and log directories
//   - Database: driver and connection parameters
//   - Watcher: accepted extensions, recursion, relocation, and timing
//   - Logging: log format, level, and retention
//   - Metrics: optional Prometheus bind address
type Config struct {
	Paths    Paths    `toml:"paths"`
	Database Database `toml:"database"`
	Watcher  Watcher  `toml:"watcher"`
	Logging  Logging  `toml:"logging"`
	Metrics  Metrics  `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/folderwatch/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("folderwatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the daemon needs before the
// watched layout is set up: the base, log, and SQLite parent directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.BaseDir, c.Paths.LogDir}
	if c.Database.Driver == DriverSQLite && c.Database.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Database.Path))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockPath returns the flock file guarding single-watcher execution.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.BaseDir, "folderwatch.lock")
}

// SettleDelay returns the quiet period applied to live filesystem events.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Watcher.SettleDelayMS) * time.Millisecond
}

// StopTimeout returns the bound on watcher teardown.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.Watcher.StopTimeout) * time.Second
}

// AcceptsFile reports whether the file name carries one of the configured extensions.
func (c *Config) AcceptsFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, candidate := range c.Watcher.Extensions {
		if candidate == ext {
			return true
		}
	}
	return false
}

// DataSource returns the database/sql driver name and connection string.
func (c *Config) DataSource() (string, string) {
	db := c.Database
	switch db.Driver {
	case DriverPostgres:
		pairs := []struct{ key, value string }{
			{"host", db.Host},
			{"port", strconv.Itoa(db.Port)},
			{"user", db.User},
			{"password", db.Password},
			{"dbname", db.Name},
			{"sslmode", db.SSLMode},
			{"connect_timeout", strconv.Itoa(db.ConnectTimeout)},
		}
		parts := make([]string, 0, len(pairs))
		for _, pair := range pairs {
			if pair.value == "" {
				continue
			}
			parts = append(parts, pair.key+"="+quoteDSNValue(pair.value))
		}
		return "postgres", strings.Join(parts, " ")
	default:
		return "sqlite", db.Path
	}
}

// RedactedDataSource returns the connection string with the password masked.
func (c *Config) RedactedDataSource() string {
	clone := *c
	if clone.Database.Password != "" {
		clone.Database.Password = "xxxxx"
	}
	_, dsn := clone.DataSource()
	return dsn
}

func quoteDSNValue(value string) string {
	if value != "" && !strings.ContainsAny(value, " '\\") {
		return value
	}
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return "'" + escaped + "'"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
