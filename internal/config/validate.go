package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateWatcher(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	dirs := map[string]string{
		"paths.watch_dir":     c.Paths.WatchDir,
		"paths.processed_dir": c.Paths.ProcessedDir,
		"paths.failed_dir":    c.Paths.FailedDir,
	}
	for key, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	if c.Paths.WatchDir == c.Paths.ProcessedDir || c.Paths.WatchDir == c.Paths.FailedDir {
		return errors.New("paths.watch_dir must differ from paths.processed_dir and paths.failed_dir")
	}
	if c.Paths.ProcessedDir == c.Paths.FailedDir {
		return errors.New("paths.processed_dir and paths.failed_dir must differ")
	}
	if c.Watcher.Recursive {
		for key, dir := range map[string]string{
			"paths.processed_dir": c.Paths.ProcessedDir,
			"paths.failed_dir":    c.Paths.FailedDir,
		} {
			if isWithin(c.Paths.WatchDir, dir) {
				return fmt.Errorf("%s must not be inside paths.watch_dir when watcher.recursive is true", key)
			}
		}
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database.path must be set when database.driver is sqlite")
		}
	case DriverPostgres:
		if c.Database.Host == "" {
			return errors.New("database.host must be set when database.driver is postgres")
		}
		if c.Database.Name == "" {
			return errors.New("database.name must be set when database.driver is postgres")
		}
		if c.Database.User == "" {
			return errors.New("database.user must be set when database.driver is postgres")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return errors.New("database.port must be between 1 and 65535")
		}
		switch c.Database.SSLMode {
		case "disable", "require", "verify-ca", "verify-full":
		default:
			return fmt.Errorf("database.sslmode: unsupported value %q", c.Database.SSLMode)
		}
	default:
		return fmt.Errorf("database.driver: unsupported value %q (use sqlite or postgres)", c.Database.Driver)
	}
	if c.Database.ConnectTimeout <= 0 {
		return errors.New("database.connect_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateWatcher() error {
	if len(c.Watcher.Extensions) == 0 {
		return errors.New("watcher.extensions must include at least one extension")
	}
	if c.Watcher.SettleDelayMS < 0 {
		return errors.New("watcher.settle_delay_ms must be >= 0")
	}
	if c.Watcher.StopTimeout <= 0 {
		return errors.New("watcher.stop_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
