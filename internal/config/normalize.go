package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeDatabase(); err != nil {
		return err
	}
	c.normalizeWatcher()
	c.normalizeLogging()
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.BaseDir) == "" {
		c.Paths.BaseDir = defaultBaseDir
	}
	if c.Paths.BaseDir, err = expandPath(c.Paths.BaseDir); err != nil {
		return fmt.Errorf("paths.base_dir: %w", err)
	}
	layout := []struct {
		key    string
		value  *string
		subdir string
	}{
		{"paths.watch_dir", &c.Paths.WatchDir, defaultWatchSubdir},
		{"paths.processed_dir", &c.Paths.ProcessedDir, defaultProcessedSubdir},
		{"paths.failed_dir", &c.Paths.FailedDir, defaultFailedSubdir},
	}
	for _, entry := range layout {
		if strings.TrimSpace(*entry.value) == "" {
			*entry.value = filepath.Join(c.Paths.BaseDir, entry.subdir)
		}
		if *entry.value, err = expandPath(*entry.value); err != nil {
			return fmt.Errorf("%s: %w", entry.key, err)
		}
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDatabase() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case "":
		c.Database.Driver = defaultDatabaseDriver
	case "sqlite3":
		c.Database.Driver = DriverSQLite
	case "postgresql", "pq":
		c.Database.Driver = DriverPostgres
	}

	if c.Database.Driver == DriverSQLite {
		var err error
		if strings.TrimSpace(c.Database.Path) == "" {
			c.Database.Path = defaultSQLitePath
		}
		if c.Database.Path, err = expandPath(c.Database.Path); err != nil {
			return fmt.Errorf("database.path: %w", err)
		}
	}

	c.Database.Host = strings.TrimSpace(c.Database.Host)
	c.Database.User = strings.TrimSpace(c.Database.User)
	c.Database.Name = strings.TrimSpace(c.Database.Name)
	if c.Database.Password == "" {
		if value, ok := os.LookupEnv("FOLDERWATCH_DB_PASSWORD"); ok {
			c.Database.Password = value
		}
	}
	if c.Database.Port == 0 {
		c.Database.Port = defaultPostgresPort
	}
	c.Database.SSLMode = strings.ToLower(strings.TrimSpace(c.Database.SSLMode))
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = defaultPostgresSSLMode
	}
	if c.Database.ConnectTimeout == 0 {
		c.Database.ConnectTimeout = defaultConnectTimeout
	}
	return nil
}

func (c *Config) normalizeWatcher() {
	exts := make([]string, 0, len(c.Watcher.Extensions))
	seen := make(map[string]struct{}, len(c.Watcher.Extensions))
	for _, ext := range c.Watcher.Extensions {
		normalized := strings.ToLower(strings.TrimSpace(ext))
		if normalized == "" {
			continue
		}
		if !strings.HasPrefix(normalized, ".") {
			normalized = "." + normalized
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		exts = append(exts, normalized)
	}
	if len(exts) == 0 {
		exts = append(exts, defaultExtensions...)
	}
	c.Watcher.Extensions = exts
	if c.Watcher.StopTimeout == 0 {
		c.Watcher.StopTimeout = defaultStopTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
