package config

const (
	defaultBaseDir          = "~/.local/share/folderwatch"
	defaultLogDir           = "~/.local/share/folderwatch/logs"
	defaultWatchSubdir      = "watched"
	defaultProcessedSubdir  = "processed"
	defaultFailedSubdir     = "failed"
	defaultDatabaseDriver   = DriverSQLite
	defaultSQLitePath       = "~/.local/share/folderwatch/folderwatch.db"
	defaultPostgresPort     = 5432
	defaultPostgresSSLMode  = "disable"
	defaultConnectTimeout   = 10
	defaultSettleDelayMS    = 500
	defaultStopTimeout      = 10
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 30
)

var defaultExtensions = []string{".csv", ".json"}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			BaseDir: defaultBaseDir,
			LogDir:  defaultLogDir,
		},
		Database: Database{
			Driver:         defaultDatabaseDriver,
			Path:           defaultSQLitePath,
			Port:           defaultPostgresPort,
			SSLMode:        defaultPostgresSSLMode,
			ConnectTimeout: defaultConnectTimeout,
		},
		Watcher: Watcher{
			Extensions:    append([]string(nil), defaultExtensions...),
			Relocate:      true,
			SettleDelayMS: defaultSettleDelayMS,
			StopTimeout:   defaultStopTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
