package config

import "path/filepath"

// Default values for configuration options. These are layer 0 of the
// override chain.
const (
	defaultBaseURL           = "https://pan.baidu.com"
	defaultAppID             = "250528"
	defaultChannel           = "chunlei"
	defaultClientType        = "0"
	defaultDownloadUserAgent = "netdisk;P2SP;3.0.0.127"
	defaultTimeout           = "10s"
	defaultConnectTimeout    = "10s"
	defaultRetryAttempts     = 3
	defaultRetryBackoff      = "1s"
	defaultDestination       = "/我的资源"
	defaultOnDuplicate       = "newcopy"
	defaultDownloadDir       = "downloads"
	defaultChunkSize         = "1MiB"
	defaultBandwidthLimit    = "0"
	defaultParallelDownloads = 3
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
	cookieFileName           = "cookies.json"
	taskDatabaseName         = "tasks.db"
)

// DefaultConfig returns a Config populated with all default values. It is
// both the starting point for TOML decoding (unset fields keep defaults) and
// the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			BaseURL:    defaultBaseURL,
			AppID:      defaultAppID,
			Channel:    defaultChannel,
			ClientType: defaultClientType,
		},
		Session: SessionConfig{
			CookieFile:        defaultDataPath(cookieFileName),
			DownloadUserAgent: defaultDownloadUserAgent,
		},
		Network: NetworkConfig{
			Timeout:        defaultTimeout,
			ConnectTimeout: defaultConnectTimeout,
		},
		Retry: RetryConfig{
			Attempts: defaultRetryAttempts,
			Backoff:  defaultRetryBackoff,
		},
		Transfers: TransfersConfig{
			Destination:       defaultDestination,
			OnDuplicate:       defaultOnDuplicate,
			DownloadDir:       defaultDownloadDir,
			ChunkSize:         defaultChunkSize,
			BandwidthLimit:    defaultBandwidthLimit,
			ParallelDownloads: defaultParallelDownloads,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Tasks: TasksConfig{
			Database: defaultDataPath(taskDatabaseName),
		},
	}
}

func defaultDataPath(name string) string {
	dir := DefaultDataDir()
	if dir == "" {
		return name
	}

	return filepath.Join(dir, name)
}
