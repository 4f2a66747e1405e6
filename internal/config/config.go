// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for pansave. Values resolve through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Provider  ProviderConfig  `toml:"provider"`
	Session   SessionConfig   `toml:"session"`
	Network   NetworkConfig   `toml:"network"`
	Retry     RetryConfig     `toml:"retry"`
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
	Tasks     TasksConfig     `toml:"tasks"`
}

// ProviderConfig holds the web API origin and the client identity
// parameters sent with every request.
type ProviderConfig struct {
	BaseURL    string `toml:"base_url"`
	AppID      string `toml:"app_id"`
	Channel    string `toml:"channel"`
	ClientType string `toml:"client_type"`
}

// SessionConfig locates the saved login and sets the user agents the
// provider sees.
type SessionConfig struct {
	CookieFile        string `toml:"cookie_file"`
	UserAgent         string `toml:"user_agent"`
	DownloadUserAgent string `toml:"download_user_agent"`
}

// NetworkConfig controls HTTP client timeouts. Timeout bounds a whole API
// request; downloads are bounded only by connect_timeout.
type NetworkConfig struct {
	Timeout        string `toml:"timeout"`
	ConnectTimeout string `toml:"connect_timeout"`
}

// RetryConfig is the caller-side retry policy for idempotent reads.
// Transfers are never retried.
type RetryConfig struct {
	Attempts int    `toml:"attempts"`
	Backoff  string `toml:"backoff"`
}

// TransfersConfig controls where shares are saved in the account's storage
// and how files are downloaded locally.
type TransfersConfig struct {
	Destination       string `toml:"destination"`
	OnDuplicate       string `toml:"on_duplicate"`
	DownloadDir       string `toml:"download_dir"`
	ChunkSize         string `toml:"chunk_size"`
	BandwidthLimit    string `toml:"bandwidth_limit"`
	ParallelDownloads int    `toml:"parallel_downloads"`
}

// LoggingConfig controls log output level and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// TasksConfig locates the download task database.
type TasksConfig struct {
	Database string `toml:"database"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Empty strings mean "not specified".
type CLIOverrides struct {
	ConfigPath  string // --config
	CookieFile  string // --cookies
	DownloadDir string // --download-dir
}
