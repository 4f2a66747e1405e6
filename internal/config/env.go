package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig      = "PANSAVE_CONFIG"
	EnvCookies     = "PANSAVE_COOKIES"
	EnvDownloadDir = "PANSAVE_DOWNLOAD_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string // PANSAVE_CONFIG: override config file path
	CookieFile  string // PANSAVE_COOKIES: cookie file override
	DownloadDir string // PANSAVE_DOWNLOAD_DIR: local download directory override
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. It does not modify a Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		CookieFile:  os.Getenv(EnvCookies),
		DownloadDir: os.Getenv(EnvDownloadDir),
	}
}
