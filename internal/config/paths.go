package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	appName        = "pansave"
	configFileName = "config.toml"
)

// DefaultConfigDir returns where pansave looks for config.toml:
// $XDG_CONFIG_HOME/pansave (or ~/.config/pansave) on Linux and other
// Unixes, ~/Library/Application Support/pansave on macOS. Empty when the
// home directory is unknown.
func DefaultConfigDir() string {
	return appDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns where the cookie file and task database live:
// $XDG_DATA_HOME/pansave (or ~/.local/share/pansave), or the same
// Application Support directory as config on macOS.
func DefaultDataDir() string {
	return appDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func appDir(xdgVar, homeRel string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if runtime.GOOS == "linux" {
		if xdg := os.Getenv(xdgVar); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}

	return filepath.Join(home, homeRel, appName)
}

// DefaultConfigPath is used when neither PANSAVE_CONFIG nor --config names
// a file.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// expandTilde resolves a leading "~/" in cookie_file, download_dir and
// database.
func expandTilde(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, rest)
}
