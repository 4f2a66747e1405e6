// Package cookiefile reads and writes the saved provider login: a cookie set
// exported from a logged-in browser. Files are either the JSON format Save
// writes or a raw Cookie header ("k=v; k2=v2") pasted by hand.
package cookiefile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FilePerms restricts cookie files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the cookie file's directory.
const DirPerms = 0o700

// File is the on-disk JSON format.
type File struct {
	Cookies map[string]string `json:"cookies"`
	SavedAt time.Time         `json:"saved_at,omitzero"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Load reads a cookie file. Returns (nil, nil) if the file does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("cookiefile: reading %s: %w", path, err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("cookiefile: %s is empty", path)
	}

	if data[0] != '{' {
		cookies := ParseHeader(string(data))
		if len(cookies) == 0 {
			return nil, fmt.Errorf("cookiefile: %s holds no cookies", path)
		}

		return &File{Cookies: cookies}, nil
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("cookiefile: decoding %s: %w", path, err)
	}

	if len(f.Cookies) == 0 {
		return nil, fmt.Errorf("cookiefile: %s missing cookies field", path)
	}

	return &f, nil
}

// ParseHeader splits a Cookie header value into name/value pairs. Malformed
// pairs are skipped; later duplicates win.
func ParseHeader(header string) map[string]string {
	out := make(map[string]string)

	for part := range strings.SplitSeq(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.TrimSpace(name)

		if !ok || name == "" {
			continue
		}

		out[name] = strings.TrimSpace(value)
	}

	return out
}

// Save writes cookies to path atomically (write-to-temp + rename) with 0600
// permissions. Never logs cookie values.
func Save(path string, cookies map[string]string, meta map[string]string) error {
	data, err := json.MarshalIndent(File{Cookies: cookies, SavedAt: time.Now().UTC(), Meta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("cookiefile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("cookiefile: creating directory %s: %w", dir, err)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".cookies-*.tmp")
	if err != nil {
		return fmt.Errorf("cookiefile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("cookiefile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cookiefile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("cookiefile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cookiefile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("cookiefile: renaming: %w", err)
	}

	success = true

	return nil
}

// Remove deletes the cookie file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cookiefile: removing %s: %w", path, err)
	}

	return nil
}
