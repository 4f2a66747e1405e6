package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Validation range constants.
const (
	minTimeout           = 1 * time.Second
	maxRetryAttempts     = 10
	minChunkBytes        = 4 << 10
	maxChunkBytes        = 64 << 20
	minParallelDownloads = 1
	maxParallelDownloads = 16
)

var (
	validOnDuplicate = []string{"fail", "overwrite", "newcopy", "rename-copy"}
	validLogLevels   = []string{"debug", "info", "warn", "error"}
	validLogFormats  = []string{"auto", "text", "json"}
)

// Validate checks all configuration values and returns every error found,
// so a user can fix all problems in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateProvider(&cfg.Provider)...)
	errs = append(errs, validateSession(&cfg.Session)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if cfg.Tasks.Database == "" {
		errs = append(errs, errors.New("tasks.database: must not be empty"))
	}

	return errors.Join(errs...)
}

func validateProvider(p *ProviderConfig) []error {
	var errs []error

	u, err := url.Parse(p.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("provider.base_url: must be an http(s) URL, got %q", p.BaseURL))
	}

	if p.AppID == "" {
		errs = append(errs, errors.New("provider.app_id: must not be empty"))
	}

	return errs
}

func validateSession(s *SessionConfig) []error {
	if s.CookieFile == "" {
		return []error{errors.New("session.cookie_file: must not be empty")}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	for _, f := range []struct{ name, value string }{
		{"network.timeout", n.Timeout},
		{"network.connect_timeout", n.ConnectTimeout},
	} {
		name := f.name

		d, err := time.ParseDuration(f.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		if d < minTimeout {
			errs = append(errs, fmt.Errorf("%s: must be at least %s, got %s", name, minTimeout, d))
		}
	}

	return errs
}

func validateRetry(r *RetryConfig) []error {
	var errs []error

	if r.Attempts < 1 || r.Attempts > maxRetryAttempts {
		errs = append(errs, fmt.Errorf("retry.attempts: must be between 1 and %d, got %d", maxRetryAttempts, r.Attempts))
	}

	d, err := time.ParseDuration(r.Backoff)
	if err != nil {
		errs = append(errs, fmt.Errorf("retry.backoff: %w", err))
	} else if d < 0 {
		errs = append(errs, fmt.Errorf("retry.backoff: must be non-negative, got %s", d))
	}

	return errs
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if !strings.HasPrefix(t.Destination, "/") {
		errs = append(errs, fmt.Errorf("transfers.destination: path %q must start with /", t.Destination))
	}

	if !slices.Contains(validOnDuplicate, t.OnDuplicate) {
		errs = append(errs, fmt.Errorf("transfers.on_duplicate: must be one of %s, got %q",
			strings.Join(validOnDuplicate, ", "), t.OnDuplicate))
	}

	if t.DownloadDir == "" {
		errs = append(errs, errors.New("transfers.download_dir: must not be empty"))
	}

	chunk, err := ParseSize(t.ChunkSize)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("transfers.chunk_size: %w", err))
	case chunk < minChunkBytes || chunk > maxChunkBytes:
		errs = append(errs, fmt.Errorf("transfers.chunk_size: must be between 4KiB and 64MiB, got %q", t.ChunkSize))
	}

	if _, err := ParseRate(t.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("transfers.bandwidth_limit: %w", err))
	}

	if t.ParallelDownloads < minParallelDownloads || t.ParallelDownloads > maxParallelDownloads {
		errs = append(errs, fmt.Errorf("transfers.parallel_downloads: must be between %d and %d, got %d",
			minParallelDownloads, maxParallelDownloads, t.ParallelDownloads))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, l.LogLevel) {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of %s, got %q",
			strings.Join(validLogLevels, ", "), l.LogLevel))
	}

	if !slices.Contains(validLogFormats, l.LogFormat) {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of %s, got %q",
			strings.Join(validLogFormats, ", "), l.LogFormat))
	}

	return errs
}
