package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys maps each config section to its valid keys.
var knownKeys = map[string][]string{
	"provider":  {"app_id", "base_url", "channel", "client_type"},
	"session":   {"cookie_file", "download_user_agent", "user_agent"},
	"network":   {"connect_timeout", "timeout"},
	"retry":     {"attempts", "backoff"},
	"transfers": {"bandwidth_limit", "chunk_size", "destination", "download_dir", "on_duplicate", "parallel_downloads"},
	"logging":   {"log_format", "log_level"},
	"tasks":     {"database"},
}

// knownSections is the sorted section list for Levenshtein matching.
var knownSections = func() []string {
	keys := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with "did you mean?" suggestions for each one.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		if err := unknownKeyError(key); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func unknownKeyError(key toml.Key) error {
	section := key[0]

	keys, ok := knownKeys[section]
	if !ok {
		// Top-level key or unknown section.
		if len(key) == 1 {
			if owner := sectionOf(section); owner != "" {
				return fmt.Errorf("unknown config key %q: it belongs in the [%s] section", section, owner)
			}
		}

		if suggestion := closestMatch(section, knownSections); suggestion != "" {
			return fmt.Errorf("unknown config section %q, did you mean %q?", section, suggestion)
		}

		return fmt.Errorf("unknown config section %q", section)
	}

	if len(key) < 2 {
		return nil
	}

	leaf := key[1]
	if suggestion := closestMatch(leaf, keys); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s], did you mean %q?", leaf, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s]", leaf, section)
}

// sectionOf returns the section that owns key, or "".
func sectionOf(key string) string {
	for _, section := range knownSections {
		if slices.Contains(knownKeys[section], key) {
			return section
		}
	}

	return ""
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
