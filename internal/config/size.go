package config

import (
	"fmt"
	"strconv"
	"strings"
)

// sizeUnits maps suffixes accepted by chunk_size and bandwidth_limit to
// their byte multipliers. IEC suffixes come first so "MiB" is not read as
// "B" preceded by "Mi".
var sizeUnits = []struct {
	suffix string
	bytes  int64
}{
	{"TIB", 1 << 40},
	{"GIB", 1 << 30},
	{"MIB", 1 << 20},
	{"KIB", 1 << 10},
	{"TB", 1e12},
	{"GB", 1e9},
	{"MB", 1e6},
	{"KB", 1e3},
	{"B", 1},
}

// ParseSize converts a size such as "1MiB" or "500KB" to bytes. A bare
// number is raw bytes; "" and "0" are zero.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	upper := strings.ToUpper(s)

	for _, u := range sizeUnits {
		num, ok := strings.CutSuffix(upper, u.suffix)
		if !ok {
			continue
		}

		f, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size %q: %w", s, err)
		}

		if f < 0 {
			return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
		}

		return int64(f * float64(u.bytes)), nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
	}

	return n, nil
}

// ParseRate parses a download bandwidth cap such as "5MB/s" or "100KiB/s"
// into bytes per second. "0" and "" mean unlimited and return 0.
func ParseRate(s string) (int64, error) {
	s = strings.TrimSpace(s)

	size := s
	if len(size) >= 2 && strings.EqualFold(size[len(size)-2:], "/s") {
		size = size[:len(size)-2]
	}

	n, err := ParseSize(size)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth rate %q: %w", s, err)
	}

	return n, nil
}
