package config

import "time"

// The accessors below assume a validated Config and fall back to the
// default when a value does not parse.

// TimeoutDuration returns network.timeout.
func (n NetworkConfig) TimeoutDuration() time.Duration {
	return durationOr(n.Timeout, defaultTimeout)
}

// ConnectTimeoutDuration returns network.connect_timeout.
func (n NetworkConfig) ConnectTimeoutDuration() time.Duration {
	return durationOr(n.ConnectTimeout, defaultConnectTimeout)
}

// BackoffDuration returns retry.backoff.
func (r RetryConfig) BackoffDuration() time.Duration {
	return durationOr(r.Backoff, defaultRetryBackoff)
}

// ChunkBytes returns transfers.chunk_size in bytes.
func (t TransfersConfig) ChunkBytes() int64 {
	n, err := ParseSize(t.ChunkSize)
	if err != nil || n == 0 {
		n, _ = ParseSize(defaultChunkSize)
	}

	return n
}

// BandwidthBytesPerSec returns transfers.bandwidth_limit in bytes per
// second; zero means unlimited.
func (t TransfersConfig) BandwidthBytesPerSec() int64 {
	n, err := ParseRate(t.BandwidthLimit)
	if err != nil {
		return 0
	}

	return n
}

func durationOr(s, fallback string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}

	return d
}
