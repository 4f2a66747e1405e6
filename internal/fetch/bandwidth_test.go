package fetch

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBandwidthLimiter_Unlimited(t *testing.T) {
	for _, limit := range []string{"", "0"} {
		bl, err := NewBandwidthLimiter(limit, testLogger(t))
		require.NoError(t, err)
		assert.Nil(t, bl, "limit %q should be unlimited", limit)
	}
}

func TestNewBandwidthLimiter_Invalid(t *testing.T) {
	_, err := NewBandwidthLimiter("garbage", testLogger(t))
	assert.Error(t, err)
}

func TestRateLimitedReader_Throttles(t *testing.T) {
	// 1 KB/s with a 2 KB burst: reading 4 KB must wait for roughly two
	// seconds of refill. Check a conservative lower bound.
	bl, err := NewBandwidthLimiter("1KB/s", testLogger(t))
	require.NoError(t, err)
	require.NotNil(t, bl)

	reader := bl.WrapReader(context.Background(), bytes.NewReader(make([]byte, 4000)))

	start := time.Now()
	n, err := io.Copy(io.Discard, reader)
	require.NoError(t, err)

	assert.Equal(t, int64(4000), n)
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestRateLimitedReader_ContextCancel(t *testing.T) {
	bl, err := NewBandwidthLimiter("1KB/s", testLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	reader := bl.WrapReader(ctx, strings.NewReader(strings.Repeat("x", 100000)))

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	buf := make([]byte, 512)

	var readErr error

	for readErr == nil {
		_, readErr = reader.Read(buf)
	}

	assert.ErrorIs(t, readErr, context.Canceled)
}

func TestBandwidthLimiter_NilReceiverPassesThrough(t *testing.T) {
	r := strings.NewReader("data")

	var bl *BandwidthLimiter

	assert.Equal(t, r, bl.WrapReader(context.Background(), r))
}

func TestStreamer_SharesLimiter(t *testing.T) {
	bl, err := NewBandwidthLimiter("100MB/s", testLogger(t))
	require.NoError(t, err)

	s := NewStreamer(nil, Options{Limiter: bl}, testLogger(t))
	assert.Same(t, bl, s.limiter)
	assert.Equal(t, int64(DefaultChunkSize), s.chunkSize)
}
