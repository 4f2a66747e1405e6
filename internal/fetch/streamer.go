// Package fetch streams remote files to local disk in fixed-size chunks with
// progress reporting, range-based resume of partial files, cooperative
// cancellation and an optional shared bandwidth cap.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrHTTPStatus = errors.New("fetch: unexpected HTTP status")
	ErrIncomplete = errors.New("fetch: body ended before expected size")
)

// DefaultChunkSize is used when Options.ChunkSize is zero.
const DefaultChunkSize = 1 << 20

const (
	dirPerms  = 0o755
	filePerms = 0o644
)

// ProgressFunc is called after every chunk with bytes on disk so far and
// the expected total (0 when the server did not say).
type ProgressFunc func(done, total int64)

// Options configures a Streamer.
type Options struct {
	ChunkSize int64
	UserAgent string
	Limiter   *BandwidthLimiter
}

// Streamer downloads URLs to files. Safe for concurrent use as long as no
// two calls share a save path; the caller serializes by path.
type Streamer struct {
	client    *http.Client
	chunkSize int64
	userAgent string
	limiter   *BandwidthLimiter
	logger    *slog.Logger
}

// NewStreamer creates a Streamer. client carries the session cookies the
// provider's file servers check; nil means http.DefaultClient.
func NewStreamer(client *http.Client, opts Options, logger *slog.Logger) *Streamer {
	if client == nil {
		client = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}

	return &Streamer{
		client:    client,
		chunkSize: opts.ChunkSize,
		userAgent: opts.UserAgent,
		limiter:   opts.Limiter,
		logger:    logger,
	}
}

// Result describes a finished download.
type Result struct {
	Size    int64 // final file size
	Written int64 // bytes written by this call
	Resumed bool  // continued an existing partial file
}

// Download is Fetch for batch callers: any failure is logged and reported
// as false, since one failed file must not abort a batch.
func (s *Streamer) Download(ctx context.Context, url, savePath string, onProgress ProgressFunc) bool {
	if _, err := s.Fetch(ctx, url, savePath, onProgress); err != nil {
		s.logger.Warn("download failed",
			slog.String("path", savePath),
			slog.String("error", err.Error()),
		)

		return false
	}

	return true
}

// Fetch streams url to savePath. A non-empty file already at savePath is
// resumed with a Range request; a 200 reply means the server ignored the
// range and the file is rewritten from the start. On cancellation the
// partial file is left in place for a later resume.
//
// The URL is never logged because direct links embed signatures.
func (s *Streamer) Fetch(ctx context.Context, url, savePath string, onProgress ProgressFunc) (*Result, error) {
	if onProgress == nil {
		onProgress = func(int64, int64) {}
	}

	if err := os.MkdirAll(filepath.Dir(savePath), dirPerms); err != nil {
		return nil, fmt.Errorf("fetch: creating directory for %s: %w", savePath, err)
	}

	offset, err := existingSize(savePath)
	if err != nil {
		return nil, err
	}

	res, err := s.fetchFrom(ctx, url, savePath, offset, onProgress)
	if errors.Is(err, errRangeMismatch) {
		s.logger.Info("partial file does not match remote, restarting",
			slog.String("path", savePath),
			slog.Int64("local_size", offset),
		)

		return s.fetchFrom(ctx, url, savePath, 0, onProgress)
	}

	return res, err
}

// errRangeMismatch means a resume request cannot continue the local file.
var errRangeMismatch = errors.New("fetch: range does not match partial file")

func (s *Streamer) fetchFrom(
	ctx context.Context, url, savePath string, offset int64, onProgress ProgressFunc,
) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("fetch: creating request: %w", err)
	}

	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch: download canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("fetch: requesting %s: %w", filepath.Base(savePath), err)
	}
	defer resp.Body.Close()

	var (
		flags   int
		total   int64
		resumed bool
	)

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		start, size, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			return nil, errRangeMismatch
		}

		flags = os.O_WRONLY | os.O_APPEND
		total = size
		resumed = true

		if total <= 0 && resp.ContentLength >= 0 {
			total = offset + resp.ContentLength
		}

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		if _, size, ok := parseContentRange(resp.Header.Get("Content-Range")); ok && size == offset {
			s.logger.Debug("partial file already complete", slog.String("path", savePath))
			onProgress(offset, offset)

			return &Result{Size: offset, Resumed: true}, nil
		}

		return nil, errRangeMismatch

	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			s.logger.Info("server ignored range request, downloading from start",
				slog.String("path", savePath))
		}

		offset = 0
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		total = max(resp.ContentLength, 0)

	default:
		return nil, fmt.Errorf("%w: %d", ErrHTTPStatus, resp.StatusCode)
	}

	f, err := os.OpenFile(savePath, flags, filePerms)
	if err != nil {
		return nil, fmt.Errorf("fetch: opening %s: %w", savePath, err)
	}

	written, copyErr := s.copyChunks(ctx, f, resp.Body, offset, total, onProgress)

	if err := f.Close(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("fetch: closing %s: %w", savePath, err)
	}

	if copyErr != nil {
		return nil, copyErr
	}

	size := offset + written
	if total > 0 && size != total {
		return nil, fmt.Errorf("%w: got %d of %d bytes", ErrIncomplete, size, total)
	}

	s.logger.Debug("download complete",
		slog.String("path", savePath),
		slog.Int64("size", size),
		slog.Bool("resumed", resumed),
	)

	return &Result{Size: size, Written: written, Resumed: resumed}, nil
}

// copyChunks copies body to f in chunkSize pieces, checking ctx between
// chunks and reporting progress after each.
func (s *Streamer) copyChunks(
	ctx context.Context, f io.Writer, body io.Reader, offset, total int64, onProgress ProgressFunc,
) (int64, error) {
	r := s.limiter.WrapReader(ctx, body)
	buf := make([]byte, s.chunkSize)

	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("fetch: download canceled: %w", err)
		}

		n, readErr := io.ReadFull(r, buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("fetch: writing: %w", err)
			}

			written += int64(n)
			onProgress(offset+written, total)
		}

		switch {
		case readErr == nil:
			continue
		case errors.Is(readErr, io.EOF), errors.Is(readErr, io.ErrUnexpectedEOF):
			return written, nil
		case ctx.Err() != nil:
			return written, fmt.Errorf("fetch: download canceled: %w", ctx.Err())
		default:
			return written, fmt.Errorf("fetch: reading body: %w", readErr)
		}
	}
}

func existingSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("fetch: stat %s: %w", path, err)
	}

	if info.IsDir() {
		return 0, fmt.Errorf("fetch: %s is a directory", path)
	}

	return info.Size(), nil
}

// parseContentRange parses "bytes start-end/size" or "bytes */size". size is
// -1 when given as "*".
func parseContentRange(h string) (start, size int64, ok bool) {
	rest, found := strings.CutPrefix(h, "bytes ")
	if !found {
		return 0, 0, false
	}

	span, sizeStr, found := strings.Cut(rest, "/")
	if !found {
		return 0, 0, false
	}

	size = -1
	if sizeStr != "*" {
		n, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return 0, 0, false
		}

		size = n
	}

	if span == "*" {
		return 0, size, true
	}

	startStr, _, found := strings.Cut(span, "-")
	if !found {
		return 0, 0, false
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}

	return start, size, true
}
