package panops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/tonimelisma/pansave/internal/fetch"
	"github.com/tonimelisma/pansave/internal/pan"
)

// Fetcher resolves a task source and streams it to savePath. Satisfied by
// *Downloader; the runner depends only on this.
type Fetcher interface {
	Fetch(ctx context.Context, src Source, savePath string, onProgress fetch.ProgressFunc) (*fetch.Result, error)
}

// DownloadOptions configures a Downloader.
type DownloadOptions struct {
	ChunkSize int64
	UserAgent string
	Limiter   *fetch.BandwidthLimiter
}

// Downloader is the glue between a task source and the streamer: it
// resolves fs ids to direct links through the session and streams with the
// session's cookies. dlinks expire, so each Fetch resolves afresh; a resumed
// task never reuses a stale link.
type Downloader struct {
	sessions *SessionProvider
	opts     DownloadOptions
	retry    RetryPolicy
	logger   *slog.Logger
}

// NewDownloader creates a Downloader.
func NewDownloader(sessions *SessionProvider, opts DownloadOptions, retry RetryPolicy, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.UserAgent == "" {
		opts.UserAgent = sessions.Client().DownloadUserAgent()
	}

	return &Downloader{sessions: sessions, opts: opts, retry: retry, logger: logger}
}

// ResolveSource returns the direct URL for src. A URL source is returned
// as-is; an fs id is resolved through the provider with retry.
func (d *Downloader) ResolveSource(ctx context.Context, src Source) (string, error) {
	if src.URL != "" {
		return src.URL, nil
	}

	if src.FsID == 0 {
		return "", errors.New("panops: task source has neither URL nor fs id")
	}

	sess, err := d.sessions.Session(ctx)
	if err != nil {
		return "", err
	}

	return Retry(ctx, d.retry, d.logger, "resolve dlink", func(ctx context.Context) (string, error) {
		return d.sessions.Client().ResolveDirectLink(ctx, sess, src.FsID)
	})
}

// Fetch resolves src and streams it to savePath, resuming any partial file
// already there.
func (d *Downloader) Fetch(
	ctx context.Context, src Source, savePath string, onProgress fetch.ProgressFunc,
) (*fetch.Result, error) {
	if savePath == "" {
		return nil, errors.New("panops: save path must not be empty")
	}

	link, err := d.ResolveSource(ctx, src)
	if err != nil {
		return nil, err
	}

	client, err := d.downloadClient(ctx, src)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("download starting",
		slog.String("save_path", savePath),
		slog.Int64("fs_id", src.FsID),
	)

	streamer := fetch.NewStreamer(client, fetch.Options{
		ChunkSize: d.opts.ChunkSize,
		UserAgent: d.opts.UserAgent,
		Limiter:   d.opts.Limiter,
	}, d.logger)

	return streamer.Fetch(ctx, link, savePath, onProgress)
}

// downloadClient returns the session's cookie-carrying client for provider
// files, and nil (the default client) for plain URL sources when no login
// exists.
func (d *Downloader) downloadClient(ctx context.Context, src Source) (*http.Client, error) {
	sess, err := d.sessions.Session(ctx)
	if err != nil {
		if src.FsID == 0 && errors.Is(err, ErrNotLoggedIn) {
			return nil, nil //nolint:nilnil // nil client = http.DefaultClient
		}

		return nil, err
	}

	return sess.DownloadClient(), nil
}

// EntryTask builds a download task for a file in the account's own storage.
// The save path mirrors the entry's location below remoteRoot inside dir.
func EntryTask(e pan.FileEntry, dir, remoteRoot string) (*DownloadTask, error) {
	if e.IsDir {
		return nil, fmt.Errorf("panops: %s is a directory", e.Path)
	}

	savePath := fetch.LocalPath(dir, remoteRoot, e.Path)

	abs, err := filepath.Abs(savePath)
	if err == nil {
		savePath = abs
	}

	return NewDownloadTask(Source{FsID: e.FsID, RemotePath: e.Path}, savePath, ""), nil
}

// RemovePartial deletes what a task left on disk. Used when a task is
// removed from the list without finishing.
func RemovePartial(snap Snapshot) error {
	if snap.Status == StatusCompleted {
		return nil
	}

	if err := os.Remove(snap.SavePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("panops: removing partial %s: %w", snap.SavePath, err)
	}

	return nil
}
