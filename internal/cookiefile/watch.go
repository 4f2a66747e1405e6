package cookiefile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce absorbs the burst of events an editor or atomic rename produces.
const debounce = 200 * time.Millisecond

// Watch calls onChange with the reloaded cookies every time the file at path
// is rewritten, until ctx is canceled. The parent directory is watched so
// atomic replace-by-rename is seen. Reload failures are logged and skipped.
func Watch(ctx context.Context, path string, onChange func(*File), logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("cookiefile: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("cookiefile: watching %s: %w", dir, err)
	}

	logger.Debug("watching cookie file", slog.String("path", path))

	target := filepath.Clean(path)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}

			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target {
				continue
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}

			timerCh = timer.C

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("cookie file watcher error", slog.String("error", werr.Error()))

		case <-timerCh:
			timerCh = nil

			f, err := Load(path)
			if err != nil {
				logger.Warn("reloading cookie file failed",
					slog.String("path", path), slog.String("error", err.Error()))

				continue
			}

			if f == nil {
				continue
			}

			logger.Info("cookie file changed, reloaded", slog.String("path", path), slog.Int("cookies", len(f.Cookies)))
			onChange(f)
		}
	}
}
