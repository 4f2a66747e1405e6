package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/pansave/internal/fetch"
	"github.com/tonimelisma/pansave/internal/panops"
	"github.com/tonimelisma/pansave/internal/taskstore"
)

// fetcherFunc adapts a function to panops.Fetcher.
type fetcherFunc func(ctx context.Context, src panops.Source, savePath string, onProgress fetch.ProgressFunc) (*fetch.Result, error)

func (f fetcherFunc) Fetch(
	ctx context.Context, src panops.Source, savePath string, onProgress fetch.ProgressFunc,
) (*fetch.Result, error) {
	return f(ctx, src, savePath, onProgress)
}

// writeFetcher writes content to the save path.
func writeFetcher(content string) panops.Fetcher {
	return fetcherFunc(func(_ context.Context, _ panops.Source, savePath string, onProgress fetch.ProgressFunc) (*fetch.Result, error) {
		if err := os.WriteFile(savePath, []byte(content), 0o644); err != nil {
			return nil, err
		}

		n := int64(len(content))
		onProgress(n, n)

		return &fetch.Result{Size: n, Written: n}, nil
	})
}

// seedTasks writes records straight into a task database.
func seedTasks(t *testing.T, dbPath string, recs ...taskstore.Record) {
	t.Helper()

	store, err := taskstore.Open(t.Context(), dbPath, quietLogger())
	require.NoError(t, err)

	defer store.Close()

	for _, r := range recs {
		require.NoError(t, store.Save(t.Context(), r))
	}
}

func seedRecord(id, status, savePath string, created time.Time) taskstore.Record {
	return taskstore.Record{
		ID:         id,
		FsID:       42,
		RemotePath: "/movies/" + id,
		SavePath:   savePath,
		Status:     status,
		BytesDone:  5,
		BytesTotal: 10,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestTaskManager_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "tasks.db")
	savePath := filepath.Join(dir, "movie.mkv")

	mgr, err := openTaskManager(t.Context(), db, writeFetcher("hello"), quietLogger())
	require.NoError(t, err)

	var seen []panops.Status
	mgr.onProgress = func(s panops.Snapshot) { seen = append(seen, s.Status) }

	task := panops.NewDownloadTask(panops.Source{FsID: 7, RemotePath: "/movie.mkv"}, savePath, "")
	mgr.Add(task)

	report := panops.RunBatch(t.Context(), mgr.runner, []*panops.DownloadTask{task}, 1, quietLogger())
	assert.Equal(t, 1, report.Completed)
	assert.Contains(t, seen, panops.StatusCompleted)
	require.NoError(t, mgr.Close())

	reopened, err := openTaskManager(t.Context(), db, nil, quietLogger())
	require.NoError(t, err)

	defer reopened.Close()

	snaps := reopened.sortedSnapshots()
	require.Len(t, snaps, 1)
	assert.Equal(t, task.ID(), snaps[0].ID)
	assert.Equal(t, panops.StatusCompleted, snaps[0].Status)
	assert.Equal(t, int64(5), snaps[0].BytesTotal)
	assert.Equal(t, "/movie.mkv", snaps[0].Source.RemotePath)
}

func TestTaskManager_InterruptedComesBackPaused(t *testing.T) {
	db := filepath.Join(t.TempDir(), "tasks.db")
	seedTasks(t, db, seedRecord("t1", taskstore.StatusDownloading, "/tmp/a", time.Now()))

	mgr, err := openTaskManager(t.Context(), db, nil, quietLogger())
	require.NoError(t, err)

	defer mgr.Close()

	tasks, err := mgr.Lookup([]string{"t1"})
	require.NoError(t, err)
	assert.Equal(t, panops.StatusPaused, tasks[0].Status())
	assert.Equal(t, 0.5, tasks[0].Snapshot().Progress)
}

func TestTaskManager_Runnable(t *testing.T) {
	db := filepath.Join(t.TempDir(), "tasks.db")
	base := time.Now().Add(-time.Hour)

	seedTasks(t, db,
		seedRecord("paused", taskstore.StatusPaused, "/tmp/p", base.Add(2*time.Minute)),
		seedRecord("waiting", taskstore.StatusWaiting, "/tmp/w", base.Add(time.Minute)),
		seedRecord("failed", taskstore.StatusFailed, "/tmp/f", base.Add(3*time.Minute)),
		seedRecord("done", taskstore.StatusCompleted, "/tmp/d", base),
	)

	mgr, err := openTaskManager(t.Context(), db, nil, quietLogger())
	require.NoError(t, err)

	defer mgr.Close()

	ids := func(tasks []*panops.DownloadTask) []string {
		var out []string
		for _, t := range tasks {
			out = append(out, t.ID())
		}

		return out
	}

	assert.Equal(t, []string{"waiting", "paused"}, ids(mgr.Runnable(false)))

	withFailed := mgr.Runnable(true)
	assert.Equal(t, []string{"waiting", "paused", "failed"}, ids(withFailed))
	assert.Equal(t, panops.StatusWaiting, withFailed[2].Status())
}

func TestTaskManager_LookupByPrefix(t *testing.T) {
	db := filepath.Join(t.TempDir(), "tasks.db")
	now := time.Now()

	seedTasks(t, db,
		seedRecord("abc-111", taskstore.StatusPaused, "/tmp/1", now),
		seedRecord("abc-222", taskstore.StatusPaused, "/tmp/2", now),
		seedRecord("xyz-333", taskstore.StatusPaused, "/tmp/3", now),
	)

	mgr, err := openTaskManager(t.Context(), db, nil, quietLogger())
	require.NoError(t, err)

	defer mgr.Close()

	tasks, err := mgr.Lookup([]string{"xyz", "abc-2"})
	require.NoError(t, err)
	assert.Equal(t, "xyz-333", tasks[0].ID())
	assert.Equal(t, "abc-222", tasks[1].ID())

	_, err = mgr.Lookup([]string{"abc"})
	assert.ErrorContains(t, err, "ambiguous")

	_, err = mgr.Lookup([]string{"nope"})
	assert.ErrorIs(t, err, panops.ErrUnknownTask)
}

func TestTaskManager_Remove(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "tasks.db")
	partial := filepath.Join(dir, "partial.bin")
	kept := filepath.Join(dir, "kept.bin")

	require.NoError(t, os.WriteFile(partial, []byte("12345"), 0o644))
	require.NoError(t, os.WriteFile(kept, []byte("12345"), 0o644))

	now := time.Now()
	seedTasks(t, db,
		seedRecord("remove-me", taskstore.StatusPaused, partial, now),
		seedRecord("keep-file", taskstore.StatusFailed, kept, now),
	)

	mgr, err := openTaskManager(t.Context(), db, nil, quietLogger())
	require.NoError(t, err)

	require.NoError(t, mgr.Remove(t.Context(), "remove", false))
	require.NoError(t, mgr.Remove(t.Context(), "keep-file", true))
	assert.ErrorIs(t, mgr.Remove(t.Context(), "remove-me", false), panops.ErrUnknownTask)
	require.NoError(t, mgr.Close())

	_, err = os.Stat(partial)
	assert.True(t, os.IsNotExist(err), "partial file deleted")
	assert.FileExists(t, kept)

	reopened, err := openTaskManager(t.Context(), db, nil, quietLogger())
	require.NoError(t, err)

	defer reopened.Close()

	assert.Empty(t, reopened.sortedSnapshots())
}

func TestTaskManager_ThrottlesProgressWrites(t *testing.T) {
	mgr := &taskManager{saved: make(map[string]savedState)}

	snap := panops.Snapshot{ID: "t1", Status: panops.StatusDownloading}

	assert.True(t, mgr.shouldPersist(snap), "first sighting")
	assert.False(t, mgr.shouldPersist(snap), "same state within the interval")

	snap.Status = panops.StatusPaused
	assert.True(t, mgr.shouldPersist(snap), "state change always persists")

	mgr.saved["t1"] = savedState{status: panops.StatusPaused, at: time.Now().Add(-2 * persistInterval)}
	assert.True(t, mgr.shouldPersist(snap), "interval elapsed")
}

func TestResumeSelection(t *testing.T) {
	db := filepath.Join(t.TempDir(), "tasks.db")
	now := time.Now()

	seedTasks(t, db,
		seedRecord("paused", taskstore.StatusPaused, "/tmp/p", now),
		seedRecord("failed", taskstore.StatusFailed, "/tmp/f", now),
		seedRecord("done", taskstore.StatusCompleted, "/tmp/d", now),
	)

	mgr, err := openTaskManager(t.Context(), db, nil, quietLogger())
	require.NoError(t, err)

	defer mgr.Close()

	tasks, err := resumeSelection(mgr, []string{"paused"}, false)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	_, err = resumeSelection(mgr, []string{"failed"}, false)
	assert.ErrorContains(t, err, "--retry-failed")

	_, err = resumeSelection(mgr, []string{"done"}, true)
	assert.ErrorContains(t, err, "already completed")

	tasks, err = resumeSelection(mgr, []string{"failed"}, true)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, panops.StatusWaiting, tasks[0].Status())
}

func TestNewTaskJSON(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	j := newTaskJSON(panops.Snapshot{
		ID:         "t1",
		Source:     panops.Source{FsID: 9, RemotePath: "/a/b.zip"},
		SavePath:   "/dl/b.zip",
		Status:     panops.StatusFailed,
		BytesDone:  3,
		BytesTotal: 6,
		Progress:   0.5,
		LastError:  "disk full",
		CreatedAt:  created,
		UpdatedAt:  created.Add(time.Minute),
	})

	assert.Equal(t, "failed", j.Status)
	assert.Equal(t, "/a/b.zip", j.RemotePath)
	assert.Equal(t, "disk full", j.Error)
	assert.Equal(t, "2026-03-01T12:00:00Z", j.CreatedAt)
	assert.Equal(t, "2026-03-01T12:01:00Z", j.UpdatedAt)
	assert.Empty(t, j.URL)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123abcd", shortID("0123abcd-4567-89ef"))
	assert.Equal(t, "short", shortID("short"))
}
