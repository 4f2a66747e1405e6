package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tonimelisma/pansave/internal/panops"
	"github.com/tonimelisma/pansave/internal/taskstore"
)

// persistInterval throttles progress writes; state changes are always saved.
const persistInterval = time.Second

// taskManager binds a Runner to the task database: every task the runner
// knows is persisted, and tasks saved by earlier runs are loaded back.
type taskManager struct {
	store  *taskstore.Store
	runner *panops.Runner
	logger *slog.Logger

	// onProgress, when set, also receives every runner update.
	onProgress func(panops.Snapshot)

	mu    sync.Mutex
	saved map[string]savedState
}

type savedState struct {
	status panops.Status
	at     time.Time
}

// openTaskManager opens the task database and loads its tasks into a new
// runner. Interrupted downloads come back Paused.
func openTaskManager(ctx context.Context, dbPath string, fetcher panops.Fetcher, logger *slog.Logger) (*taskManager, error) {
	store, err := taskstore.Open(ctx, dbPath, logger)
	if err != nil {
		return nil, err
	}

	m := &taskManager{
		store:  store,
		runner: panops.NewRunner(fetcher, logger),
		logger: logger,
		saved:  make(map[string]savedState),
	}

	recs, err := store.List(ctx)
	if err != nil {
		store.Close()
		return nil, err
	}

	for _, rec := range recs {
		t, err := panops.TaskFromRecord(rec)
		if err != nil {
			logger.Warn("skipping unreadable task", slog.String("task", rec.ID), slog.String("error", err.Error()))
			continue
		}

		m.runner.Add(t)
		m.saved[t.ID()] = savedState{status: t.Status(), at: rec.UpdatedAt}
	}

	m.runner.OnUpdate = m.update

	return m, nil
}

// Close closes the task database.
func (m *taskManager) Close() error {
	return m.store.Close()
}

// Add registers a new task; the runner update persists it.
func (m *taskManager) Add(t *panops.DownloadTask) {
	m.runner.Add(t)
}

func (m *taskManager) update(snap panops.Snapshot) {
	if m.onProgress != nil {
		m.onProgress(snap)
	}

	if !m.shouldPersist(snap) {
		return
	}

	// Runner callbacks outlive a cancelled command context; the final
	// Paused state must still reach the database.
	if err := m.store.Save(context.Background(), snap.Record()); err != nil {
		m.logger.Warn("saving task", slog.String("task", snap.ID), slog.String("error", err.Error()))
	}
}

func (m *taskManager) shouldPersist(snap panops.Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.saved[snap.ID]
	if ok && prev.status == snap.Status && time.Since(prev.at) < persistInterval {
		return false
	}

	m.saved[snap.ID] = savedState{status: snap.Status, at: time.Now()}

	return true
}

// Remove forgets a task and deletes its record. Unless keepFile is set, a
// partial file is deleted too.
func (m *taskManager) Remove(ctx context.Context, id string, keepFile bool) error {
	id, err := m.resolveID(id)
	if err != nil {
		return err
	}

	t, _ := m.runner.Task(id)
	snap := t.Snapshot()

	if err := m.runner.Remove(id); err != nil {
		return err
	}

	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.saved, id)
	m.mu.Unlock()

	if keepFile {
		return nil
	}

	return panops.RemovePartial(snap)
}

// Runnable returns tasks that can be started: Waiting and Paused ones, plus
// Failed ones moved back to Waiting when retryFailed is set.
func (m *taskManager) Runnable(retryFailed bool) []*panops.DownloadTask {
	var out []*panops.DownloadTask

	for _, snap := range m.sortedSnapshots() {
		t, ok := m.runner.Task(snap.ID)
		if !ok {
			continue
		}

		switch snap.Status {
		case panops.StatusWaiting, panops.StatusPaused:
			out = append(out, t)
		case panops.StatusFailed:
			if retryFailed && t.Retry() == nil {
				out = append(out, t)
			}
		}
	}

	return out
}

// Lookup returns the tasks with the given ids, in argument order. An id may
// be abbreviated to any prefix that names a single task.
func (m *taskManager) Lookup(ids []string) ([]*panops.DownloadTask, error) {
	out := make([]*panops.DownloadTask, 0, len(ids))

	for _, id := range ids {
		full, err := m.resolveID(id)
		if err != nil {
			return nil, err
		}

		t, _ := m.runner.Task(full)
		out = append(out, t)
	}

	return out, nil
}

func (m *taskManager) resolveID(prefix string) (string, error) {
	if _, ok := m.runner.Task(prefix); ok {
		return prefix, nil
	}

	var matches []string

	for _, snap := range m.runner.Snapshots() {
		if prefix != "" && strings.HasPrefix(snap.ID, prefix) {
			matches = append(matches, snap.ID)
		}
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", panops.ErrUnknownTask, prefix)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("task id %q is ambiguous: matches %d tasks", prefix, len(matches))
	}
}

// sortedSnapshots lists tasks oldest first.
func (m *taskManager) sortedSnapshots() []panops.Snapshot {
	snaps := m.runner.Snapshots()
	slices.SortFunc(snaps, func(a, b panops.Snapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return snaps
}
