package panops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPathBusy is returned when a task would write to a save path another
// running task already owns.
var ErrPathBusy = errors.New("panops: save path in use by another task")

// ErrUnknownTask is returned for ids the runner has never seen.
var ErrUnknownTask = errors.New("panops: unknown task")

// Runner executes download tasks, each in its own goroutine with its own
// cancel func. It is the only writer of task state transitions.
type Runner struct {
	fetcher Fetcher
	logger  *slog.Logger

	// OnUpdate, when set, receives a snapshot after every state change and
	// progress report. Called from task goroutines; must not block for long.
	OnUpdate func(Snapshot)

	mu    sync.Mutex
	tasks map[string]*DownloadTask
	runs  map[string]*run
	paths map[string]string // save path -> id of the task running there
}

// run is one execution of a task.
type run struct {
	cancel  context.CancelFunc
	done    chan struct{}
	pausing bool
	err     error
}

// NewRunner creates a Runner.
func NewRunner(fetcher Fetcher, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		fetcher: fetcher,
		logger:  logger,
		tasks:   make(map[string]*DownloadTask),
		runs:    make(map[string]*run),
		paths:   make(map[string]string),
	}
}

// Add registers a task without starting it.
func (r *Runner) Add(t *DownloadTask) {
	r.mu.Lock()
	r.tasks[t.ID()] = t
	r.mu.Unlock()

	r.notify(t)
}

// Task returns a registered task.
func (r *Runner) Task(id string) (*DownloadTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]

	return t, ok
}

// Start registers t if needed and begins downloading it. The download
// outlives the call; use Wait for the outcome. ctx bounds the download:
// cancelling it pauses the task and keeps the partial file.
func (r *Runner) Start(ctx context.Context, t *DownloadTask) error {
	r.mu.Lock()

	if owner, busy := r.paths[t.SavePath()]; busy && owner != t.ID() {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPathBusy, t.SavePath())
	}

	if _, running := r.runs[t.ID()]; running {
		r.mu.Unlock()
		return fmt.Errorf("%w: task %s is already running", ErrInvalidTransition, t.ID())
	}

	if err := t.begin(); err != nil {
		r.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	rn := &run{cancel: cancel, done: make(chan struct{})}

	r.tasks[t.ID()] = t
	r.runs[t.ID()] = rn
	r.paths[t.SavePath()] = t.ID()
	r.mu.Unlock()

	r.notify(t)

	go r.execute(runCtx, t, rn)

	return nil
}

func (r *Runner) execute(ctx context.Context, t *DownloadTask, rn *run) {
	defer close(rn.done)
	defer rn.cancel()

	res, err := r.fetcher.Fetch(ctx, t.Source(), t.SavePath(), func(done, total int64) {
		if t.report(done, total) {
			r.notify(t)
		}
	})

	r.mu.Lock()
	pausing := rn.pausing
	r.mu.Unlock()

	var finishErr error

	switch {
	case err == nil:
		finishErr = t.finish(StatusCompleted, res.Size, nil)
		r.logger.Info("download completed",
			slog.String("task", t.ID()),
			slog.String("path", t.SavePath()),
			slog.Int64("size", res.Size),
		)

	case pausing || ctx.Err() != nil:
		finishErr = t.finish(StatusPaused, 0, nil)
		r.logger.Info("download paused",
			slog.String("task", t.ID()),
			slog.Int64("bytes_done", t.Snapshot().BytesDone),
		)

	default:
		rn.err = err
		finishErr = t.finish(StatusFailed, 0, err)
		r.logger.Warn("download failed",
			slog.String("task", t.ID()),
			slog.String("path", t.SavePath()),
			slog.String("error", err.Error()),
		)
	}

	if finishErr != nil {
		r.logger.Error("task state", slog.String("task", t.ID()), slog.String("error", finishErr.Error()))
	}

	// Release the path only once the task has left Downloading, so a
	// Resume racing with the end of this run sees a consistent state.
	r.mu.Lock()
	delete(r.runs, t.ID())
	delete(r.paths, t.SavePath())
	r.mu.Unlock()

	r.notify(t)
}

// Pause cancels a running task cooperatively and waits for it to stop. The
// task ends Paused with its partial file intact, or Completed/Failed if it
// finished first.
func (r *Runner) Pause(id string) error {
	r.mu.Lock()

	rn, ok := r.runs[id]
	if !ok {
		_, known := r.tasks[id]
		r.mu.Unlock()

		if !known {
			return fmt.Errorf("%w: %s", ErrUnknownTask, id)
		}

		return fmt.Errorf("%w: task %s is not running", ErrInvalidTransition, id)
	}

	rn.pausing = true
	r.mu.Unlock()

	rn.cancel()
	<-rn.done

	return nil
}

// Resume restarts a Paused task; the streamer continues the partial file
// with a range request.
func (r *Runner) Resume(ctx context.Context, id string) error {
	t, ok := r.Task(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	if st := t.Status(); st != StatusPaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, st)
	}

	return r.Start(ctx, t)
}

// Wait blocks until the task's current run ends (or ctx is done) and
// returns its final snapshot. A task that is not running returns at once.
// The error is the failure of the run waited on, if any; a failure from an
// earlier run shows only in the snapshot's LastError.
func (r *Runner) Wait(ctx context.Context, id string) (Snapshot, error) {
	r.mu.Lock()
	t, known := r.tasks[id]
	rn := r.runs[id]
	r.mu.Unlock()

	if !known {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	if rn != nil {
		select {
		case <-rn.done:
		case <-ctx.Done():
			return t.Snapshot(), ctx.Err()
		}

		if rn.err != nil {
			return t.Snapshot(), rn.err
		}
	}

	return t.Snapshot(), nil
}

// Snapshots returns the state of every registered task.
func (r *Runner) Snapshots() []Snapshot {
	r.mu.Lock()
	tasks := make([]*DownloadTask, 0, len(r.tasks))

	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Snapshot())
	}

	return out
}

// Remove forgets a task that is not running.
func (r *Runner) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, running := r.runs[id]; running {
		return fmt.Errorf("%w: task %s is running", ErrInvalidTransition, id)
	}

	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}

	delete(r.tasks, id)

	return nil
}

func (r *Runner) notify(t *DownloadTask) {
	if r.OnUpdate != nil {
		r.OnUpdate(t.Snapshot())
	}
}
