package panops

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/pansave/internal/taskstore"
)

// ErrInvalidTransition is returned when a task is asked to move to a state
// its current state does not allow.
var ErrInvalidTransition = errors.New("panops: invalid task state transition")

// Status is the lifecycle state of a DownloadTask.
type Status int

const (
	StatusWaiting Status = iota
	StatusDownloading
	StatusPaused
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return taskstore.StatusWaiting
	case StatusDownloading:
		return taskstore.StatusDownloading
	case StatusPaused:
		return taskstore.StatusPaused
	case StatusCompleted:
		return taskstore.StatusCompleted
	case StatusFailed:
		return taskstore.StatusFailed
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	for st := StatusWaiting; st <= StatusFailed; st++ {
		if st.String() == s {
			return st, nil
		}
	}

	return 0, fmt.Errorf("panops: unknown task status %q", s)
}

// Source says where a task's bytes come from: a URL that is already direct,
// or a file in the account's own storage whose dlink is resolved at start.
type Source struct {
	URL        string
	FsID       int64
	RemotePath string
}

// Snapshot is a consistent copy of a task's state.
type Snapshot struct {
	ID         string
	Source     Source
	SavePath   string
	Password   string
	Status     Status
	Progress   float64
	BytesDone  int64
	BytesTotal int64
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DownloadTask tracks one file download. Identity fields are fixed at
// creation; the rest is guarded by mu and changes only through the
// transition methods.
type DownloadTask struct {
	id        string
	source    Source
	savePath  string
	password  string
	createdAt time.Time

	mu        sync.Mutex
	status    Status
	done      int64
	total     int64
	lastErr   string
	updatedAt time.Time
}

// NewDownloadTask creates a Waiting task with a fresh id.
func NewDownloadTask(src Source, savePath, password string) *DownloadTask {
	now := time.Now()

	return &DownloadTask{
		id:        uuid.NewString(),
		source:    src,
		savePath:  savePath,
		password:  password,
		createdAt: now,
		status:    StatusWaiting,
		updatedAt: now,
	}
}

// TaskFromRecord rebuilds a task from its persisted form.
func TaskFromRecord(r taskstore.Record) (*DownloadTask, error) {
	st, err := ParseStatus(r.Status)
	if err != nil {
		return nil, err
	}

	return &DownloadTask{
		id:        r.ID,
		source:    Source{URL: r.SourceURL, FsID: r.FsID, RemotePath: r.RemotePath},
		savePath:  r.SavePath,
		password:  r.Password,
		createdAt: r.CreatedAt,
		status:    st,
		done:      r.BytesDone,
		total:     r.BytesTotal,
		lastErr:   r.LastError,
		updatedAt: r.UpdatedAt,
	}, nil
}

func (t *DownloadTask) ID() string       { return t.id }
func (t *DownloadTask) Source() Source   { return t.source }
func (t *DownloadTask) SavePath() string { return t.savePath }

// Status returns the current state.
func (t *DownloadTask) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.status
}

// Snapshot returns a copy of the task's state.
func (t *DownloadTask) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Snapshot{
		ID:         t.id,
		Source:     t.source,
		SavePath:   t.savePath,
		Password:   t.password,
		Status:     t.status,
		Progress:   t.progressLocked(),
		BytesDone:  t.done,
		BytesTotal: t.total,
		LastError:  t.lastErr,
		CreatedAt:  t.createdAt,
		UpdatedAt:  t.updatedAt,
	}
}

func (t *DownloadTask) progressLocked() float64 {
	switch {
	case t.status == StatusCompleted:
		return 1
	case t.total <= 0:
		return 0
	default:
		return min(float64(t.done)/float64(t.total), 1)
	}
}

// Retry moves a Failed task back to Waiting so it can be started again.
// Nothing calls this implicitly; a failed task stays failed until the
// operator asks.
func (t *DownloadTask) Retry() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusFailed {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, t.status)
	}

	t.status = StatusWaiting
	t.lastErr = ""
	t.updatedAt = time.Now()

	return nil
}

// begin moves Waiting or Paused to Downloading.
func (t *DownloadTask) begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusWaiting && t.status != StatusPaused {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, t.status)
	}

	t.status = StatusDownloading
	t.lastErr = ""
	t.updatedAt = time.Now()

	return nil
}

// report records progress. done never moves backwards: when a server
// ignores a range request and the file restarts from zero, the reported
// figure holds until the new download overtakes it.
func (t *DownloadTask) report(done, total int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusDownloading || done < t.done {
		return false
	}

	t.done = done
	if total > 0 {
		t.total = total
	}

	t.updatedAt = time.Now()

	return true
}

// finish moves Downloading to Completed, Failed or Paused.
func (t *DownloadTask) finish(to Status, size int64, cause error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusDownloading {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, to, t.status)
	}

	switch to {
	case StatusCompleted:
		t.done = size
		t.total = size
	case StatusFailed:
		if cause != nil {
			t.lastErr = cause.Error()
		}
	case StatusPaused:
	default:
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, to, t.status)
	}

	t.status = to
	t.updatedAt = time.Now()

	return nil
}

// Record converts a snapshot to its persisted form.
func (s Snapshot) Record() taskstore.Record {
	return taskstore.Record{
		ID:         s.ID,
		SourceURL:  s.Source.URL,
		FsID:       s.Source.FsID,
		RemotePath: s.Source.RemotePath,
		SavePath:   s.SavePath,
		Password:   s.Password,
		Status:     s.Status.String(),
		BytesDone:  s.BytesDone,
		BytesTotal: s.BytesTotal,
		LastError:  s.LastError,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}
