// Package taskstore persists download task snapshots in a SQLite database so
// the task list survives restarts. It stores plain records; the task state
// machine lives with the runner.
package taskstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when no task has the requested id.
var ErrNotFound = errors.New("taskstore: task not found")

// Status values as stored in the status column.
const (
	StatusWaiting     = "waiting"
	StatusDownloading = "downloading"
	StatusPaused      = "paused"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
)

// Record is one persisted task snapshot.
type Record struct {
	ID         string
	SourceURL  string
	FsID       int64
	RemotePath string
	SavePath   string
	Password   string
	Status     string
	BytesDone  int64
	BytesTotal int64
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const (
	sqlUpsert = `INSERT INTO tasks
		(id, source_url, fs_id, remote_path, save_path, password, status,
		 bytes_done, bytes_total, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 source_url = excluded.source_url,
		 fs_id = excluded.fs_id,
		 remote_path = excluded.remote_path,
		 save_path = excluded.save_path,
		 password = excluded.password,
		 status = excluded.status,
		 bytes_done = excluded.bytes_done,
		 bytes_total = excluded.bytes_total,
		 last_error = excluded.last_error,
		 updated_at = excluded.updated_at`

	sqlSelect = `SELECT id, source_url, fs_id, remote_path, save_path, password, status,
		bytes_done, bytes_total, last_error, created_at, updated_at
		FROM tasks`

	sqlDelete = `DELETE FROM tasks WHERE id = ?`

	// A task recorded as downloading belonged to a process that is gone.
	sqlRecoverInterrupted = `UPDATE tasks SET status = 'paused' WHERE status = 'downloading'`
)

// Store is a SQLite-backed task list.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the task database at dbPath, applies
// pending migrations and marks tasks left in the downloading state as
// paused.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("taskstore: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: only one connection writes at a time.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	res, err := db.ExecContext(ctx, sqlRecoverInterrupted)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("taskstore: recovering interrupted tasks: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		logger.Info("interrupted downloads marked paused", slog.Int64("count", n))
	}

	logger.Debug("task store opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("taskstore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("taskstore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("taskstore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("taskstore: closing database: %w", err)
	}

	return nil
}

// Save inserts or updates a record. CreatedAt is kept from the first save.
func (s *Store) Save(ctx context.Context, r Record) error {
	if r.ID == "" {
		return errors.New("taskstore: record has no id")
	}

	now := time.Now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}

	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, sqlUpsert,
		r.ID, r.SourceURL, r.FsID, r.RemotePath, r.SavePath, r.Password, r.Status,
		r.BytesDone, r.BytesTotal, r.LastError, r.CreatedAt.UnixNano(), r.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("taskstore: saving task %s: %w", r.ID, err)
	}

	return nil
}

// Get returns the record with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, sqlSelect+" WHERE id = ?", id)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err != nil {
		return Record{}, fmt.Errorf("taskstore: loading task %s: %w", id, err)
	}

	return r, nil
}

// List returns every record, oldest first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, sqlSelect+" ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("taskstore: listing tasks: %w", err)
	}
	defer rows.Close()

	var out []Record

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("taskstore: scanning task: %w", err)
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("taskstore: listing tasks: %w", err)
	}

	return out, nil
}

// Delete removes a record. Returns ErrNotFound when nothing was deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, sqlDelete, id)
	if err != nil {
		return fmt.Errorf("taskstore: deleting task %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("taskstore: deleting task %s: %w", id, err)
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r                  Record
		created, updatedAt int64
	)

	err := sc.Scan(&r.ID, &r.SourceURL, &r.FsID, &r.RemotePath, &r.SavePath, &r.Password, &r.Status,
		&r.BytesDone, &r.BytesTotal, &r.LastError, &created, &updatedAt)
	if err != nil {
		return Record{}, err
	}

	r.CreatedAt = time.Unix(0, created)
	r.UpdatedAt = time.Unix(0, updatedAt)

	return r, nil
}
