package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/pansave/internal/panops"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage the download task list",
		Long: `Every download is a task in the task database. A download interrupted by
Ctrl-C or a crash is kept as paused and continues from its partial file with
'pansave tasks resume'. Failed downloads stay failed until resumed with
--retry-failed.`,
	}

	ls := &cobra.Command{
		Use:   "ls",
		Short: "List download tasks",
		Args:  cobra.NoArgs,
		RunE:  runTasksLs,
	}

	rm := &cobra.Command{
		Use:   "rm <id>...",
		Short: "Remove tasks and their partial files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTasksRm,
	}
	rm.Flags().Bool("keep-file", false, "keep the partial file on disk")

	resume := &cobra.Command{
		Use:   "resume [id...]",
		Short: "Continue waiting and paused downloads",
		Long: `Continue the given tasks, or every waiting and paused task when no id is
given. An id may be shortened to any unique prefix.`,
		RunE: runTasksResume,
	}
	resume.Flags().Bool("retry-failed", false, "also restart failed tasks")
	resume.Flags().IntP("parallel", "p", 0, "concurrent downloads (default: parallel_downloads)")

	cmd.AddCommand(ls, rm, resume)

	return cmd
}

// taskJSON is the JSON schema for one task.
type taskJSON struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"`
	BytesDone  int64   `json:"bytes_done"`
	BytesTotal int64   `json:"bytes_total"`
	SavePath   string  `json:"save_path"`
	RemotePath string  `json:"remote_path,omitempty"`
	URL        string  `json:"url,omitempty"`
	Error      string  `json:"error,omitempty"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

const jsonTimeFormat = "2006-01-02T15:04:05Z"

func newTaskJSON(s panops.Snapshot) taskJSON {
	return taskJSON{
		ID:         s.ID,
		Status:     s.Status.String(),
		Progress:   s.Progress,
		BytesDone:  s.BytesDone,
		BytesTotal: s.BytesTotal,
		SavePath:   s.SavePath,
		RemotePath: s.Source.RemotePath,
		URL:        s.Source.URL,
		Error:      s.LastError,
		CreatedAt:  s.CreatedAt.UTC().Format(jsonTimeFormat),
		UpdatedAt:  s.UpdatedAt.UTC().Format(jsonTimeFormat),
	}
}

// shortID is the id prefix shown in tables.
func shortID(id string) string {
	const n = 8
	if len(id) <= n {
		return id
	}

	return id[:n]
}

func runTasksLs(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	dbPath := cc.Cfg.Tasks.Database

	// Listing reads through the same manager so stored state is shown the
	// way a resume would see it.
	mgr, err := openTaskManager(cmd.Context(), dbPath, nil, cc.Logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	snaps := mgr.sortedSnapshots()

	if cc.Flags.JSON {
		out := make([]taskJSON, 0, len(snaps))
		for _, s := range snaps {
			out = append(out, newTaskJSON(s))
		}

		return printJSON(out)
	}

	if pid := activeDownloader(dbPath); pid != 0 {
		cc.Statusf("Downloads are running in process %d; states below may be a second old.\n", pid)
	}

	if len(snaps) == 0 {
		cc.Statusf("No tasks.\n")
		return nil
	}

	printTasks(snaps)

	return nil
}

func printTasks(snaps []panops.Snapshot) {
	rows := make([][]string, 0, len(snaps))

	for _, s := range snaps {
		rows = append(rows, []string{
			shortID(s.ID),
			styleStatus(s.Status),
			formatProgress(s),
			s.SavePath,
			s.LastError,
		})
	}

	printTable(os.Stdout, []string{"ID", "STATUS", "PROGRESS", "PATH", "ERROR"}, rows)
}

func runTasksRm(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	keepFile, _ := cmd.Flags().GetBool("keep-file")

	release, err := writePIDFile(lockPath(cc.Cfg.Tasks.Database))
	if err != nil {
		return err
	}
	defer release()

	mgr, err := openTaskManager(cmd.Context(), cc.Cfg.Tasks.Database, nil, cc.Logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	var errs []error

	for _, id := range args {
		if err := mgr.Remove(cmd.Context(), id, keepFile); err != nil {
			errs = append(errs, err)
			continue
		}

		cc.Logger.Info("task removed", slog.String("task", id), slog.Bool("keep_file", keepFile))
		cc.Statusf("Removed %s\n", id)
	}

	return errors.Join(errs...)
}

func runTasksResume(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	retryFailed, _ := cmd.Flags().GetBool("retry-failed")
	parallel, _ := cmd.Flags().GetInt("parallel")

	if parallel <= 0 {
		parallel = cc.Cfg.Transfers.ParallelDownloads
	}

	svc, err := newServices(cc)
	if err != nil {
		return err
	}

	release, err := writePIDFile(lockPath(cc.Cfg.Tasks.Database))
	if err != nil {
		return err
	}
	defer release()

	mgr, err := openTaskManager(ctx, cc.Cfg.Tasks.Database, svc.Downloader, cc.Logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	mgr.onProgress = progressPrinter(cc)

	tasks, err := resumeSelection(mgr, args, retryFailed)
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		cc.Statusf("Nothing to resume.\n")
		return nil
	}

	cc.Logger.Info("resuming tasks", slog.Int("count", len(tasks)), slog.Int("parallel", parallel))

	report := panops.RunBatch(ctx, mgr.runner, tasks, parallel, cc.Logger)

	return batchOutcome(cc, report, len(tasks))
}

// resumeSelection picks the tasks to run. Named tasks that failed are only
// restarted with retryFailed; completed ones are left alone.
func resumeSelection(mgr *taskManager, ids []string, retryFailed bool) ([]*panops.DownloadTask, error) {
	if len(ids) == 0 {
		return mgr.Runnable(retryFailed), nil
	}

	named, err := mgr.Lookup(ids)
	if err != nil {
		return nil, err
	}

	out := make([]*panops.DownloadTask, 0, len(named))

	for _, t := range named {
		switch t.Status() {
		case panops.StatusWaiting, panops.StatusPaused:
			out = append(out, t)
		case panops.StatusFailed:
			if !retryFailed {
				return nil, fmt.Errorf("task %s failed; pass --retry-failed to restart it", shortID(t.ID()))
			}

			if err := t.Retry(); err != nil {
				return nil, err
			}

			out = append(out, t)
		case panops.StatusCompleted:
			return nil, fmt.Errorf("task %s is already completed", shortID(t.ID()))
		}
	}

	return out, nil
}
