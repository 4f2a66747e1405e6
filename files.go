package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/pansave/internal/fetch"
	"github.com/tonimelisma/pansave/internal/pan"
	"github.com/tonimelisma/pansave/internal/panops"
)

func newLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List files and folders in your storage",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLs,
	}

	cmd.Flags().String("order", string(pan.OrderName), "sort key: name, time or size")
	cmd.Flags().Bool("desc", false, "sort descending")

	return cmd
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <remote-path>...",
		Short: "Download files or folders from your storage",
		Long: `Download files from your storage into the download directory. Folders are
downloaded recursively. Every file becomes a task in the task list; an
interrupted download (Ctrl-C) is paused and continues with 'pansave tasks resume'.

With --url, download a direct link instead of a stored file.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if u, _ := cmd.Flags().GetString("url"); u != "" {
				return cobra.NoArgs(cmd, args)
			}

			return cobra.MinimumNArgs(1)(cmd, args)
		},
		RunE: runGet,
	}

	cmd.Flags().StringP("output", "o", "", "local directory (default: download_dir), or file path with --url")
	cmd.Flags().String("url", "", "download this direct URL instead of a stored file")
	cmd.Flags().IntP("parallel", "p", 0, "concurrent downloads (default: parallel_downloads)")

	return cmd
}

// cleanRemotePath makes a remote path absolute and slash-clean.
func cleanRemotePath(p string) string {
	return path.Clean("/" + strings.TrimSpace(p))
}

func runLs(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	remotePath := "/"
	if len(args) > 0 {
		remotePath = cleanRemotePath(args[0])
	}

	order, _ := cmd.Flags().GetString("order")
	desc, _ := cmd.Flags().GetBool("desc")

	switch pan.SortOrder(order) {
	case pan.OrderName, pan.OrderTime, pan.OrderSize:
	default:
		return fmt.Errorf("invalid --order %q: want name, time or size", order)
	}

	svc, err := newServices(cc)
	if err != nil {
		return err
	}

	sess, err := svc.Sessions.Session(ctx)
	if err != nil {
		return err
	}

	cc.Logger.Debug("ls", slog.String("path", remotePath))

	opts := pan.ListOptions{Dir: remotePath, Order: pan.SortOrder(order), Desc: desc}

	var entries []pan.FileEntry

	for e, err := range svc.Client.WalkOwn(ctx, sess, opts) {
		if err != nil {
			return fmt.Errorf("listing %q: %w", remotePath, err)
		}

		entries = append(entries, e)
	}

	if cc.Flags.JSON {
		return printJSON(entriesJSON(entries))
	}

	printEntries(entries)

	return nil
}

// entryJSON is the JSON schema for listed entries.
type entryJSON struct {
	FsID     int64  `json:"fs_id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	IsDir    bool   `json:"is_dir"`
	Modified string `json:"modified,omitempty"`
	MD5      string `json:"md5,omitempty"`
}

func entriesJSON(entries []pan.FileEntry) []entryJSON {
	out := make([]entryJSON, 0, len(entries))

	for _, e := range entries {
		j := entryJSON{FsID: e.FsID, Name: e.Name, Path: e.Path, Size: e.Size, IsDir: e.IsDir, MD5: e.MD5}
		if !e.ModTime.IsZero() {
			j.Modified = e.ModTime.UTC().Format("2006-01-02T15:04:05Z")
		}

		out = append(out, j)
	}

	return out
}

func printEntries(entries []pan.FileEntry) {
	rows := make([][]string, 0, len(entries))

	for _, e := range entries {
		name, size := e.Name, formatSize(e.Size)
		if e.IsDir {
			name += "/"
			size = "-"
		}

		rows = append(rows, []string{name, size, formatTime(e.ModTime)})
	}

	printTable(os.Stdout, []string{"NAME", "SIZE", "MODIFIED"}, rows)
}

func runGet(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	output, _ := cmd.Flags().GetString("output")
	directURL, _ := cmd.Flags().GetString("url")
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

	var tasks []*panops.DownloadTask

	if directURL != "" {
		t, err := urlTask(directURL, output, cc.Cfg.Transfers.DownloadDir)
		if err != nil {
			return err
		}

		tasks = []*panops.DownloadTask{t}
	} else {
		if output == "" {
			output = cc.Cfg.Transfers.DownloadDir
		}

		tasks, err = storedTasks(ctx, svc, cc, args, output)
		if err != nil {
			return err
		}
	}

	for _, t := range tasks {
		mgr.Add(t)
	}

	report := panops.RunBatch(ctx, mgr.runner, tasks, parallel, cc.Logger)

	return batchOutcome(cc, report, len(tasks))
}

// urlTask builds a task for a direct URL. output is a file path, or a
// directory (existing, or ending in a separator) the URL's base name goes
// into.
func urlTask(rawURL, output, downloadDir string) (*panops.DownloadTask, error) {
	name := fetch.SafeName(path.Base(strings.SplitN(rawURL, "?", 2)[0]))

	savePath := output

	switch {
	case output == "":
		savePath = filepath.Join(downloadDir, name)
	case strings.HasSuffix(output, string(filepath.Separator)) || isDir(output):
		savePath = filepath.Join(output, name)
	}

	abs, err := filepath.Abs(savePath)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", savePath, err)
	}

	return panops.NewDownloadTask(panops.Source{URL: rawURL}, abs, ""), nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// storedTasks expands remote paths (files or folders) into download tasks.
// A folder keeps its own name under dir.
func storedTasks(
	ctx context.Context, svc *Services, cc *CLIContext, remotePaths []string, dir string,
) ([]*panops.DownloadTask, error) {
	sess, err := svc.Sessions.Session(ctx)
	if err != nil {
		return nil, err
	}

	pipeline := svc.newPipeline(cc, nil)

	var tasks []*panops.DownloadTask

	for _, rp := range remotePaths {
		rp = cleanRemotePath(rp)

		files, err := pipeline.CollectFiles(ctx, sess, []string{rp})
		if err != nil {
			return nil, fmt.Errorf("resolving %q: %w", rp, err)
		}

		if len(files) == 0 {
			return nil, fmt.Errorf("%q: no such file or folder, or folder is empty", rp)
		}

		for _, f := range files {
			t, err := panops.EntryTask(f, dir, path.Dir(rp))
			if err != nil {
				return nil, err
			}

			tasks = append(tasks, t)
		}
	}

	return tasks, nil
}

// batchOutcome prints the summary of a download run and turns incomplete
// downloads into an error exit.
func batchOutcome(cc *CLIContext, report panops.BatchReport, total int) error {
	cc.Statusf("%s completed, %s failed, %s paused, %d skipped\n",
		completedStyle.Render(fmt.Sprint(report.Completed)),
		failedStyle.Render(fmt.Sprint(report.Failed)),
		pausedStyle.Render(fmt.Sprint(report.Paused)),
		report.Skipped,
	)

	switch {
	case report.Paused > 0 && report.Failed == 0 && report.Skipped == 0:
		cc.Statusf("Interrupted; continue with 'pansave tasks resume'.\n")
		return nil
	case report.Completed == total:
		return nil
	default:
		return errors.New("some downloads did not complete; see 'pansave tasks ls'")
	}
}

// progressPrinter reports task transitions on stderr.
func progressPrinter(cc *CLIContext) func(panops.Snapshot) {
	if cc.Flags.Quiet {
		return nil
	}

	return func(s panops.Snapshot) {
		switch s.Status {
		case panops.StatusCompleted:
			cc.Statusf("%s %s (%s)\n", styleStatus(s.Status), s.SavePath, formatSize(s.BytesTotal))
		case panops.StatusFailed:
			cc.Statusf("%s %s: %s\n", styleStatus(s.Status), s.SavePath, s.LastError)
		case panops.StatusPaused:
			cc.Statusf("%s %s at %s\n", styleStatus(s.Status), s.SavePath, formatProgress(s))
		}
	}
}
