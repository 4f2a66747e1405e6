package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tonimelisma/pansave/internal/pan"
	"github.com/tonimelisma/pansave/internal/panops"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch <jobs.yaml>",
		Short: "Save many share links from a YAML file",
		Long: `Run every share job in a YAML file. Each job is a share link plus optional
extraction code, destination, duplicate policy and download settings:

  - share_url: https://pan.example.com/s/ABC123?pwd=xyz9
  - share_url: https://pan.example.com/share/init?surl=DEF456
    password: abcd
    destination: /Movies
    on_duplicate: overwrite
    download: true
    save_dir: downloads/movies

A failed job is reported and the rest carry on. With --max-failed the batch
stops starting new jobs after that many failures.`,
		Args: cobra.ExactArgs(1),
		RunE: runBatch,
	}

	cmd.Flags().IntP("workers", "w", 1, "share jobs to run at once")
	cmd.Flags().Int("max-failed", 0, "stop after this many failed jobs (0: never)")
	cmd.Flags().Bool("watch-cookies", false, "pick up a rewritten cookie file during the run")

	return cmd
}

// loadJobs reads and validates a YAML job list.
func loadJobs(r io.Reader) ([]panops.ShareJob, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading jobs: %w", err)
	}

	var jobs []panops.ShareJob

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&jobs); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("job file is empty")
		}

		return nil, fmt.Errorf("parsing jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil, errors.New("job file lists no jobs")
	}

	for i := range jobs {
		job := &jobs[i]
		job.ShareURL = strings.TrimSpace(job.ShareURL)

		if job.ShareURL == "" {
			return nil, fmt.Errorf("job %d: share_url is required", i+1)
		}

		if _, err := pan.ParseShareLink(job.ShareURL); err != nil {
			return nil, fmt.Errorf("job %d: %w", i+1, err)
		}

		if job.OnDuplicate != "" {
			policy, ok := pan.ParseDuplicatePolicy(string(job.OnDuplicate))
			if !ok {
				return nil, fmt.Errorf("job %d: invalid on_duplicate %q: want fail, overwrite or newcopy", i+1, job.OnDuplicate)
			}

			job.OnDuplicate = policy
		}

		if job.SaveDir != "" && !job.Download {
			return nil, fmt.Errorf("job %d: save_dir needs download: true", i+1)
		}
	}

	return jobs, nil
}

// batchResultJSON is the JSON schema for one job in `batch --json`.
type batchResultJSON struct {
	ShareURL  string     `json:"share_url"`
	ShareID   string     `json:"share_id,omitempty"`
	Saved     []string   `json:"saved,omitempty"`
	Downloads []taskJSON `json:"downloads,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	workers, _ := cmd.Flags().GetInt("workers")
	maxFailed, _ := cmd.Flags().GetInt("max-failed")
	watch, _ := cmd.Flags().GetBool("watch-cookies")

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening job file: %w", err)
	}

	jobs, err := loadJobs(f)
	f.Close()

	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	svc, err := newServices(cc)
	if err != nil {
		return err
	}

	var runner *panops.Runner

	if anyDownloads(jobs) {
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
		runner = mgr.runner
	}

	if watch {
		watchCtx, stop := context.WithCancel(ctx)
		defer stop()

		go func() {
			if err := svc.Sessions.WatchCookies(watchCtx); err != nil {
				cc.Logger.Warn("cookie watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	cc.Logger.Info("batch started", slog.Int("jobs", len(jobs)), slog.Int("workers", workers))

	results := svc.newPipeline(cc, runner).RunJobs(ctx, jobs, panops.BatchOptions{
		Workers:   workers,
		MaxFailed: maxFailed,
	})

	failed := 0

	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}

	if cc.Flags.JSON {
		if err := printJSON(batchJSON(results)); err != nil {
			return err
		}
	} else {
		printBatch(results)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d share jobs failed", failed, len(results))
	}

	return nil
}

func anyDownloads(jobs []panops.ShareJob) bool {
	for _, j := range jobs {
		if j.Download {
			return true
		}
	}

	return false
}

func savedPaths(r panops.JobResult) []string {
	if r.Transfer == nil {
		return nil
	}

	out := make([]string, 0, len(r.Transfer.Items))
	for _, it := range r.Transfer.Items {
		out = append(out, it.To)
	}

	return out
}

func batchJSON(results []panops.JobResult) []batchResultJSON {
	out := make([]batchResultJSON, 0, len(results))

	for _, r := range results {
		j := batchResultJSON{ShareURL: r.Job.ShareURL, ShareID: r.ShareID, Saved: savedPaths(r)}
		for _, s := range r.Downloads {
			j.Downloads = append(j.Downloads, newTaskJSON(s))
		}

		if r.Err != nil {
			j.Error = r.Err.Error()
		}

		out = append(out, j)
	}

	return out
}

func printBatch(results []panops.JobResult) {
	rows := make([][]string, 0, len(results))

	for i, r := range results {
		result := completedStyle.Render("ok")

		switch {
		case errors.Is(r.Err, panops.ErrBatchAborted):
			result = pausedStyle.Render("skipped")
		case r.Err != nil:
			result = failedStyle.Render(r.Err.Error())
		}

		share := r.ShareID
		if share == "" {
			share = r.Job.ShareURL
		}

		rows = append(rows, []string{
			fmt.Sprint(i + 1),
			share,
			strings.Join(savedPaths(r), ", "),
			result,
		})
	}

	printTable(os.Stdout, []string{"#", "SHARE", "SAVED", "RESULT"}, rows)
}
