package panops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/pansave/internal/pan"
)

// ErrNeedsPassword is returned by a job whose share is protected and that
// carries no extraction code.
var ErrNeedsPassword = errors.New("panops: share requires an extraction code")

// ErrBatchAborted marks jobs skipped after the failure limit was reached.
var ErrBatchAborted = errors.New("panops: batch aborted after too many failures")

// ShareJob is one share link to save: verify, transfer into Destination,
// and optionally download the transferred files into SaveDir.
type ShareJob struct {
	ShareURL    string              `yaml:"share_url"`
	Password    string              `yaml:"password,omitempty"`
	Destination string              `yaml:"destination,omitempty"`
	OnDuplicate pan.DuplicatePolicy `yaml:"on_duplicate,omitempty"`
	Download    bool                `yaml:"download,omitempty"`
	SaveDir     string              `yaml:"save_dir,omitempty"`
}

// JobResult is the outcome of one ShareJob.
type JobResult struct {
	Job       ShareJob
	ShareID   string
	Transfer  *pan.TransferResult
	Downloads []Snapshot
	Err       error
}

// PipelineOptions holds the defaults jobs fall back to.
type PipelineOptions struct {
	Destination  string
	OnDuplicate  pan.DuplicatePolicy
	DownloadDir  string
	Parallel     int // concurrent downloads per job
	ListPageSize int
}

// Pipeline runs share jobs against the logged-in account.
type Pipeline struct {
	sessions *SessionProvider
	runner   *Runner
	opts     PipelineOptions
	retry    RetryPolicy
	logger   *slog.Logger
}

// NewPipeline creates a Pipeline. runner may be nil when no job downloads.
func NewPipeline(
	sessions *SessionProvider, runner *Runner, opts PipelineOptions, retry RetryPolicy, logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Destination == "" {
		opts.Destination = "/"
	}

	if opts.OnDuplicate == "" {
		opts.OnDuplicate = pan.DuplicateRenameCopy
	}

	return &Pipeline{sessions: sessions, runner: runner, opts: opts, retry: retry, logger: logger}
}

// VerifyLink parses a share URL and verifies it. password falls back to the
// link's pwd parameter. Verification is not retried: repeated wrong codes
// get the share rate limited.
func (p *Pipeline) VerifyLink(
	ctx context.Context, sess *pan.Session, rawURL, password string,
) (pan.VerifyResult, pan.ShareLink, error) {
	link, err := pan.ParseShareLink(rawURL)
	if err != nil {
		return pan.VerifyResult{}, pan.ShareLink{}, err
	}

	if password == "" {
		password = link.Password
	}

	res, err := p.sessions.Client().Verify(ctx, sess, link.ShareID, password)

	return res, link, err
}

// RunJob verifies, transfers and optionally downloads one share. Each job
// gets its own clone of the session so share-scoped cookies from different
// shares never mix.
func (p *Pipeline) RunJob(ctx context.Context, job ShareJob) JobResult {
	result := JobResult{Job: job}

	base, err := p.sessions.Session(ctx)
	if err != nil {
		result.Err = err
		return result
	}

	sess, err := base.Clone()
	if err != nil {
		result.Err = err
		return result
	}

	vr, link, err := p.VerifyLink(ctx, sess, job.ShareURL, job.Password)
	result.ShareID = link.ShareID

	if err != nil {
		result.Err = err
		return result
	}

	if vr.Status == pan.VerifyNeedsPassword {
		result.Err = fmt.Errorf("%w: %s", ErrNeedsPassword, link.ShareID)
		return result
	}

	dest := job.Destination
	if dest == "" {
		dest = p.opts.Destination
	}

	onDup := job.OnDuplicate
	if onDup == "" {
		onDup = p.opts.OnDuplicate
	}

	tr, err := p.sessions.Client().Transfer(ctx, sess, vr.Ref, dest, onDup)
	if err != nil {
		result.Err = err
		return result
	}

	result.Transfer = tr

	if !job.Download {
		return result
	}

	saveDir := job.SaveDir
	if saveDir == "" {
		saveDir = filepath.Join(p.opts.DownloadDir, link.ShareID)
	}

	result.Downloads, result.Err = p.downloadTransferred(ctx, base, vr.Ref, tr, dest, saveDir)

	return result
}

// downloadTransferred downloads everything a transfer placed under dest.
func (p *Pipeline) downloadTransferred(
	ctx context.Context, sess *pan.Session, ref *pan.ShareReference, tr *pan.TransferResult, dest, saveDir string,
) ([]Snapshot, error) {
	if p.runner == nil {
		return nil, errors.New("panops: pipeline has no runner for downloads")
	}

	paths := p.transferredPaths(ref, tr, dest)
	if len(paths) == 0 {
		return nil, fmt.Errorf("panops: no transferred item could be located under %s", dest)
	}

	entries, err := p.CollectFiles(ctx, sess, paths)
	if err != nil {
		return nil, err
	}

	tasks := make([]*DownloadTask, 0, len(entries))

	for _, e := range entries {
		t, err := EntryTask(e, saveDir, dest)
		if err != nil {
			return nil, err
		}

		p.runner.Add(t)
		tasks = append(tasks, t)
	}

	report := RunBatch(ctx, p.runner, tasks, p.opts.Parallel, p.logger)

	snaps := make([]Snapshot, 0, len(tasks))
	for _, t := range tasks {
		snaps = append(snaps, t.Snapshot())
	}

	if report.Failed > 0 || report.Skipped > 0 {
		return snaps, fmt.Errorf("panops: %d of %d downloads did not complete", report.Failed+report.Skipped, len(tasks))
	}

	return snaps, nil
}

// transferredPaths returns where the transferred items landed. The provider
// reports them for synchronous transfers; otherwise they are derived from
// the share's top-level names (a renamed copy then goes unseen). Items with
// no usable name are skipped, never resolved to dest itself.
func (p *Pipeline) transferredPaths(ref *pan.ShareReference, tr *pan.TransferResult, dest string) []string {
	var out []string

	if len(tr.Items) > 0 {
		for _, it := range tr.Items {
			if it.To == "" {
				p.logger.Warn("transferred item has no destination path", slog.Int64("fs_id", it.FsID))
				continue
			}

			out = append(out, it.To)
		}

		return out
	}

	for _, f := range ref.Files {
		if !locatableName(f.Filename) {
			p.logger.Warn("cannot locate transferred item without a file name",
				slog.Int64("fs_id", f.FsID),
				slog.String("dest", dest),
			)

			continue
		}

		out = append(out, path.Join(dest, f.Filename))
	}

	return out
}

func locatableName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}

// CollectFiles resolves remote paths to file entries, descending into
// directories. Listing is retried; a path that no longer exists is logged
// and skipped.
func (p *Pipeline) CollectFiles(ctx context.Context, sess *pan.Session, remotePaths []string) ([]pan.FileEntry, error) {
	var out []pan.FileEntry

	for _, rp := range remotePaths {
		siblings, err := p.ListAll(ctx, sess, path.Dir(rp))
		if err != nil {
			return nil, err
		}

		found := false

		for _, e := range siblings {
			if e.Path != rp {
				continue
			}

			found = true

			if !e.IsDir {
				out = append(out, e)
				continue
			}

			files, err := p.walkFiles(ctx, sess, e.Path)
			if err != nil {
				return nil, err
			}

			out = append(out, files...)
		}

		if !found {
			p.logger.Warn("transferred item not found", slog.String("path", rp))
		}
	}

	return out, nil
}

func (p *Pipeline) walkFiles(ctx context.Context, sess *pan.Session, dir string) ([]pan.FileEntry, error) {
	entries, err := p.ListAll(ctx, sess, dir)
	if err != nil {
		return nil, err
	}

	var out []pan.FileEntry

	for _, e := range entries {
		if !e.IsDir {
			out = append(out, e)
			continue
		}

		sub, err := p.walkFiles(ctx, sess, e.Path)
		if err != nil {
			return nil, err
		}

		out = append(out, sub...)
	}

	return out, nil
}

// ListAll returns every entry of an own-storage directory, paging with
// retry until a short page.
func (p *Pipeline) ListAll(ctx context.Context, sess *pan.Session, dir string) ([]pan.FileEntry, error) {
	pageSize := p.opts.ListPageSize
	if pageSize <= 0 {
		pageSize = pan.DefaultPageSize
	}

	var out []pan.FileEntry

	for page := 1; ; page++ {
		opts := pan.ListOptions{Dir: dir, Page: page, PageSize: pageSize}

		entries, err := Retry(ctx, p.retry, p.logger, "list", func(ctx context.Context) ([]pan.FileEntry, error) {
			return p.sessions.Client().ListOwn(ctx, sess, opts)
		})
		if err != nil {
			return nil, err
		}

		out = append(out, entries...)

		if len(entries) < pageSize {
			return out, nil
		}
	}
}

// BatchOptions bounds RunJobs.
type BatchOptions struct {
	Workers   int
	MaxFailed int // 0 means never give up
}

// RunJobs runs share jobs with at most opts.Workers at once. A failed job is
// logged and recorded in its result; the rest carry on until MaxFailed
// failures, after which jobs not yet started are skipped with
// ErrBatchAborted. Results are in job order.
func (p *Pipeline) RunJobs(ctx context.Context, jobs []ShareJob, opts BatchOptions) []JobResult {
	results := make([]JobResult, len(jobs))

	// Each goroutine writes only its own index of results.
	var failures atomic.Int64

	g := errgroup.Group{}
	g.SetLimit(max(opts.Workers, 1))

	for i, job := range jobs {
		g.Go(func() error {
			if opts.MaxFailed > 0 && failures.Load() >= int64(opts.MaxFailed) {
				results[i] = JobResult{Job: job, Err: ErrBatchAborted}

				return nil
			}

			if err := ctx.Err(); err != nil {
				results[i] = JobResult{Job: job, Err: err}

				return nil
			}

			res := p.RunJob(ctx, job)
			if res.Err != nil {
				failures.Add(1)
				p.logger.Warn("share job failed",
					slog.Int("job", i+1),
					slog.String("share", res.ShareID),
					slog.String("error", res.Err.Error()),
				)
			} else {
				p.logger.Info("share job done",
					slog.Int("job", i+1),
					slog.String("share", res.ShareID),
					slog.Int("downloads", len(res.Downloads)),
				)
			}

			results[i] = res

			return nil
		})
	}

	_ = g.Wait()

	return results
}
