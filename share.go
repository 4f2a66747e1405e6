package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/pansave/internal/pan"
	"github.com/tonimelisma/pansave/internal/panops"
)

func newShareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Inspect share links",
	}

	verify := &cobra.Command{
		Use:   "verify <share-url>",
		Short: "Check a share link and its extraction code",
		Args:  cobra.ExactArgs(1),
		RunE:  runShareVerify,
	}
	verify.Flags().StringP("password", "p", "", "extraction code (default: the link's pwd parameter)")

	ls := &cobra.Command{
		Use:   "ls <share-url> [path]",
		Short: "List the files of a share",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runShareLs,
	}
	ls.Flags().StringP("password", "p", "", "extraction code (default: the link's pwd parameter)")

	cmd.AddCommand(verify, ls)

	return cmd
}

func newTransferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer <share-url>",
		Short: "Save a share into your storage",
		Long: `Verify a share link and save its files into your storage. With --download
the saved files are then downloaded into the download directory, under a
folder named after the share.`,
		Args: cobra.ExactArgs(1),
		RunE: runTransfer,
	}

	cmd.Flags().StringP("password", "p", "", "extraction code (default: the link's pwd parameter)")
	cmd.Flags().String("to", "", "destination folder in your storage (default: transfers.destination)")
	cmd.Flags().String("on-duplicate", "", "fail, overwrite or newcopy (default: transfers.on_duplicate)")
	cmd.Flags().Bool("download", false, "download the saved files afterwards")
	cmd.Flags().StringP("output", "o", "", "local directory for --download")

	return cmd
}

// verifiedShare verifies a share link on a clone of the logged-in session,
// so share cookies stay out of the saved session.
func verifiedShare(
	ctx context.Context, cc *CLIContext, svc *Services, rawURL, password string,
) (*pan.Session, *pan.ShareReference, error) {
	base, err := svc.Sessions.Session(ctx)
	if err != nil {
		return nil, nil, err
	}

	sess, err := base.Clone()
	if err != nil {
		return nil, nil, err
	}

	res, link, err := svc.newPipeline(cc, nil).VerifyLink(ctx, sess, rawURL, password)
	if err != nil {
		return nil, nil, err
	}

	if res.Status == pan.VerifyNeedsPassword {
		return nil, nil, fmt.Errorf("%w: pass it with --password", panops.ErrNeedsPassword)
	}

	cc.Logger.Debug("share verified", slog.String("share", link.ShareID))

	return sess, res.Ref, nil
}

// shareJSON is the JSON schema for `share verify --json`.
type shareJSON struct {
	ShareID string      `json:"share_id"`
	UK      int64       `json:"uk"`
	ID      int64       `json:"id"`
	Files   []entryJSON `json:"files"`
}

func runShareVerify(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	password, _ := cmd.Flags().GetString("password")

	svc, err := newServices(cc)
	if err != nil {
		return err
	}

	_, ref, err := verifiedShare(cmd.Context(), cc, svc, args[0], password)
	if err != nil {
		return err
	}

	entries := shareEntries(ref.Files)

	if cc.Flags.JSON {
		return printJSON(shareJSON{ShareID: ref.ShareID, UK: ref.UK, ID: ref.ID, Files: entriesJSON(entries)})
	}

	cc.Statusf("Share %s is valid: %d top-level item(s).\n", ref.ShareID, len(ref.Files))
	printEntries(entries)

	return nil
}

func shareEntries(files []pan.ShareFile) []pan.FileEntry {
	out := make([]pan.FileEntry, 0, len(files))
	for _, f := range files {
		out = append(out, pan.FileEntry{
			FsID:    f.FsID,
			Name:    f.Filename,
			Path:    f.Path,
			Size:    f.Size,
			IsDir:   f.IsDir,
			ModTime: f.ModTime,
		})
	}

	return out
}

func runShareLs(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	password, _ := cmd.Flags().GetString("password")

	svc, err := newServices(cc)
	if err != nil {
		return err
	}

	sess, ref, err := verifiedShare(ctx, cc, svc, args[0], password)
	if err != nil {
		return err
	}

	subpath := ""
	if len(args) > 1 {
		subpath = args[1]
	}

	entries, err := svc.Client.ListShare(ctx, sess, ref, subpath)
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		return printJSON(entriesJSON(entries))
	}

	printEntries(entries)

	return nil
}

// transferJSON is the JSON schema for `transfer --json`.
type transferJSON struct {
	ShareID   string         `json:"share_id"`
	Message   string         `json:"message,omitempty"`
	TaskID    int64          `json:"task_id,omitempty"`
	Items     []transferItem `json:"items"`
	Missing   []int64        `json:"missing,omitempty"`
	Downloads []taskJSON     `json:"downloads,omitempty"`
}

type transferItem struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func runTransfer(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := shutdownContext(cmd.Context(), cc.Logger)

	job, err := transferJob(cmd, args[0])
	if err != nil {
		return err
	}

	svc, err := newServices(cc)
	if err != nil {
		return err
	}

	var runner *panops.Runner

	if job.Download {
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

	res := svc.newPipeline(cc, runner).RunJob(ctx, job)
	if res.Transfer != nil {
		if err := printTransfer(cc, res); err != nil {
			return err
		}
	}

	return res.Err
}

// transferJob builds a ShareJob from the transfer flags.
func transferJob(cmd *cobra.Command, rawURL string) (panops.ShareJob, error) {
	job := panops.ShareJob{ShareURL: rawURL}

	job.Password, _ = cmd.Flags().GetString("password")
	job.Destination, _ = cmd.Flags().GetString("to")
	job.Download, _ = cmd.Flags().GetBool("download")
	job.SaveDir, _ = cmd.Flags().GetString("output")

	if dup, _ := cmd.Flags().GetString("on-duplicate"); dup != "" {
		policy, ok := pan.ParseDuplicatePolicy(dup)
		if !ok {
			return job, fmt.Errorf("invalid --on-duplicate %q: want fail, overwrite or newcopy", dup)
		}

		job.OnDuplicate = policy
	}

	if job.SaveDir != "" && !job.Download {
		return job, errors.New("--output needs --download")
	}

	return job, nil
}

func printTransfer(cc *CLIContext, res panops.JobResult) error {
	tr := res.Transfer

	if cc.Flags.JSON {
		out := transferJSON{
			ShareID: res.ShareID,
			Message: tr.Message,
			TaskID:  tr.TaskID,
			Items:   make([]transferItem, 0, len(tr.Items)),
			Missing: tr.Missing,
		}

		for _, it := range tr.Items {
			out.Items = append(out.Items, transferItem{From: it.From, To: it.To})
		}

		for _, s := range res.Downloads {
			out.Downloads = append(out.Downloads, newTaskJSON(s))
		}

		return printJSON(out)
	}

	if len(tr.Items) == 0 {
		cc.Statusf("Share %s saved (provider task %d): %s\n", res.ShareID, tr.TaskID, tr.Message)
	}

	rows := make([][]string, 0, len(tr.Items))
	for _, it := range tr.Items {
		rows = append(rows, []string{it.From, it.To})
	}

	if len(rows) > 0 {
		printTable(os.Stdout, []string{"FROM", "SAVED AS"}, rows)
	}

	if len(tr.Missing) > 0 {
		cc.Statusf("%s %d item(s) were not saved: %v\n", failedStyle.Render("warning:"), len(tr.Missing), tr.Missing)
	}

	return nil
}
