package panops

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// BatchReport counts task outcomes after RunBatch.
type BatchReport struct {
	Completed int
	Failed    int
	Paused    int
	Skipped   int // could not start (busy path, bad state)
}

// RunBatch starts tasks on r with at most limit running at once and waits
// for all of them. One task's failure never stops the others; it is logged
// and recorded on the task. Cancelling ctx pauses whatever is running.
func RunBatch(ctx context.Context, r *Runner, tasks []*DownloadTask, limit int, logger *slog.Logger) BatchReport {
	if logger == nil {
		logger = slog.Default()
	}

	var completed, failed, paused, skipped atomic.Int64

	g := errgroup.Group{}
	g.SetLimit(max(limit, 1))

	for _, t := range tasks {
		if ctx.Err() != nil {
			skipped.Add(1)
			continue
		}

		g.Go(func() error {
			if err := r.Start(ctx, t); err != nil {
				logger.Warn("task not started",
					slog.String("task", t.ID()),
					slog.String("path", t.SavePath()),
					slog.String("error", err.Error()),
				)
				skipped.Add(1)

				return nil
			}

			// Wait ignores ctx here: cancellation reaches the download
			// through Start's context and the run ends Paused.
			snap, _ := r.Wait(context.WithoutCancel(ctx), t.ID())

			switch snap.Status {
			case StatusCompleted:
				completed.Add(1)
			case StatusPaused:
				paused.Add(1)
			default:
				failed.Add(1)
			}

			return nil
		})
	}

	_ = g.Wait()

	report := BatchReport{
		Completed: int(completed.Load()),
		Failed:    int(failed.Load()),
		Paused:    int(paused.Load()),
		Skipped:   int(skipped.Load()),
	}

	logger.Info("batch finished",
		slog.Int("completed", report.Completed),
		slog.Int("failed", report.Failed),
		slog.Int("paused", report.Paused),
		slog.Int("skipped", report.Skipped),
	)

	return report
}
