package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// exitInterrupted is the conventional status for a process stopped by SIGINT.
const exitInterrupted = 130

// shutdownContext derives the context downloads run under. The first
// SIGINT or SIGTERM cancels it: running tasks stop at their next chunk, are
// marked paused, and keep their partial files for 'pansave tasks resume'.
// A second signal exits at once, before the paused states are saved; the
// task database then recovers them as paused on the next open.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("received signal, pausing downloads", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, exiting without saving progress",
				slog.String("signal", sig.String()),
			)
			fmt.Fprintln(os.Stderr, "Interrupted. Unfinished downloads stay paused; run 'pansave tasks resume' to continue.")
			os.Exit(exitInterrupted)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
