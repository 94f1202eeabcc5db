package main

import (
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalforge/signalforge/internal/pipeline"
)

var collectCmd = &cobra.Command{
	Use:   "collect [source...]",
	Short: "Run one collection pass and exit",
	Long:  "Runs a single pass over the named sources (all enabled sources by default) through the same pipeline the scheduler uses, waits for alerts to be delivered, then exits.",
	RunE:  runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	a, err := setup(false)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newCollectService(ctx, a)
	if err != nil {
		return err
	}
	defer svc.lock.Release()

	report, err := svc.pipeline.RunPass(ctx, args...)
	svc.drain(a)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}

	printReport(cmd.OutOrStdout(), report)
	if failed := report.Failed(); len(failed) == len(report.Sources) && len(failed) > 0 {
		return fmt.Errorf("all %d sources failed", len(failed))
	}
	return nil
}

func printReport(w io.Writer, r pipeline.Report) {
	fmt.Fprintln(w, headingStyle.Render("Collection pass"))
	fmt.Fprintf(w, "%-20s %8s %8s %8s %8s %10s  %s\n", "Source", "Fetched", "New", "Dupes", "Invalid", "Took", "Status")
	fmt.Fprintln(w, strings.Repeat("─", 80))
	for _, sr := range r.Sources {
		status := "ok"
		switch {
		case sr.Skipped:
			status = "skipped (already running)"
		case sr.Err != nil:
			status = "failed: " + sr.Err.Error()
		}
		fmt.Fprintf(w, "%-20s %8d %8d %8d %8d %10s  %s\n",
			truncate(sr.Source, 20), sr.Fetched, sr.Created, sr.Duplicates, sr.Invalid,
			sr.Duration.Round(time.Millisecond), status)
	}
	fmt.Fprintf(w, "\n%d new jobs, %d signals, %d alerts queued in %s\n",
		r.Created(), len(r.Signals), r.AlertsQueued, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, s := range r.Signals {
		fmt.Fprintf(w, "  %s %s=%s (%s) strength %d\n",
			strings.ToUpper(string(s.Type)), s.Dimension, s.DimensionValue, s.Window, s.Score)
	}
}
