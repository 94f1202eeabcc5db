package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalforge/signalforge/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print database statistics",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	a, err := setup(true)
	if err != nil {
		return err
	}
	defer a.close()

	sum, err := a.store.Stats(cmd.Context(), a.cfg.AlertThreshold, time.Now().UTC())
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), sum, a.cfg.AlertThreshold)
	return nil
}

func printSummary(w io.Writer, s store.Summary, threshold int) {
	fmt.Fprintln(w, headingStyle.Render("SignalForge statistics"))
	fmt.Fprintf(w, "  Total jobs:          %d\n", s.TotalJobs)
	fmt.Fprintf(w, "  %-21s%d\n", fmt.Sprintf("Score >= %d:", threshold), s.HighScoreJobs)
	fmt.Fprintf(w, "  Alerted:             %d\n", s.AlertedJobs)
	fmt.Fprintf(w, "  Dead-lettered:       %d\n", s.DeadLettered)
	fmt.Fprintf(w, "  Posted last 7 days:  %d\n", s.RecentJobs)
	fmt.Fprintf(w, "  Average score:       %.1f\n", s.AverageScore)
	fmt.Fprintf(w, "  Remote:              %d\n", s.RemoteJobs)
	fmt.Fprintf(w, "  Signals:             %d\n", s.TotalSignals)

	printTop(w, "Top companies", s.TopCompanies)
	printTop(w, "Top locations", s.TopLocations)
}

func printTop(w io.Writer, title string, rows []store.NameCount) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, headingStyle.Render(title))
	for _, r := range rows {
		fmt.Fprintf(w, "  %-30s %d\n", truncate(r.Name, 30), r.Count)
	}
}
