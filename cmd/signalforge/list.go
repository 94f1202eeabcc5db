package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/scorer"
	"github.com/signalforge/signalforge/internal/store"
)

var (
	listLimit    int
	listMinScore int
	listLocation string
	listCompany  string

	signalType     string
	signalMinScore int
)

var listJobsCmd = &cobra.Command{
	Use:   "list-jobs",
	Short: "List stored jobs, highest score first",
	RunE:  runListJobs,
}

var listSignalsCmd = &cobra.Command{
	Use:   "list-signals",
	Short: "List detected signals, newest first",
	RunE:  runListSignals,
}

func init() {
	listJobsCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of jobs (1-200)")
	listJobsCmd.Flags().IntVar(&listMinScore, "min-score", 0, "only jobs scoring at least this")
	listJobsCmd.Flags().StringVar(&listLocation, "location", "", "case-insensitive location substring")
	listJobsCmd.Flags().StringVar(&listCompany, "company", "", "case-insensitive company substring")
	rootCmd.AddCommand(listJobsCmd)

	listSignalsCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum number of signals (1-200)")
	listSignalsCmd.Flags().StringVar(&signalType, "type", "", "trend, anomaly or spike")
	listSignalsCmd.Flags().IntVar(&signalMinScore, "min-score", 0, "only signals at least this strong")
	rootCmd.AddCommand(listSignalsCmd)
}

func validLimit(n int) error {
	if n < 1 || n > 200 {
		return fmt.Errorf("--limit must be between 1 and 200, got %d", n)
	}
	return nil
}

func runListJobs(cmd *cobra.Command, args []string) error {
	if err := validLimit(listLimit); err != nil {
		return err
	}
	a, err := setup(true)
	if err != nil {
		return err
	}
	defer a.close()

	jobs, err := a.store.ListJobs(cmd.Context(), store.JobFilter{
		Limit:    listLimit,
		MinScore: listMinScore,
		Location: listLocation,
		Company:  listCompany,
	})
	if err != nil {
		return err
	}

	var explain *scorer.Scorer
	if debug {
		explain = scorer.New(a.cfg.Scoring)
	}
	printJobs(cmd.OutOrStdout(), jobs, a.cfg.AlertThreshold, explain)
	return nil
}

func printJobs(w io.Writer, jobs []model.Job, threshold int, explain *scorer.Scorer) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found.")
		return
	}
	fmt.Fprintf(w, "%5s  %-36s %-20s %-20s %-10s %s\n", "Score", "Title", "Company", "Location", "Posted", "Alert")
	fmt.Fprintln(w, strings.Repeat("─", 110))
	for _, j := range jobs {
		posted := "n/a"
		if j.PostedAt != nil {
			posted = j.PostedAt.Format("2006-01-02")
		}
		fmt.Fprintf(w, "%5d  %-36s %-20s %-20s %-10s %s\n",
			j.Score, truncate(j.Title, 36), truncate(j.Company, 20), truncate(j.Location, 20), posted, j.AlertState(threshold))
		if explain != nil {
			var parts []string
			for _, f := range explain.Breakdown(j) {
				parts = append(parts, fmt.Sprintf("%s %+d", f.Name, f.Points))
			}
			if len(parts) == 0 {
				parts = []string{"no contributing factors"}
			}
			fmt.Fprintln(w, dimStyle.Render("       "+strings.Join(parts, ", ")))
			fmt.Fprintln(w, dimStyle.Render("       "+j.URL))
		}
	}
	fmt.Fprintf(w, "\n%d jobs\n", len(jobs))
}

func runListSignals(cmd *cobra.Command, args []string) error {
	if err := validLimit(listLimit); err != nil {
		return err
	}
	f := store.SignalFilter{Limit: listLimit, MinScore: signalMinScore}
	if signalType != "" {
		t, err := model.ParseSignalType(signalType)
		if err != nil {
			return err
		}
		f.Type = t
	}

	a, err := setup(true)
	if err != nil {
		return err
	}
	defer a.close()

	signals, err := a.store.ListSignals(cmd.Context(), f)
	if err != nil {
		return err
	}
	printSignals(cmd.OutOrStdout(), signals)
	return nil
}

func printSignals(w io.Writer, signals []model.Signal) {
	if len(signals) == 0 {
		fmt.Fprintln(w, "No signals found.")
		return
	}
	fmt.Fprintf(w, "%-8s %-9s %-24s %-8s %8s %6s %7s  %s\n", "Type", "Dimension", "Value", "Window", "Strength", "Count", "Mean", "Detected")
	fmt.Fprintln(w, strings.Repeat("─", 100))
	for _, s := range signals {
		fmt.Fprintf(w, "%-8s %-9s %-24s %-8s %8d %6d %7.2f  %s\n",
			strings.ToUpper(string(s.Type)), s.Dimension, truncate(s.DimensionValue, 24), s.Window,
			s.Score, s.Count, s.Mean, s.DetectedAt.Local().Format("2006-01-02 15:04"))
	}
	fmt.Fprintf(w, "\n%d signals\n", len(signals))
}
