package main

import (
	"github.com/spf13/cobra"

	"github.com/signalforge/signalforge/internal/browse"
	"github.com/signalforge/signalforge/internal/scorer"
)

var browseLimit int

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Browse stored jobs and signals interactively (TUI)",
	RunE:  runBrowse,
}

func init() {
	browseCmd.Flags().IntVar(&browseLimit, "limit", 200, "maximum number of jobs and signals to load (1-200)")
	browseCmd.Flags().IntVar(&listMinScore, "min-score", 0, "only jobs scoring at least this")
	rootCmd.AddCommand(browseCmd)
}

func runBrowse(cmd *cobra.Command, args []string) error {
	if err := validLimit(browseLimit); err != nil {
		return err
	}
	// Any log output corrupts the alt screen.
	a, err := setup(true)
	if err != nil {
		return err
	}
	defer a.close()

	data, err := browse.Load(a.store, browse.Query{Limit: browseLimit, MinScore: listMinScore, Threshold: a.cfg.AlertThreshold})
	if err != nil {
		return err
	}
	return browse.Run(data, scorer.New(a.cfg.Scoring))
}
