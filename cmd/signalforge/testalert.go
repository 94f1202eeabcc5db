package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalforge/signalforge/internal/notifier"
	"github.com/signalforge/signalforge/internal/store"
)

var testAlertCount int

var testAlertCmd = &cobra.Command{
	Use:   "test-alert",
	Short: "Send the top stored jobs through the configured notifier",
	Long:  "Sends the N highest-scoring stored jobs through the configured notifier, regardless of their alert state, without marking them alerted. With an empty database a sample alert is sent instead.",
	RunE:  runTestAlert,
}

func init() {
	testAlertCmd.Flags().IntVarP(&testAlertCount, "count", "n", 1, "number of jobs to send")
	rootCmd.AddCommand(testAlertCmd)
}

func runTestAlert(cmd *cobra.Command, args []string) error {
	if testAlertCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	a, err := setup(false)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := notifier.New(a.cfg.Notification, newHTTPClient(), a.logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	jobs, err := a.store.ListJobs(ctx, store.JobFilter{Limit: testAlertCount})
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		a.logger.Info("no stored jobs, sending a sample alert")
		if err := notifier.SendTestMessage(ctx, n); err != nil {
			return fmt.Errorf("test alert failed: %w", err)
		}
		a.logger.Info("test alert sent")
		return nil
	}

	sent := 0
	for _, job := range jobs {
		if err := n.NotifyJob(ctx, job); err != nil {
			a.logger.Error("test alert failed", "job_id", job.ID, "title", job.Title, "error", err)
			continue
		}
		sent++
	}
	a.logger.Info("test alerts sent", "sent", sent, "requested", len(jobs))
	if sent < len(jobs) {
		return fmt.Errorf("%d of %d test alerts failed", len(jobs)-sent, len(jobs))
	}
	return nil
}
