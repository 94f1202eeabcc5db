package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalforge/signalforge/internal/collector"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Validate the config and create the database",
	Long:  "Loads and validates the config, then creates the database schema if it does not exist yet.",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	a, err := setup(false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.store.Ping(cmd.Context()); err != nil {
		return fmt.Errorf("database not reachable: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, headingStyle.Render("SignalForge initialized"))
	fmt.Fprintf(out, "  config:    %s\n", resolveConfigPath(cfgPath))
	fmt.Fprintf(out, "  database:  %s\n", a.cfg.Database)
	fmt.Fprintf(out, "  sources:   %d enabled of %d\n", len(a.cfg.EnabledSources()), len(a.cfg.Sources))
	fmt.Fprintf(out, "  types:     %s\n", strings.Join(collector.Types(), ", "))
	fmt.Fprintf(out, "  notifier:  %s\n", notifierName(a.cfg.Notification.Type))
	fmt.Fprintf(out, "  threshold: %d\n", a.cfg.AlertThreshold)
	for _, w := range a.cfg.Signals.Windows {
		fmt.Fprintf(out, "  window:    %s (%s x %d)\n", w.Name, w.Bucket, w.Length)
	}
	return nil
}

func notifierName(t string) string {
	if t == "" {
		return "log"
	}
	return t
}
