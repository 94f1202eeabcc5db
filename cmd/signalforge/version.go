package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalforge/signalforge/internal/api"
)

var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "signalforge %s\n", version)
	},
}

func init() {
	api.Version = version
	rootCmd.AddCommand(versionCmd)
}
