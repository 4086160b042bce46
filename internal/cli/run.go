package cli

import (
	"github.com/spf13/cobra"

	"github.com/perchlabs-io/balance-bot/internal/app"
)

var runDryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the poll loop and the chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{DryRun: runDryRun})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Print notifications to stdout instead of posting them")
}
