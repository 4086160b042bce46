package cli

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print current pool statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Status(cmd.Context(), cmd.OutOrStdout())
	},
}
