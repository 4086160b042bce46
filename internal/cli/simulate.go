package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/perchlabs-io/balance-bot/internal/app"
)

var (
	simulatePrevious string
	simulateCurrent  string
	simulateDryRun   bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Run one live stake decision with the given values",
	RunE: func(cmd *cobra.Command, args []string) error {
		previous, err := decimal.NewFromString(simulatePrevious)
		if err != nil {
			return fmt.Errorf("invalid --previous value: %w", err)
		}
		current, err := decimal.NewFromString(simulateCurrent)
		if err != nil {
			return fmt.Errorf("invalid --current value: %w", err)
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Previous: previous,
			Current:  current,
			DryRun:   simulateDryRun,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePrevious, "previous", "", "Baseline live stake in ADA")
	simulateCmd.Flags().StringVar(&simulateCurrent, "current", "", "Fetched live stake in ADA")
	simulateCmd.Flags().BoolVar(&simulateDryRun, "dry-run", false, "Print the message instead of posting it")
	_ = simulateCmd.MarkFlagRequired("previous")
	_ = simulateCmd.MarkFlagRequired("current")
}
