package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var simulateMean float64

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send the run alert for a given mean deviation",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateMean < 0 {
			return errors.New("--mean cannot be negative")
		}
		return getApp().SimulateAlert(cmd.Context(), decimal.NewFromFloat(simulateMean))
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateMean, "mean", 0, "Mean deviation in percent")
}
