package cli

import (
	"github.com/spf13/cobra"

	"vault-risk-backtest/internal/app"
)

var (
	exportRunID     int64
	exportStatus    string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export pair metrics of a run as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			RunID:     exportRunID,
			Status:    exportStatus,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().Int64Var(&exportRunID, "run-id", 0, "Run to export (defaults to the latest completed run)")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "Only export pairs with this status (e.g. scored)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
