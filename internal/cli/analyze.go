package cli

import (
	"github.com/spf13/cobra"

	"vault-risk-backtest/internal/app"
)

var analyzeOpts app.AnalyzeOptions

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compare estimated and realized capital at risk over block pairs",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := getApp().Analyze(cmd.Context(), analyzeOpts)
		return err
	},
}

func init() {
	flags := analyzeCmd.Flags()
	flags.StringVar(&analyzeOpts.VaultSetDir, "vault-set", "", "Snapshot directory with one subdirectory per block (overrides data.vault_set_dir)")
	flags.StringVar(&analyzeOpts.VaultHistoryPath, "history", "", "Vault history file (overrides data.vault_history_path)")
	flags.StringVar(&analyzeOpts.CollateralType, "collateral", "", "Collateral type to analyse (overrides analysis.collateral_type)")
	flags.Uint64Var(&analyzeOpts.Window, "window", 0, "Exclusive maximum block distance of a pair (overrides analysis.window)")
	flags.StringVar(&analyzeOpts.ResultDir, "result-dir", "", "Write transition chunks to this directory (overrides output.result_dir)")
	flags.IntVar(&analyzeOpts.Workers, "workers", 0, "Worker count (overrides analysis.workers)")
	flags.BoolVar(&analyzeOpts.NoStore, "no-store", false, "Do not persist the run even if database.dsn is set")
}
