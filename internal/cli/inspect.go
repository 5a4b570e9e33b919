package cli

import (
	"github.com/spf13/cobra"

	"vault-risk-backtest/internal/app"
)

var inspectVault string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print liquidations and snapshot states of one vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Inspect(cmd.Context(), app.InspectOptions{VaultID: inspectVault})
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectVault, "vault", "", "Vault id, <urn address>-<collateral type>")
	_ = inspectCmd.MarkFlagRequired("vault")
}
