package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ledgerd",
	Short: "Collateralized lending ledger",
	Long: `ledgerd runs a multi-asset lending ledger: users deposit collateral,
borrow against it, repay with interest and get liquidated when their
health factor drops below one.

Commands:
  - serve: run the HTTP API with live prices, streams and the event journal
  - simulate: replay a YAML scenario against an in-process ledger
  - migrate: manage the event journal schema`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
