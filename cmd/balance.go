// File: cmd/balance.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/blswatch/internal/captcha"
	"github.com/xkilldash9x/blswatch/internal/observability"
)

// newBalanceCmd creates the `balance` command.
func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Prints the captcha solving service account balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := captcha.NewClient(appCfg.Solver, observability.GetLogger())
			balance, err := client.Balance(cmd.Context())
			if err != nil {
				return fmt.Errorf("balance check failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Solver balance: $%.2f\n", balance)
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newBalanceCmd())
}
