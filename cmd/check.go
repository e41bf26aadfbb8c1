// File: cmd/check.go
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/blswatch/internal/observability"
)

// newCheckCmd creates the one-shot `check` command.
func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Runs a single availability check and prints the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := observability.GetLogger()
			checker, closeChecker, err := checkerFactory(appCfg, logger)(ctx)
			if err != nil {
				return fmt.Errorf("failed to build checker: %w", err)
			}
			defer closeChecker()

			res, err := checker.CheckOnce(ctx)
			if err != nil {
				return fmt.Errorf("check failed: %w", err)
			}

			if res.Available {
				fmt.Fprintln(cmd.OutOrStdout(), "Slots available!")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "No slots available.")
			}
			if res.EvidencePath != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Screenshot: %s\n", res.EvidencePath)
			}
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(newCheckCmd())
}
