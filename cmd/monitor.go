// File: cmd/monitor.go
package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/blswatch/internal/captcha"
	"github.com/xkilldash9x/blswatch/internal/monitor"
	"github.com/xkilldash9x/blswatch/internal/notify"
	"github.com/xkilldash9x/blswatch/internal/observability"
)

// newMonitorCmd creates the long-running `monitor` command.
func newMonitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Continuously checks the portal for open appointment slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := observability.GetLogger()
			client := captcha.NewClient(appCfg.Solver, logger)
			sink := notify.NewTelegram(appCfg.Telegram, logger)
			loop := monitor.NewLoop(
				appCfg.Monitor,
				slotDetails(appCfg),
				checkerFactory(appCfg, logger),
				sink,
				client,
				logger,
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return loop.Run(gctx) })
			return g.Wait()
		},
	}
}

func init() {
	rootCmd.AddCommand(newMonitorCmd())
}
