package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/breeze-rmm/swtrack/internal/health"
	"github.com/breeze-rmm/swtrack/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Add installed software found in the registry",
	Long: `Query the uninstall registry for installed programs and append any not yet tracked.
PowerShell is tried first; when it adds nothing, each uninstall root is walked with 'reg query'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Scanning for installed software...")
		res, err := a.svc.Scan(ctx)
		if err != nil {
			return err
		}

		if res.PersistErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", warningText("Warning:"), res.PersistErr)
		}
		if res.Added == 0 {
			fmt.Fprintln(out, "Scan complete: no new software found.")
			printToolHints(cmd, a.health)
		} else {
			fmt.Fprintf(out, "%s %d new entries via %s.\n", successText("Scan complete:"), res.Added, res.Strategy)
		}
		fmt.Fprintf(out, "Total software in database: %d\n", res.Total)
		return nil
	},
}

// printToolHints explains an empty scan when the tools themselves failed.
func printToolHints(cmd *cobra.Command, m *health.Monitor) {
	for _, name := range []string{scanner.StrategyRichQuery, scanner.StrategyRawEnum} {
		c, ok := m.Get(name)
		if !ok || c.Status == health.Healthy {
			continue
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %s: %s\n", warningText("Note:"), name, c.Status, c.Message)
	}
}
