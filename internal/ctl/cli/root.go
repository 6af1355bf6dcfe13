// Package cli implements the billingctl command tree. The tool talks
// directly to the billing database and to Stripe, so it belongs on ops
// hosts and in runbooks, not on user machines.
package cli

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/JovieInc/Jovie-sub015/internal/ctl/config"
	"github.com/JovieInc/Jovie-sub015/internal/ctl/output"
	"github.com/JovieInc/Jovie-sub015/internal/ctl/version"
	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	quietMode  bool
	cfg        *config.Config
	printer    *output.Printer
)

var rootCmd = &cobra.Command{
	Use:   "billingctl",
	Short: "Inspect and repair billing entitlement state",
	Long: `billingctl is the operations CLI for the billing reconciliation engine.

It reads and writes the billing database directly and can query Stripe
for provider-side truth.

Get started:
  billingctl status <user>        # Inspect one user's billing state
  billingctl reconcile <user>     # Reconcile one user against Stripe
  billingctl reconcile --all      # Sweep every subscribed user
  billingctl report --days 30     # Webhook vs reconciliation activity`,
	Version: version.Full(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		printer = output.New(
			output.WithJSON(jsonOutput),
			output.WithQuiet(quietMode),
		)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON (for scripting)")
	rootCmd.PersistentFlags().BoolVar(&quietMode, "quiet", false, "Suppress non-error output")

	rootCmd.SetVersionTemplate("billingctl version {{.Version}}\n")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(configCmd)
}

var (
	signalOnce sync.Once
	signalCtx  context.Context
)

// GetContext returns a context canceled by SIGINT or SIGTERM, shared by
// every command so a Ctrl-C stops in-flight sweeps cleanly.
func GetContext() context.Context {
	signalOnce.Do(func() {
		signalCtx, _ = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	})
	return signalCtx
}

func requireDatabase() {
	if !cfg.HasDatabase() {
		path, _ := config.Path()
		printer.Error("No database configured. Set database_url in %s or %s.", path, config.EnvDatabaseURL)
		os.Exit(1)
	}
}
