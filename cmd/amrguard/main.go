package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/zatekoja/amrguard/internal/app"
	"github.com/zatekoja/amrguard/internal/infrastructure/observability"
	"github.com/zatekoja/amrguard/pkg/config"
	"github.com/zatekoja/amrguard/pkg/secrets"
)

var (
	timeout    time.Duration
	jsonOutput bool
	verbose    bool
)

// rootCmd is the prescriber-facing command line
var rootCmd = &cobra.Command{
	Use:   "amrguard",
	Short: "Antimicrobial prescribing support from the command line",
	Long: `amrguard runs the prescription pipeline against a patient file and
prints the prescription card. It also exposes the reference lookups the
pipeline relies on and publishes new reference snapshots.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		observability.InitLoggerTo(os.Stderr, "amrguard-cli", "development")
		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		} else {
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of formatted output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(interactionsCmd)
	rootCmd.AddCommand(interpretCmd)
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// commandContext bounds a command by the --timeout flag
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	return context.WithTimeout(base, timeout)
}

// loadConfig resolves secrets before reading configuration so vault values
// land in the environment first
func loadConfig(ctx context.Context) (*config.Config, error) {
	if err := secrets.ApplyFromEnv(ctx); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// buildApp assembles the full pipeline for commands that need it
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	// the CLI never streams events to browsers
	cfg.Pipeline.EventsEnabled = false
	return app.Build(ctx, cfg, nil)
}
