package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lloydsdigest/internal/config"
	"lloydsdigest/internal/logger"
	"lloydsdigest/internal/persistence"
	"lloydsdigest/internal/pipeline"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lloydsdigest",
		Short: "Build a daily digest of Lloyd's and London market news.",
		Long: `lloydsdigest discovers articles from configured RSS feeds and listing
pages, extracts their text with the method that works best for each domain,
filters them through keyword and LLM relevance gates, and renders a ranked
digest.

Examples:
  lloydsdigest run --sources sources.csv
  lloydsdigest prefs www.lloyds.com --recompute
  lloydsdigest health
  lloydsdigest review output/digest_2026-05-01.json`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.lloydsdigest.yaml or $HOME/.lloydsdigest.yaml)")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewPrefsCmd())
	rootCmd.AddCommand(NewHealthCmd())
	rootCmd.AddCommand(NewMigrateCmd())
	rootCmd.AddCommand(NewCacheCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewReviewCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// initConfig loads configuration and applies the logging settings
func initConfig() error {
	config.Reset()
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	level := cfg.Logging.Level
	if cfg.App.Debug {
		level = "debug"
	}
	logger.Configure(level, cfg.Logging.Format, os.Stderr)
	return nil
}

func openRepository(ctx context.Context) (persistence.Repository, error) {
	return pipeline.OpenRepository(ctx, config.Get())
}
