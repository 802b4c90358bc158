package handlers

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lloydsdigest/internal/config"
	"lloydsdigest/internal/pipeline"
	"lloydsdigest/internal/tui"
)

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	var (
		date          string
		sourcesPath   string
		maxSources    int
		maxCandidates int
		noCache       bool
		noSkipSeen    bool
		outputDir     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the digest pipeline once",
		Long: `Run the full pipeline: load sources, discover candidates, drop stale ones,
fetch and extract each article, apply the relevance gates, then assemble and
render the digest.

Examples:
  # Today's digest from the configured sources
  lloydsdigest run

  # Backfill a date with a small sample and no caches
  lloydsdigest run --date 2026-05-01 --max-candidates 20 --no-cache`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()

			opts := pipeline.RunOptions{
				SourcesPath:   cfg.Sources.File,
				MaxSources:    maxSources,
				MaxCandidates: maxCandidates,
				SkipSeen:      !noSkipSeen,
				OutputDir:     outputDir,
			}
			if sourcesPath != "" {
				opts.SourcesPath = sourcesPath
			}
			if date != "" {
				d, err := time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date %q (want YYYY-MM-DD): %w", date, err)
				}
				opts.Date = d
			}

			builder := pipeline.NewBuilder(cfg).WithOutput(cmd.OutOrStdout())
			if noCache {
				builder = builder.WithoutCache()
			}
			p, err := builder.Build(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = p.Close() }()

			res, err := p.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "📋 Run %s\n", res.RunID)
			fmt.Fprintf(out, "   Coverage: %.0f%% (%d/%d), errors: %d\n",
				res.Summary.Coverage*100, res.Summary.Extracted, res.Summary.TotalCandidates, res.Summary.Errors)
			fmt.Fprintf(out, "   Digest items: %d\n", len(res.Items))
			if res.Paths.Markdown != "" {
				fmt.Fprintf(out, "   Written: %s\n", res.Paths.Markdown)
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "   ⚠️  %s\n", w)
			}
			if len(res.Health) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, tui.HealthTable(res.Health))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "run date YYYY-MM-DD (default today, UTC)")
	cmd.Flags().StringVar(&sourcesPath, "sources", "", "sources CSV (default from config)")
	cmd.Flags().IntVar(&maxSources, "max-sources", 0, "process at most this many sources")
	cmd.Flags().IntVar(&maxCandidates, "max-candidates", 0, "process at most this many candidates")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the fetch and LLM caches")
	cmd.Flags().BoolVar(&noSkipSeen, "no-skip-seen", false, "reprocess candidates already stored as articles")
	cmd.Flags().StringVar(&outputDir, "output", "", "output directory (default from config)")

	return cmd
}
