package handlers

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"lloydsdigest/internal/config"
	"lloydsdigest/internal/core"
	"lloydsdigest/internal/extract"
	"lloydsdigest/internal/pipeline"
)

// NewPrefsCmd creates the prefs command
func NewPrefsCmd() *cobra.Command {
	var recompute bool

	cmd := &cobra.Command{
		Use:   "prefs <domain>",
		Short: "Show or recompute a domain's extraction method preferences",
		Long: `Show the primary and fallback extraction methods chosen for a domain,
together with the per-method statistics they were chosen from.

With --recompute the selection policy runs again against the stored
statistics and the result is saved.

Examples:
  lloydsdigest prefs www.insurancejournal.com
  lloydsdigest prefs www.insurancejournal.com --recompute`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			domain := strings.ToLower(strings.TrimSpace(args[0]))

			repo, err := openRepository(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			var prefs *core.MethodPrefs
			if recompute {
				engine := extract.NewEngine(extract.DefaultRegistry(), repo, repo, pipeline.EngineOptions(config.Get()))
				prefs, err = engine.RefreshPrefs(ctx, domain)
			} else {
				prefs, err = repo.DomainPrefs(ctx, domain)
			}
			if err != nil {
				return err
			}

			stats, err := repo.MethodStats(ctx, domain)
			if err != nil {
				return err
			}
			printPrefs(cmd.OutOrStdout(), domain, prefs, stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&recompute, "recompute", false, "recompute and store the preferences")
	return cmd
}

func printPrefs(w io.Writer, domain string, prefs *core.MethodPrefs, stats []core.MethodStats) {
	fmt.Fprintf(w, "🌐 %s\n", domain)
	if prefs == nil {
		fmt.Fprintln(w, "   No preferences yet")
	} else {
		fmt.Fprintf(w, "   Primary:    %s\n", prefs.PrimaryMethod)
		fmt.Fprintf(w, "   Fallbacks:  %s\n", strings.Join(prefs.FallbackMethods, ", "))
		fmt.Fprintf(w, "   Confidence: %.2f\n", prefs.Confidence)
		if prefs.LockedUntil != nil {
			fmt.Fprintf(w, "   Locked:     until %s\n", prefs.LockedUntil.Format(time.RFC3339))
		}
		if prefs.DriftFlag {
			fmt.Fprintf(w, "   ⚠️  Drift:   %s\n", prefs.DriftNotes)
		}
	}
	if len(stats) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tATTEMPTS\tSUCCESS\tMEDIAN MS\tLAST SUCCESS")
	for _, s := range stats {
		median := "-"
		if s.MedianDurationMS != nil {
			median = fmt.Sprintf("%d", *s.MedianDurationMS)
		}
		last := "-"
		if s.LastSuccessAt != nil {
			last = s.LastSuccessAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%d\t%.2f\t%s\t%s\n", s.Method, s.Attempts, s.SuccessRate(), median, last)
	}
	_ = tw.Flush()
}
