package handlers

import (
	"fmt"

	"github.com/spf13/cobra"

	"lloydsdigest/internal/quality"
	"lloydsdigest/internal/tui"
)

// NewHealthCmd creates the health command
func NewHealthCmd() *cobra.Command {
	var (
		minAttempts int
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show the worst-performing extraction methods",
		Long: `List (domain, method) pairs by ascending success rate, skipping pairs with
too few attempts, and flag domains whose primary method is drifting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			repo, err := openRepository(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			stats, err := repo.AllMethodStats(ctx)
			if err != nil {
				return err
			}
			drift := map[string]bool{}
			for _, row := range stats {
				if _, seen := drift[row.Domain]; seen {
					continue
				}
				prefs, err := repo.DomainPrefs(ctx, row.Domain)
				if err != nil {
					return err
				}
				drift[row.Domain] = prefs != nil && prefs.DriftFlag
			}

			rows := quality.BuildMethodHealth(stats, drift, quality.HealthOptions{MinAttempts: minAttempts, MaxItems: limit})
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No methods with enough attempts yet.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), tui.HealthTable(rows))
			return nil
		},
	}

	cmd.Flags().IntVar(&minAttempts, "min-attempts", quality.DefaultHealthMinAttempts, "skip methods with fewer attempts")
	cmd.Flags().IntVar(&limit, "limit", quality.DefaultHealthMaxItems, "maximum rows")
	return cmd
}
