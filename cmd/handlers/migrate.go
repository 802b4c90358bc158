package handlers

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"lloydsdigest/internal/config"
	"lloydsdigest/internal/persistence"
)

// NewMigrateCmd creates the migrate command with its subcommands
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres schema migrations",
		Long: `Apply pending migrations to the Postgres database named by the
POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER and POSTGRES_PASSWORD
settings. The SQLite backend creates its schema on open and needs no
migrations.

Examples:
  # Apply all pending migrations
  lloydsdigest migrate

  # Show which migrations have been applied
  lloydsdigest migrate status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd.Context(), cmd.OutOrStdout())
		},
	})

	return cmd
}

func openMigrationManager(ctx context.Context) (*persistence.PostgresDB, *persistence.MigrationManager, error) {
	cfg := config.Get()
	if !strings.EqualFold(cfg.Storage.Backend, persistence.BackendPostgres) {
		return nil, nil, fmt.Errorf("%w: migrations need storage.backend=postgres (have %q)", config.ErrConfig, cfg.Storage.Backend)
	}
	dsn, err := persistence.BuildDSN(cfg.Storage.Postgres.Lookup)
	if err != nil {
		return nil, nil, err
	}
	db, err := persistence.NewPostgresDB(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, persistence.NewMigrationManager(db), nil
}

func runMigrateUp(ctx context.Context, out io.Writer) error {
	db, mgr, err := openMigrationManager(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	fmt.Fprintln(out, "🔄 Applying migrations...")
	n, err := mgr.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if n == 0 {
		fmt.Fprintln(out, "✅ Database is up to date")
		return nil
	}
	fmt.Fprintf(out, "✅ Applied %d migration(s)\n", n)
	return nil
}

func runMigrateStatus(ctx context.Context, out io.Writer) error {
	db, mgr, err := openMigrationManager(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	statuses, err := mgr.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	printMigrationStatus(out, statuses)
	return nil
}

func printMigrationStatus(out io.Writer, statuses []persistence.MigrationStatus) {
	fmt.Fprintln(out, "📋 Migration status")
	pending := 0
	for _, s := range statuses {
		mark := "✅"
		if !s.Applied {
			mark = "⏳"
			pending++
		}
		fmt.Fprintf(out, "   %s %03d %s\n", mark, s.Version, s.Description)
	}
	fmt.Fprintf(out, "\n%d applied, %d pending\n", len(statuses)-pending, pending)
}
