package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lloydsdigest/internal/config"
	"lloydsdigest/internal/logger"
	"lloydsdigest/internal/observability"
	"lloydsdigest/internal/server"
)

// NewServeCmd creates the serve command
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the statistics and digest API",
		Long: `Start an HTTP server exposing extraction statistics, domain preferences,
method health, the latest rendered digest, and Prometheus metrics.

Endpoints:
  GET /health
  GET /metrics
  GET /api/prefs/{domain}
  GET /api/stats/{domain}
  GET /api/health/methods
  GET /api/digest/latest`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), host, port)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().StringVar(&host, "host", "", "host to bind (overrides config)")
	return cmd
}

func runServe(ctx context.Context, host string, port int) error {
	cfg := config.Get()
	if host != "" {
		cfg.Server.Host = host
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	repo, err := openRepository(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = repo.Close() }()
	if err := repo.Ping(ctx); err != nil {
		return fmt.Errorf("storage health check failed: %w", err)
	}

	srv := server.New(repo, observability.NewMetrics().Handler(), server.Options{
		Addr:         cfg.Server.Addr(),
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout, 30*time.Second),
		CORSOrigins:  cfg.Server.CORSOrigins,
		DigestDir:    cfg.Output.Directory,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
