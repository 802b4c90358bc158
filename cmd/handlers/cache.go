package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lloydsdigest/internal/config"
	"lloydsdigest/internal/fetch"
	"lloydsdigest/internal/llm"
	"lloydsdigest/internal/pipeline"
)

// NewCacheCmd creates the cache command
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the fetch and LLM caches",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete every cached fetch and LLM response",
		Long: `Clear the fetch cache held in the storage backend and, when
cache.backend is redis, the fetch and LLM entries stored in Redis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Get()
			out := cmd.OutOrStdout()

			repo, err := openRepository(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = repo.Close() }()

			n, err := repo.ClearFetchCache(ctx)
			if err != nil {
				return fmt.Errorf("failed to clear fetch cache: %w", err)
			}
			fmt.Fprintf(out, "🧹 Cleared %d stored fetch entries\n", n)

			if !strings.EqualFold(cfg.Cache.Backend, pipeline.CacheBackendRedis) {
				return nil
			}
			client, err := llm.DialRedis(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			ttl := config.Duration(cfg.Cache.TTL, 7*24*time.Hour)
			fetched, err := fetch.NewRedisCache(client, ttl).ClearFetchCache(ctx)
			if err != nil {
				return fmt.Errorf("failed to clear redis fetch cache: %w", err)
			}
			answers, err := llm.NewRedisCache(client, ttl).Clear(ctx)
			if err != nil {
				return fmt.Errorf("failed to clear redis LLM cache: %w", err)
			}
			fmt.Fprintf(out, "🧹 Cleared %d Redis fetch entries and %d LLM responses\n", fetched, answers)
			return nil
		},
	})

	return cmd
}
