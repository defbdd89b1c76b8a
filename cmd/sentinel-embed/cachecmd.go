package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raaihank/sentinel-embed/internal/cache"
	"github.com/raaihank/sentinel-embed/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the Redis embedding cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show embedding cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(func(ctx context.Context, c *cache.EmbeddingCache) error {
			stats, err := c.GetStats(ctx)
			if err != nil {
				return err
			}
			printCacheStats(cmd.OutOrStdout(), stats)
			return nil
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached embedding under the configured key prefix",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCache(func(ctx context.Context, c *cache.EmbeddingCache) error {
			if err := c.Clear(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared embeddings under prefix %q\n", globalConfig.Cache.KeyPrefix)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func withCache(fn func(ctx context.Context, c *cache.EmbeddingCache) error) error {
	if err := requireCache(globalConfig); err != nil {
		return err
	}
	c, err := cache.NewEmbeddingCache(&globalConfig.Cache, globalLogger.WithComponent("cache").Logger)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("cache not reachable: %w", err)
	}
	return fn(ctx, c)
}

func requireCache(cfg *config.Config) error {
	if !cfg.Cache.Enabled {
		return fmt.Errorf("embedding cache is disabled: set cache.enabled")
	}
	return nil
}

func printCacheStats(w io.Writer, s *cache.CacheStats) {
	fmt.Fprintln(w, "Embedding Cache Statistics")
	fmt.Fprintln(w, "==========================")
	fmt.Fprintf(w, "Hits:              %d\n", s.Hits)
	fmt.Fprintf(w, "Misses:            %d\n", s.Misses)
	fmt.Fprintf(w, "Errors:            %d\n", s.Errors)
	fmt.Fprintf(w, "Hit rate:          %.1f%%\n", s.HitRate)
	fmt.Fprintf(w, "Keys:              %d\n", s.TotalKeys)
	fmt.Fprintf(w, "Memory:            %d bytes\n", s.MemoryUsage)
}
