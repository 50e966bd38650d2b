package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reductus/engine/internal/cmdutil"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the result cache",
	}
	cmd.AddCommand(newCacheStatsCmd())
	cmd.AddCommand(newCacheEvictCmd())
	return cmd
}

func newCacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache size and hit/miss counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap := app.Engine.Metrics.Snapshot()
			fmt.Fprintf(cmd.OutOrStdout(), "entries: %d\n", app.Engine.Cache.Len())
			fmt.Fprintf(cmd.OutOrStdout(), "cache hits: %d\n", snap.CacheHits)
			fmt.Fprintf(cmd.OutOrStdout(), "cache misses: %d\n", snap.CacheMisses)
			fmt.Fprintf(cmd.OutOrStdout(), "hit rate: %.2f%%\n", snap.HitRate()*100)
			fmt.Fprintf(cmd.OutOrStdout(), "evaluations run: %d\n", snap.EvaluationsRun)
			fmt.Fprintf(cmd.OutOrStdout(), "lm iterations: %d\n", snap.LMIterations)
			return nil
		},
	}
}

func newCacheEvictCmd() *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "evict",
		Short: "Evict cache entries older than a duration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan == "" {
				return cmdutil.NewExitError(fmt.Errorf("cache evict: --older-than is required"), cmdutil.ExitValidation)
			}
			d, err := time.ParseDuration(olderThan)
			if err != nil {
				return cmdutil.NewExitError(fmt.Errorf("cache evict: invalid --older-than: %w", err), cmdutil.ExitValidation)
			}
			n := app.Engine.Cache.EvictOlderThan(time.Now().Add(-d))
			fmt.Fprintf(cmd.OutOrStdout(), "evicted %d entries\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&olderThan, "older-than", "", "evict entries created before now minus this duration (e.g. 24h)")
	return cmd
}
