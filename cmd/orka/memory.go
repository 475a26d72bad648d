package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orkacore/orka-go/config"
	"github.com/orkacore/orka-go/memory"
)

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage the memory store",
	}
	cmd.AddCommand(newMemoryStatsCmd())
	cmd.AddCommand(newMemoryWatchCmd())
	cmd.AddCommand(newMemoryCleanupCmd())
	cmd.AddCommand(newMemoryConfigureCmd())
	return cmd
}

// openStore resolves the configured backend for a memory subcommand.
func openStore(ctx context.Context) (memory.Store, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, err
	}
	store, err := cfg.NewStore(ctx)
	if err != nil {
		return nil, cfg, err
	}
	return store, cfg, nil
}

func newMemoryStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print store contents and health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			stats, err := store.Stats(ctx)
			if err != nil {
				return err
			}
			return printStats(stats)
		},
	}
}

func newMemoryWatchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll store stats until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				stats, err := store.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("--- %s ---\n", time.Now().Format(time.TimeOnly))
				if err := printStats(stats); err != nil {
					return err
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "poll cadence")
	return cmd
}

func newMemoryCleanupCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove expired entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, _, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			report, err := store.CleanupExpired(ctx, dryRun)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "count expired entries without deleting")
	return cmd
}

func newMemoryConfigureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Print the resolved memory configuration and preset catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Printf("%s=%s\n", config.EnvMemoryBackend, cfg.MemoryBackend)
			fmt.Printf("%s=%s\n", config.EnvMemoryURL, cfg.MemoryURL)
			fmt.Printf("%s=%t\n", config.EnvDecayEnabled, cfg.DecayEnabled)
			fmt.Printf("%s=%g\n", config.EnvShortTermH, cfg.ShortTermHours)
			fmt.Printf("%s=%g\n", config.EnvLongTermH, cfg.LongTermHours)
			fmt.Printf("%s=%g\n", config.EnvCheckInterval, cfg.CheckInterval.Minutes())
			fmt.Println()
			fmt.Println("presets:")
			for _, name := range memory.PresetNames() {
				p, err := memory.PresetByName(name)
				if err != nil {
					return err
				}
				fmt.Printf("  %-10s short=%v long=%v sweep=%v limit=%d threshold=%.2f\n",
					p.Name, p.Retention.ShortTermTTL, p.Retention.LongTermTTL,
					p.Retention.CheckInterval, p.Limit, p.SimilarityThreshold)
			}
			return nil
		},
	}
}

func printStats(stats memory.Stats) error {
	fmt.Printf("entries: %d  vector_search: %t  pending_writes: %d\n",
		stats.TotalEntries, stats.VectorSearch, stats.PendingWrites)
	if !stats.LastCleanup.IsZero() {
		fmt.Printf("last_cleanup: %s\n", stats.LastCleanup.Format(time.RFC3339))
	}
	namespaces := make([]string, 0, len(stats.ByNamespace))
	for ns := range stats.ByNamespace {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)
	for _, ns := range namespaces {
		fmt.Printf("  %s: %d\n", ns, stats.ByNamespace[ns])
	}
	for t, n := range stats.ByType {
		fmt.Printf("  type %s: %d\n", t, n)
	}
	return nil
}
