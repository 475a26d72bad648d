package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orkacore/orka-go/agents"
	"github.com/orkacore/orka-go/config"
	"github.com/orkacore/orka-go/core"
	"github.com/orkacore/orka-go/nodes"
)

func newSystemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "system",
		Short: "Runtime diagnostics",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show backend health, configured providers and registered agent types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Printf("memory backend: %s\n", cfg.MemoryBackend)

			store, err := cfg.NewStore(ctx)
			if err != nil {
				fmt.Printf("store: unavailable (%v)\n", err)
			} else {
				defer store.Close()
				stats, statsErr := store.Stats(ctx)
				if statsErr != nil {
					fmt.Printf("store: degraded (%v)\n", statsErr)
				} else {
					mode := "text-only"
					if stats.VectorSearch {
						mode = "vector+text"
					}
					fmt.Printf("store: healthy, %d entries, search mode %s\n",
						stats.TotalEntries, mode)
				}
			}

			var providers []string
			if cfg.OpenAIKey != "" {
				providers = append(providers, "openai")
			}
			if cfg.AnthropicKey != "" {
				providers = append(providers, "anthropic")
			}
			if cfg.GoogleKey != "" {
				providers = append(providers, "google")
			}
			if len(providers) == 0 {
				providers = append(providers, "none (mock and local embedder only)")
			}
			fmt.Printf("llm providers: %s\n", strings.Join(providers, ", "))

			registry := core.NewRegistry()
			agents.Register(registry, agents.Dependencies{
				LLM:    cfg.LLMResolver(),
				Search: agents.NewDuckDuckGo(),
			})
			nodes.Register(registry, nil)
			types := registry.Types()
			for t := range nodes.StructuralTypes {
				types = append(types, t)
			}
			sort.Strings(types)
			fmt.Printf("agent types: %s\n", strings.Join(types, ", "))
			return nil
		},
	})
	return cmd
}
