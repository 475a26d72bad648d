package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orkacore/orka-go/agents"
	"github.com/orkacore/orka-go/config"
	"github.com/orkacore/orka-go/core"
	"github.com/orkacore/orka-go/events"
	"github.com/orkacore/orka-go/nodes"
	"github.com/orkacore/orka-go/run"
	"github.com/orkacore/orka-go/workflow"
)

func newRunCmd() *cobra.Command {
	var (
		timeout time.Duration
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "run <workflow.yml> <input>",
		Short: "Execute a workflow against an input",
		Long: "Loads the workflow document, executes it against the input and " +
			"prints the structured run report to stdout as JSON.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			graph, err := workflow.LoadFile(args[0])
			if err != nil {
				return err
			}
			store, err := cfg.NewStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			registry := core.NewRegistry()
			agents.Register(registry, agents.Dependencies{
				LLM:    cfg.LLMResolver(),
				Search: agents.NewDuckDuckGo(),
			})
			nodes.Register(registry, store)

			opts := []run.CoordinatorOption{run.WithStore(store)}
			if verbose {
				opts = append(opts, run.WithEmitter(events.NewLog(os.Stderr, false)))
			}
			if timeout > 0 {
				opts = append(opts, run.WithRunTimeout(timeout))
			}
			coordinator := run.NewCoordinator(registry, opts...)

			report, runErr := coordinator.Run(ctx, graph, args[1])
			if report != nil {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if report.Status == "failed" {
				return fmt.Errorf("run %s failed: %v", report.TraceID, report.Errors)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "run-level timeout (0 = none)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "emit runtime events to stderr")
	return cmd
}

// exitCodeFor maps an error to the documented exit codes: 2 for invalid
// configuration or an invalid graph, 1 for everything else.
func exitCodeFor(err error) int {
	var gi *core.GraphInvalidError
	if errors.As(err, &gi) {
		return exitInvalidConfig
	}
	switch core.KindOf(err) {
	case core.KindConfigInvalid, core.KindGraphInvalid:
		return exitInvalidConfig
	}
	return exitRunFailed
}
