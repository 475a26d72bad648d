// Command orka runs declarative agent workflows and manages the memory
// subsystem from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Exit codes: 0 success, 1 run failure, 2 invalid configuration.
const (
	exitOK            = 0
	exitRunFailed     = 1
	exitInvalidConfig = 2
)

func main() {
	// A local .env is a convenience, not a requirement.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "orka",
		Short:         "Declarative AI-agent workflow orchestration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newMemoryCmd())
	root.AddCommand(newSystemCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "orka:", err)
		os.Exit(exitCodeFor(err))
	}
}
