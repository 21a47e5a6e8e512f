/*
PURPOSE:
  Entry point for the Mimic Runner binary.
  Hands control to the cobra root command and maps failure to an exit code.

REQUIREMENTS:
  User-specified:
  - Single binary for run, classify, list-models and relay.
  - Errors are printed once, to stderr.

  Implementation-discovered:
  - Signal handling lives in cli.Execute so an interrupt cancels the
    active run and still lets partial results be exported.
  - cobra's own error printing is silenced in the root command.

ARCHITECTURE INTEGRATION:
  - Calls: internal/cli.Execute()

ERROR HANDLING:
  - Exit code 1 on any returned error.

IMPLEMENTATION RULES:
  - Critical: Keep main() minimal. All logic belongs in internal/ packages.

USAGE:
  go build -o mimic-runner ./cmd/mimic-runner
  ./mimic-runner run -q "..." --models gpt-4o-mini

SELF-HEALING INSTRUCTIONS:
  - If a subcommand is missing, check its init() registers with rootCmd.

RELATED FILES:
  - internal/cli/root.go

MAINTENANCE:
  - None.
*/

package main

import (
	"fmt"
	"os"

	"github.com/daryltucker/mimic-runner/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
