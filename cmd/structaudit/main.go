package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var (
	outputFormat string
	cacheLine    uint64
	filterName   string
)

func main() {
	root := &cobra.Command{
		Use:           "structaudit",
		Short:         "Audit the physical memory layout of record types in a compiled native binary",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newInspectCmd())
	root.AddCommand(newDiffCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newSuggestCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("structaudit: %v", err)
	}
}

// exitWithCode is used by subcommands that need to set the process exit
// intent (budget violations, diff regressions) independent of whether the
// run itself errored.
func exitWithCode(code int) {
	os.Exit(code)
}
