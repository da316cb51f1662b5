package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scigolib/structaudit/internal/diffengine"
	"github.com/scigolib/structaudit/internal/model"
	"github.com/scigolib/structaudit/internal/render"
)

var failOnRegression bool

func newDiffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <old-binary> <new-binary>",
		Short: "Compare record layouts between two binaries",
		Args:  cobra.ExactArgs(2),
		RunE:  runDiff,
	}
	cmd.Flags().StringVar(&outputFormat, "format", "table", `output format: "table" or "json"`)
	cmd.Flags().Uint64Var(&cacheLine, "cache-line", 0, "cache-line size in bytes (default 64)")
	cmd.Flags().StringVar(&filterName, "filter", "", "only diff the record with this exact name")
	cmd.Flags().BoolVar(&failOnRegression, "fail-on-regression", false, "exit 1 if any matched record grew in size or padding")
	return cmd
}

func runDiff(cmd *cobra.Command, args []string) error {
	oldPath, newPath := args[0], args[1]

	lineSize, err := resolveCacheLineSize(cacheLine)
	if err != nil {
		return err
	}

	oldResult, err := auditBinary(oldPath, lineSize)
	if err != nil {
		return err
	}
	warnIfAny(oldPath, oldResult.warnings)

	newResult, err := auditBinary(newPath, lineSize)
	if err != nil {
		return err
	}
	warnIfAny(newPath, newResult.warnings)

	oldRecords := filterByName(oldResult.records, filterName)
	newRecords := filterByName(newResult.records, filterName)

	report := diffengine.Diff(oldRecords, newRecords, diffengine.Options{RegressionGating: failOnRegression})

	switch outputFormat {
	case "json":
		out := render.DiffOutput{SchemaVersion: render.SchemaVersion, Report: report}
		if err := render.RenderJSON(os.Stdout, out); err != nil {
			return err
		}

	case "table":
		printDiffTable(report)

	default:
		return fmt.Errorf("unknown --format %q: must be \"table\" or \"json\"", outputFormat)
	}

	if failOnRegression && anyRegression(report) {
		exitWithCode(1)
	}
	return nil
}

func printDiffTable(report model.DiffReport) {
	for _, rec := range report.Added {
		fmt.Printf("+ %s (size=%d)\n", rec.Name, rec.Size)
	}
	for _, rec := range report.Removed {
		fmt.Printf("- %s (size=%d)\n", rec.Name, rec.Size)
	}
	for _, ch := range report.Changed {
		marker := "~"
		if ch.Regression {
			marker = "! REGRESSION"
		}
		fmt.Printf("%s %s: size %d -> %d (%+d), padding %d -> %d (%+d)\n",
			marker, ch.Name, ch.OldSize, ch.NewSize, ch.SizeDelta, ch.OldPadding, ch.NewPadding, ch.PaddingDelta)
		for _, mc := range ch.Members {
			if mc.Details != "" {
				fmt.Printf("    %s %s: %s\n", mc.Kind, mc.Member, mc.Details)
			} else {
				fmt.Printf("    %s %s\n", mc.Kind, mc.Member)
			}
		}
	}
	fmt.Printf("%d unchanged\n", report.UnchangedCount)
}

func anyRegression(report model.DiffReport) bool {
	for _, ch := range report.Changed {
		if ch.Regression {
			return true
		}
	}
	return false
}
