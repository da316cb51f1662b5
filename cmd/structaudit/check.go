package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scigolib/structaudit/internal/budget"
	"github.com/scigolib/structaudit/internal/config"
	"github.com/scigolib/structaudit/internal/model"
	"github.com/scigolib/structaudit/internal/render"
)

var budgetPath string

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <binary>",
		Short: "Evaluate a binary's record layouts against a declarative size/padding budget",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheck,
	}
	cmd.Flags().StringVar(&outputFormat, "format", "table", `output format: "table" or "json"`)
	cmd.Flags().Uint64Var(&cacheLine, "cache-line", 0, "cache-line size in bytes (default 64)")
	cmd.Flags().StringVar(&filterName, "filter", "", "only check the record with this exact name")
	cmd.Flags().StringVar(&budgetPath, "budget", "", "path to the YAML budget-rule document (required)")
	_ = cmd.MarkFlagRequired("budget")
	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := args[0]

	lineSize, err := resolveCacheLineSize(cacheLine)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(budgetPath)
	if err != nil {
		return fmt.Errorf("reading budget file %s: %w", budgetPath, err)
	}
	rules, err := config.LoadRules(data)
	if err != nil {
		return err
	}

	result, err := auditBinary(path, lineSize)
	if err != nil {
		return err
	}
	warnIfAny(path, result.warnings)

	records := filterByName(result.records, filterName)
	violations := budget.Check(records, rules)

	switch outputFormat {
	case "json":
		out := render.CheckOutput{SchemaVersion: render.SchemaVersion, Violations: violations}
		if err := render.RenderJSON(os.Stdout, out); err != nil {
			return err
		}

	case "table":
		printViolations(violations)

	default:
		return fmt.Errorf("unknown --format %q: must be \"table\" or \"json\"", outputFormat)
	}

	if len(violations) > 0 {
		exitWithCode(1)
	}
	return nil
}

func printViolations(violations []model.Violation) {
	if len(violations) == 0 {
		fmt.Println("all budgets satisfied")
		return
	}
	for _, v := range violations {
		fmt.Printf("%s: rule %q: %s actual=%.2f max=%.2f\n", v.Record, v.Rule, v.Kind, v.Actual, v.Max)
	}
}
