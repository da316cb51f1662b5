package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scigolib/structaudit/internal/render"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <binary>",
		Short: "Print the record layouts found in a binary's debug information",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	cmd.Flags().StringVar(&outputFormat, "format", "table", `output format: "table" or "json"`)
	cmd.Flags().Uint64Var(&cacheLine, "cache-line", 0, "cache-line size in bytes (default 64)")
	cmd.Flags().StringVar(&filterName, "filter", "", "only inspect the record with this exact name")
	return cmd
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]

	lineSize, err := resolveCacheLineSize(cacheLine)
	if err != nil {
		return err
	}

	result, err := auditBinary(path, lineSize)
	if err != nil {
		return err
	}
	warnIfAny(path, result.warnings)

	records := filterByName(result.records, filterName)

	switch outputFormat {
	case "json":
		out := render.InspectOutput{SchemaVersion: render.SchemaVersion, Records: records}
		return render.RenderJSON(os.Stdout, out)

	case "table":
		for _, rec := range records {
			fmt.Printf("%s (size=%d, padding=%d, %.1f%%)\n", rec.Name, rec.Size, rec.Metrics.PaddingBytes, rec.Metrics.PaddingPercent)
			render.RenderTable(os.Stdout, rec, lineSize)
			fmt.Println()
		}
		return nil

	default:
		return fmt.Errorf("unknown --format %q: must be \"table\" or \"json\"", outputFormat)
	}
}
