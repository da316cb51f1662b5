package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scigolib/structaudit/internal/model"
	"github.com/scigolib/structaudit/internal/optimize"
	"github.com/scigolib/structaudit/internal/render"
)

var maxAlign uint64

func newSuggestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggest <binary>",
		Short: "Propose a reordered field layout that minimizes padding under an alignment cap",
		Args:  cobra.ExactArgs(1),
		RunE:  runSuggest,
	}
	cmd.Flags().StringVar(&outputFormat, "format", "table", `output format: "table" or "json"`)
	cmd.Flags().Uint64Var(&cacheLine, "cache-line", 0, "cache-line size in bytes (default 64)")
	cmd.Flags().StringVar(&filterName, "filter", "", "only optimize the record with this exact name")
	cmd.Flags().Uint64Var(&maxAlign, "max-align", 8, "maximum field alignment to honor when reordering (must be > 0)")
	return cmd
}

func runSuggest(cmd *cobra.Command, args []string) error {
	path := args[0]

	if maxAlign == 0 {
		return fmt.Errorf("--max-align must be positive")
	}

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

	optimized := make([]model.OptimizedLayout, 0, len(records))
	for i := range records {
		opt, err := optimize.Optimize(&records[i], maxAlign)
		if err != nil {
			return fmt.Errorf("optimizing %s: %w", records[i].Name, err)
		}
		optimized = append(optimized, opt)
	}

	switch outputFormat {
	case "json":
		out := render.SuggestOutput{SchemaVersion: render.SchemaVersion, Optimized: optimized}
		return render.RenderJSON(os.Stdout, out)

	case "table":
		printOptimized(optimized)
		return nil

	default:
		return fmt.Errorf("unknown --format %q: must be \"table\" or \"json\"", outputFormat)
	}
}

func printOptimized(optimized []model.OptimizedLayout) {
	for _, opt := range optimized {
		fmt.Printf("%s: %d -> %d bytes (savings %d, max_align=%d)\n",
			opt.Original, opt.OriginalSize, opt.NewSize, opt.Savings, opt.MaxAlignmentUsed)
		for _, m := range opt.Members {
			fmt.Printf("  %s %s @ %d (size %d)\n", m.TypeName, m.Name, derefU64(m.Offset), derefU64(m.Size))
		}
		for _, s := range opt.Skipped {
			fmt.Printf("  skipped: %s %s\n", s.Member.Name, s.Reason)
		}
	}
}

func derefU64(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}
