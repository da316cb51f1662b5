// Package main wires the core audit packages (loader, dbginfo, layout,
// diffengine, budget, optimize, render) into the structaudit CLI. It is a
// thin collaborator per the core's design: it owns no analysis logic of its
// own, only file I/O, flag parsing, and output selection.
package main

import (
	"fmt"
	"os"

	"github.com/scigolib/structaudit/internal/dbginfo"
	"github.com/scigolib/structaudit/internal/layout"
	"github.com/scigolib/structaudit/internal/loader"
	"github.com/scigolib/structaudit/internal/model"
	"github.com/scigolib/structaudit/internal/utils"
)

// auditResult bundles the record catalogue produced for one binary with the
// warning count the debug-info walk accumulated along the way.
type auditResult struct {
	records  []model.RecordLayout
	warnings int
}

// auditBinary runs the full extraction pipeline for one binary path: load,
// parse DWARF, walk record types, and compute layout metrics for each one.
// The loaded binary is always closed before returning.
func auditBinary(path string, cacheLineSize uint64) (auditResult, error) {
	lb, err := loader.Load(path)
	if err != nil {
		return auditResult{}, utils.WrapError("loading "+path, err)
	}
	defer func() { _ = lb.Close() }()

	dwarfData, err := lb.DWARF()
	if err != nil {
		return auditResult{}, utils.WrapError("parsing debug info in "+path, err)
	}

	rawInfo, err := lb.DebugInfoRaw()
	if err != nil {
		return auditResult{}, utils.WrapError("reading raw debug_info in "+path, err)
	}

	ctx, err := dbginfo.New(dwarfData, rawInfo, lb.Endianness())
	if err != nil {
		return auditResult{}, utils.WrapError("building debug-info context for "+path, err)
	}

	records, err := ctx.Extract()
	if err != nil {
		return auditResult{}, utils.WrapError("extracting records from "+path, err)
	}

	opts := layout.Options{CacheLineSize: cacheLineSize}
	for i := range records {
		records[i].Metrics = layout.Analyze(&records[i], opts)
		records[i].Partial = records[i].Partial || records[i].Metrics.Partial
	}

	return auditResult{records: records, warnings: ctx.Warnings()}, nil
}

// resolveCacheLineSize applies the default (64) when the flag value is 0.
// An explicit --cache-line 0 cannot be told apart from an unset flag, so it
// also yields 64; this function never returns an error.
func resolveCacheLineSize(flagValue uint64) (uint64, error) {
	if flagValue == 0 {
		return layout.DefaultCacheLineSize, nil
	}
	return flagValue, nil
}

// filterByName keeps only records whose name matches pattern exactly, when
// pattern is non-empty. This backs each subcommand's optional --filter flag.
func filterByName(records []model.RecordLayout, pattern string) []model.RecordLayout {
	if pattern == "" {
		return records
	}
	out := make([]model.RecordLayout, 0, len(records))
	for _, r := range records {
		if r.Name == pattern {
			out = append(out, r)
		}
	}
	return out
}

func warnIfAny(path string, warnings int) {
	if warnings > 0 {
		fmt.Fprintf(os.Stderr, "warning: %s: %d record(s) dropped or marked partial during extraction\n", path, warnings)
	}
}
