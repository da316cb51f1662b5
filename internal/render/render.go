// Package render formats the Result Model for the two output artifacts the
// CLI collaborator supports: a versioned, byte-stable JSON envelope and a
// human table form with explicit padding rows and cache-line markers.
package render

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/scigolib/structaudit/internal/model"
)

// SchemaVersion is the top-level version tag every JSON envelope carries.
const SchemaVersion = "1"

// InspectOutput is the JSON envelope for the `inspect` subcommand.
type InspectOutput struct {
	SchemaVersion string              `json:"schema_version"`
	Records       []model.RecordLayout `json:"records"`
}

// DiffOutput is the JSON envelope for the `diff` subcommand.
type DiffOutput struct {
	SchemaVersion string          `json:"schema_version"`
	Report        model.DiffReport `json:"report"`
}

// CheckOutput is the JSON envelope for the `check` subcommand.
type CheckOutput struct {
	SchemaVersion string            `json:"schema_version"`
	Violations    []model.Violation `json:"violations"`
}

// SuggestOutput is the JSON envelope for the `suggest` subcommand.
type SuggestOutput struct {
	SchemaVersion string                 `json:"schema_version"`
	Optimized     []model.OptimizedLayout `json:"optimized"`
}

// RenderJSON marshals v with two-space indentation. Struct field order in
// the output types above is fixed at compile time, and encoding/json never
// reorders struct fields, so repeated calls over the same value produce
// byte-identical output.
func RenderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RenderTable writes a human-readable offset/size/type/field table for a
// single record, with explicit padding rows and a marker on the first
// field of each new cache line.
func RenderTable(w io.Writer, rec model.RecordLayout, cacheLineSize uint64) {
	if cacheLineSize == 0 {
		cacheLineSize = 64
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Offset", "Size", "Type", "Field"})
	table.SetBorders(tablewriter.Border{Left: true, Top: true, Right: true, Bottom: true})
	table.SetCenterSeparator("|")
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	rows := buildRows(rec, cacheLineSize)
	table.AppendBulk(rows)
	table.Render()
}

func buildRows(rec model.RecordLayout, cacheLineSize uint64) [][]string {
	var rows [][]string
	lastLine := uint64(0) - 1 // sentinel so the first row always gets a marker if it starts a line

	emitMarker := func(offset uint64) string {
		line := offset / cacheLineSize
		if line != lastLine {
			lastLine = line
			return fmt.Sprintf("--- cache line %d ---", line)
		}
		return ""
	}

	for _, m := range model.SortMembersByOffset(rec.Members) {
		offsetStr := "?"
		if m.Offset != nil {
			if marker := emitMarker(*m.Offset); marker != "" {
				rows = append(rows, []string{"", "", "", marker})
			}
			offsetStr = fmt.Sprintf("%d", *m.Offset)
		}
		sizeStr := "?"
		if m.Size != nil {
			sizeStr = fmt.Sprintf("%d", *m.Size)
		}
		rows = append(rows, []string{offsetStr, sizeStr, m.TypeName, m.Name})
	}

	for _, h := range rec.Metrics.Holes {
		if marker := emitMarker(h.Offset); marker != "" {
			rows = append(rows, []string{"", "", "", marker})
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", h.Offset),
			fmt.Sprintf("%d", h.Size),
			"",
			fmt.Sprintf("<padding after %s>", h.AfterMember),
		})
	}

	return rows
}
