package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/structaudit/internal/model"
)

func u64(v uint64) *uint64 { return &v }

func sampleRecord() model.RecordLayout {
	return model.RecordLayout{
		Name: "Sample",
		Size: 12,
		Members: []model.MemberLayout{
			{Name: "a", TypeName: "char", Offset: u64(0), Size: u64(1)},
			{Name: "b", TypeName: "int", Offset: u64(4), Size: u64(4)},
		},
		Metrics: model.Metrics{
			TotalSize:    12,
			UsefulSize:   5,
			PaddingBytes: 7,
			Holes: []model.PaddingHole{
				{Offset: 1, Size: 3, AfterMember: "a"},
				{Offset: 8, Size: 4, AfterMember: "b"},
			},
		},
	}
}

func TestRenderJSON_ByteStableAcrossRuns(t *testing.T) {
	out := InspectOutput{SchemaVersion: SchemaVersion, Records: []model.RecordLayout{sampleRecord()}}

	var buf1, buf2 bytes.Buffer
	require.NoError(t, RenderJSON(&buf1, out))
	require.NoError(t, RenderJSON(&buf2, out))
	require.Equal(t, buf1.Bytes(), buf2.Bytes())
	require.Contains(t, buf1.String(), `"schema_version": "1"`)
}

func TestRenderJSON_EnvelopeCarriesSchemaVersion(t *testing.T) {
	out := CheckOutput{SchemaVersion: SchemaVersion, Violations: nil}
	var buf bytes.Buffer
	require.NoError(t, RenderJSON(&buf, out))
	require.Contains(t, buf.String(), `"schema_version": "1"`)
}

func TestRenderTable_ShowsHeaderAndPaddingRows(t *testing.T) {
	rec := sampleRecord()
	var buf bytes.Buffer
	RenderTable(&buf, rec, 64)

	out := buf.String()
	require.Contains(t, out, "OFFSET")
	require.Contains(t, out, "FIELD")
	require.Contains(t, out, "<padding after a>")
	require.Contains(t, out, "<padding after b>")
	require.Contains(t, out, "char")
	require.Contains(t, out, "int")
}

func TestRenderTable_MarksCacheLineBoundary(t *testing.T) {
	rec := model.RecordLayout{
		Name: "Wide",
		Size: 65,
		Members: []model.MemberLayout{
			{Name: "x", TypeName: "char", Offset: u64(0), Size: u64(1)},
			{Name: "y", TypeName: "char", Offset: u64(64), Size: u64(1)},
		},
	}
	var buf bytes.Buffer
	RenderTable(&buf, rec, 64)

	out := buf.String()
	require.Equal(t, 2, strings.Count(out, "cache line"))
}

func TestBuildRows_UnknownOffsetRendersQuestionMark(t *testing.T) {
	rec := model.RecordLayout{
		Name: "Partial",
		Members: []model.MemberLayout{
			{Name: "base", TypeName: "Base", IsBase: true},
		},
	}
	rows := buildRows(rec, 64)
	require.Len(t, rows, 1)
	require.Equal(t, "?", rows[0][0])
}
