package layout

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scigolib/structaudit/internal/model"
)

func u64(v uint64) *uint64 { return &v }

func TestAnalyze_PaddingHoleAndTail(t *testing.T) {
	// struct { char a; /* 3 pad */ int b; } with trailing tail pad to 12.
	rec := &model.RecordLayout{
		Size: 12,
		Members: []model.MemberLayout{
			{Name: "a", Offset: u64(0), Size: u64(1)},
			{Name: "b", Offset: u64(4), Size: u64(4)},
		},
	}

	m := Analyze(rec, DefaultOptions())
	require.Equal(t, uint64(5), m.UsefulSize)
	require.Equal(t, uint64(7), m.PaddingBytes)
	require.False(t, m.Partial)
	require.Len(t, m.Holes, 2)
	require.Equal(t, uint64(1), m.Holes[0].Offset)
	require.Equal(t, uint64(3), m.Holes[0].Size)
	require.Equal(t, "a", m.Holes[0].AfterMember)
	require.Equal(t, uint64(8), m.Holes[1].Offset)
	require.Equal(t, uint64(4), m.Holes[1].Size)
	require.Equal(t, "b", m.Holes[1].AfterMember)

	require.InDelta(t, 100.0*7/12, m.PaddingPercent, 0.001)
}

func TestAnalyze_ConservationInvariant(t *testing.T) {
	rec := &model.RecordLayout{
		Size: 16,
		Members: []model.MemberLayout{
			{Name: "a", Offset: u64(0), Size: u64(8)},
			{Name: "b", Offset: u64(8), Size: u64(8)},
		},
	}
	m := Analyze(rec, DefaultOptions())
	require.Equal(t, m.TotalSize, m.UsefulSize+m.PaddingBytes)
	require.Empty(t, m.Holes)
}

func TestAnalyze_OverlappingSpansMergeOnce(t *testing.T) {
	// A union-like overlap: two members both spanning [0,4).
	rec := &model.RecordLayout{
		Size: 4,
		Members: []model.MemberLayout{
			{Name: "asInt", Offset: u64(0), Size: u64(4)},
			{Name: "asFloat", Offset: u64(0), Size: u64(4)},
		},
	}
	m := Analyze(rec, DefaultOptions())
	require.Equal(t, uint64(4), m.UsefulSize)
	require.Equal(t, uint64(0), m.PaddingBytes)
}

func TestAnalyze_PartialSuppressesHoles(t *testing.T) {
	rec := &model.RecordLayout{
		Size: 16,
		Members: []model.MemberLayout{
			{Name: "a", Offset: u64(0), Size: u64(4)},
			{Name: "virtualBase", IsBase: true, Size: u64(8)}, // unknown offset
		},
	}
	m := Analyze(rec, DefaultOptions())
	require.True(t, m.Partial)
	require.Empty(t, m.Holes)
	require.Equal(t, uint64(4), m.UsefulSize)
}

func TestAnalyze_CacheLineBoundary(t *testing.T) {
	rec := &model.RecordLayout{
		Size: 65,
		Members: []model.MemberLayout{
			{Name: "a", Offset: u64(0), Size: u64(65)},
		},
	}
	m := Analyze(rec, Options{CacheLineSize: 64})
	require.Equal(t, uint64(2), m.CacheLinesSpanned)
	require.InDelta(t, 100.0*65/128, m.CacheLineDensity, 0.001)
}

func TestAnalyze_ZeroSizeMemberContributesNoSpan(t *testing.T) {
	rec := &model.RecordLayout{
		Size: 4,
		Members: []model.MemberLayout{
			{Name: "empty", Offset: u64(0), Size: u64(0)},
			{Name: "a", Offset: u64(0), Size: u64(4)},
		},
	}
	m := Analyze(rec, DefaultOptions())
	require.Equal(t, uint64(4), m.UsefulSize)
}

func TestAnalyze_DefaultsInvalidCacheLineSize(t *testing.T) {
	rec := &model.RecordLayout{Size: 64, Members: []model.MemberLayout{{Name: "a", Offset: u64(0), Size: u64(64)}}}
	m := Analyze(rec, Options{CacheLineSize: 0})
	require.Equal(t, uint64(1), m.CacheLinesSpanned)
}
