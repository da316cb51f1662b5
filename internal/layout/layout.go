// Package layout turns a record's member list into the derived Metrics
// used for padding and cache-line analysis: a span-merging sweep over the
// members with known offset and size, padding-hole emission, and
// cache-line density.
package layout

import (
	"sort"

	"github.com/scigolib/structaudit/internal/model"
)

// DefaultCacheLineSize is used when no override is configured.
const DefaultCacheLineSize = 64

// Options configures the analyzer.
type Options struct {
	// CacheLineSize is the target cache-line size in bytes, must be >= 1.
	CacheLineSize uint64
}

// DefaultOptions returns the conventional 64-byte cache-line configuration.
func DefaultOptions() Options {
	return Options{CacheLineSize: DefaultCacheLineSize}
}

type span struct {
	start uint64
	end   uint64 // exclusive
	after string // name of the member that ends this span, for hole naming
}

// Analyze computes Metrics for rec's member list under opts. rec itself is
// not mutated; the caller is responsible for attaching the result.
func Analyze(rec *model.RecordLayout, opts Options) model.Metrics {
	lineSize := opts.CacheLineSize
	if lineSize < 1 {
		lineSize = DefaultCacheLineSize
	}

	spans, spansPartial := collectSpans(rec.Members)
	partial := rec.Partial || spansPartial
	merged := mergeSpans(spans)

	var useful uint64
	var holes []model.PaddingHole

	prevEnd := uint64(0)
	for i, s := range merged {
		if s.start > prevEnd {
			gap := s.start - prevEnd
			if gap > 0 && i > 0 {
				holes = append(holes, model.PaddingHole{
					Offset:      prevEnd,
					Size:        gap,
					AfterMember: merged[i-1].after,
				})
			} else if gap > 0 && i == 0 {
				// leading padding before the first member (e.g. after a
				// base class whose own tail padding was already counted,
				// or a deliberately skipped offset 0) has no preceding
				// member to name; leave unattributed.
				holes = append(holes, model.PaddingHole{Offset: prevEnd, Size: gap})
			}
		}
		useful += s.end - s.start
		prevEnd = s.end
	}

	if rec.Size > prevEnd {
		tail := rec.Size - prevEnd
		afterMember := ""
		if len(merged) > 0 {
			afterMember = merged[len(merged)-1].after
		}
		holes = append(holes, model.PaddingHole{Offset: prevEnd, Size: tail, AfterMember: afterMember})
	}

	paddingBytes := uint64(0)
	if rec.Size >= useful {
		paddingBytes = rec.Size - useful
	}

	var paddingPercent float64
	if rec.Size > 0 {
		paddingPercent = float64(paddingBytes) / float64(rec.Size) * 100
	}

	cacheLines := (rec.Size + lineSize - 1) / lineSize
	if rec.Size == 0 {
		cacheLines = 0
	}

	var density float64
	if cacheLines > 0 {
		density = float64(useful) / float64(cacheLines*lineSize) * 100
	}

	if partial {
		holes = nil
	}

	return model.Metrics{
		TotalSize:         rec.Size,
		UsefulSize:        useful,
		PaddingBytes:      paddingBytes,
		PaddingPercent:    clampPercent(paddingPercent),
		CacheLinesSpanned: cacheLines,
		CacheLineDensity:  clampPercent(density),
		Holes:             holes,
		Partial:           partial,
	}
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// collectSpans gathers [offset, offset+size) spans for every member with
// both values known. Members with an unknown offset or size are dropped
// from the span set and mark the record partial, per the merged-span rule
// that only concrete spans participate.
func collectSpans(members []model.MemberLayout) ([]span, bool) {
	var spans []span
	partial := false

	for i := range members {
		m := &members[i]
		if !m.HasKnownSpan() {
			partial = true
			continue
		}
		if *m.Size == 0 {
			continue // zero-size members contribute no span
		}
		spans = append(spans, span{start: *m.Offset, end: *m.Offset + *m.Size, after: m.Name})
	}

	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].start < spans[j].start
	})

	return spans, partial
}

// mergeSpans sweeps the sorted spans left to right, merging any overlapping
// or abutting pair into one; the merged span keeps the "after" name of
// whichever input span extends furthest right.
func mergeSpans(spans []span) []span {
	if len(spans) == 0 {
		return nil
	}

	merged := []span{spans[0]}
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
				last.after = s.after
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}
