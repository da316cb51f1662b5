package dbginfo

import "github.com/scigolib/structaudit/internal/model"

// dedup keeps, for each exact-duplicate fingerprint group, only the first
// record by discovery order. Records sharing a name but differing in
// fingerprint (distinct types across translation units) are all retained.
// The incoming slice is already in discovery order; the returned slice
// preserves that order among the survivors.
func dedup(records []model.RecordLayout) []model.RecordLayout {
	seen := make(map[string]bool, len(records))
	out := make([]model.RecordLayout, 0, len(records))

	for _, r := range records {
		fp := r.Fingerprint()
		if seen[fp] {
			continue
		}
		seen[fp] = true
		out = append(out, r)
	}
	return out
}
