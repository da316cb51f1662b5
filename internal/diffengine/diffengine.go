// Package diffengine compares two already-analyzed record lists (left and
// right binaries, or two revisions of the same binary) and produces a
// deterministic DiffReport: records added, removed, changed, and an
// unchanged count. Records with the same name are paired first by exact
// source location, then by a similarity score; ties are broken
// deterministically so repeated runs over the same two inputs always
// produce byte-identical output.
package diffengine

import (
	"fmt"
	"sort"

	"github.com/scigolib/structaudit/internal/model"
)

// Scoring tunables for similarity pairing. LocationMismatchPenalty is sized
// to dominate any plausible positive score: with a few dozen members, the
// maximum achievable positive score is far below 1000.
const (
	SNameOverlap            = 10
	STypeMatch              = 3
	SSizeMatch              = 2
	SOffsetMatch            = 1
	LocationMismatchPenalty = 1000
)

// Options configures the comparison.
type Options struct {
	// RegressionGating, when set, flags any StructChange whose new size or
	// new padding exceeds the old as Regression: true.
	RegressionGating bool
}

// Diff compares left and right and returns a deterministic report.
func Diff(left, right []model.RecordLayout, opts Options) model.DiffReport {
	leftByName := groupByName(left)
	rightByName := groupByName(right)

	var report model.DiffReport

	for _, name := range unionNamesInOrder(left, right) {
		leftGroup := leftByName[name]
		rightGroup := rightByName[name]

		pairs, unpairedLeft, unpairedRight := pairGroups(leftGroup, rightGroup)

		for _, p := range pairs {
			change, changed := compare(p.left, p.right, opts)
			if changed {
				report.Changed = append(report.Changed, change)
			} else {
				report.UnchangedCount++
			}
		}
		report.Removed = append(report.Removed, unpairedLeft...)
		report.Added = append(report.Added, unpairedRight...)
	}

	return report
}

type pair struct {
	left  model.RecordLayout
	right model.RecordLayout
}

// unionNamesInOrder returns every distinct record name across both sides,
// ordered by first appearance (left list first, then right), so the output
// never depends on Go's randomized map iteration.
func unionNamesInOrder(left, right []model.RecordLayout) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range left {
		if !seen[r.Name] {
			seen[r.Name] = true
			names = append(names, r.Name)
		}
	}
	for _, r := range right {
		if !seen[r.Name] {
			seen[r.Name] = true
			names = append(names, r.Name)
		}
	}
	return names
}

func groupByName(records []model.RecordLayout) map[string][]model.RecordLayout {
	out := make(map[string][]model.RecordLayout)
	for _, r := range records {
		out[r.Name] = append(out[r.Name], r)
	}
	return out
}

// pairGroups matches same-named records across the two sides and returns
// the resulting pairs plus whatever remains unpaired on each side.
func pairGroups(leftGroup, rightGroup []model.RecordLayout) ([]pair, []model.RecordLayout, []model.RecordLayout) {
	if len(leftGroup) == 1 && len(rightGroup) == 1 {
		return []pair{{leftGroup[0], rightGroup[0]}}, nil, nil
	}

	leftUsed := make([]bool, len(leftGroup))
	rightUsed := make([]bool, len(rightGroup))
	var pairs []pair

	// Exact-location pairing first.
	for i := range leftGroup {
		if leftGroup[i].Location == nil {
			continue
		}
		for j := range rightGroup {
			if rightUsed[j] || rightGroup[j].Location == nil {
				continue
			}
			if leftGroup[i].Location.File == rightGroup[j].Location.File && leftGroup[i].Location.Line == rightGroup[j].Location.Line {
				pairs = append(pairs, pair{leftGroup[i], rightGroup[j]})
				leftUsed[i] = true
				rightUsed[j] = true
				break
			}
		}
	}

	// Similarity pairing over whatever remains.
	type candidate struct {
		li, ri     int
		score      int
		oldFP, newFP string
	}
	var candidates []candidate
	for i := range leftGroup {
		if leftUsed[i] {
			continue
		}
		for j := range rightGroup {
			if rightUsed[j] {
				continue
			}
			l, r := leftGroup[i], rightGroup[j]
			candidates = append(candidates, candidate{
				li: i, ri: j,
				score: similarityScore(l, r),
				oldFP: l.Fingerprint(), newFP: r.Fingerprint(),
			})
		}
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].score != candidates[b].score {
			return candidates[a].score > candidates[b].score
		}
		if candidates[a].oldFP != candidates[b].oldFP {
			return candidates[a].oldFP < candidates[b].oldFP
		}
		return candidates[a].newFP < candidates[b].newFP
	})

	for _, c := range candidates {
		if leftUsed[c.li] || rightUsed[c.ri] {
			continue
		}
		pairs = append(pairs, pair{leftGroup[c.li], rightGroup[c.ri]})
		leftUsed[c.li] = true
		rightUsed[c.ri] = true
	}

	var unpairedLeft, unpairedRight []model.RecordLayout
	for i, used := range leftUsed {
		if !used {
			unpairedLeft = append(unpairedLeft, leftGroup[i])
		}
	}
	for j, used := range rightUsed {
		if !used {
			unpairedRight = append(unpairedRight, rightGroup[j])
		}
	}
	return pairs, unpairedLeft, unpairedRight
}

func similarityScore(l, r model.RecordLayout) int {
	leftMembers := make(map[string]model.MemberLayout, len(l.Members))
	for _, m := range l.Members {
		leftMembers[m.Name] = m
	}

	score := 0
	for _, rm := range r.Members {
		lm, ok := leftMembers[rm.Name]
		if !ok {
			continue
		}
		score += SNameOverlap
		if lm.TypeName == rm.TypeName {
			score += STypeMatch
		}
		if equalUint(lm.Size, rm.Size) {
			score += SSizeMatch
		}
		if equalUint(lm.Offset, rm.Offset) {
			score += SOffsetMatch
		}
	}

	if l.Location != nil && r.Location != nil && (l.Location.File != r.Location.File || l.Location.Line != r.Location.Line) {
		score -= LocationMismatchPenalty
	}

	return score
}

func equalUint(a, b *uint64) bool {
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}

// compare produces a StructChange between a matched pair, and reports
// whether any change was found at all (size, padding, or members).
func compare(l, r model.RecordLayout, opts Options) (model.StructChange, bool) {
	sizeDelta := model.SignedDelta(r.Size, l.Size)
	paddingDelta := model.SignedDelta(r.Metrics.PaddingBytes, l.Metrics.PaddingBytes)

	members := diffMembers(l.Members, r.Members)

	changed := l.Size != r.Size || l.Metrics.PaddingBytes != r.Metrics.PaddingBytes || len(members) > 0
	if !changed {
		return model.StructChange{}, false
	}

	regression := opts.RegressionGating && (sizeDelta > 0 || paddingDelta > 0)

	return model.StructChange{
		Name:         l.Name,
		OldSize:      l.Size,
		NewSize:      r.Size,
		SizeDelta:    sizeDelta,
		OldPadding:   l.Metrics.PaddingBytes,
		NewPadding:   r.Metrics.PaddingBytes,
		PaddingDelta: paddingDelta,
		Members:      members,
		Regression:   regression,
	}, true
}

func diffMembers(left, right []model.MemberLayout) []model.MemberChange {
	leftByName := make(map[string]model.MemberLayout, len(left))
	leftOrder := make([]string, 0, len(left))
	for _, m := range left {
		leftByName[m.Name] = m
		leftOrder = append(leftOrder, m.Name)
	}
	rightByName := make(map[string]model.MemberLayout, len(right))
	rightOrder := make([]string, 0, len(right))
	for _, m := range right {
		rightByName[m.Name] = m
		rightOrder = append(rightOrder, m.Name)
	}

	var changes []model.MemberChange

	for _, name := range leftOrder {
		if _, ok := rightByName[name]; !ok {
			changes = append(changes, model.MemberChange{Kind: model.MemberRemoved, Member: name})
		}
	}
	for _, name := range rightOrder {
		if _, ok := leftByName[name]; !ok {
			changes = append(changes, model.MemberChange{Kind: model.MemberAdded, Member: name})
		}
	}
	for _, name := range leftOrder {
		rm, ok := rightByName[name]
		if !ok {
			continue
		}
		lm := leftByName[name]

		if !equalUint(lm.Offset, rm.Offset) && !(lm.Offset == nil && rm.Offset == nil) {
			changes = append(changes, model.MemberChange{
				Kind: model.MemberOffsetChanged, Member: name,
				Details: fmt.Sprintf("%s -> %s", uintOrUnknown(lm.Offset), uintOrUnknown(rm.Offset)),
			})
		}
		if !equalUint(lm.Size, rm.Size) && !(lm.Size == nil && rm.Size == nil) {
			changes = append(changes, model.MemberChange{
				Kind: model.MemberSizeChanged, Member: name,
				Details: fmt.Sprintf("%s -> %s", uintOrUnknown(lm.Size), uintOrUnknown(rm.Size)),
			})
		}
		if lm.TypeName != rm.TypeName {
			changes = append(changes, model.MemberChange{
				Kind: model.MemberTypeChanged, Member: name,
				Details: fmt.Sprintf("%s -> %s", lm.TypeName, rm.TypeName),
			})
		}
	}

	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].Kind != changes[j].Kind {
			return changes[i].Kind < changes[j].Kind
		}
		if changes[i].Member != changes[j].Member {
			return changes[i].Member < changes[j].Member
		}
		return changes[i].Details < changes[j].Details
	})

	return changes
}

func uintOrUnknown(v *uint64) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%d", *v)
}
