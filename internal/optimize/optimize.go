// Package optimize reorders a record's members under a maximum-alignment
// constraint to minimize total size, keeping bitfield groups atomic and
// truthfully reporting anything it could not place.
package optimize

import (
	"fmt"
	"sort"

	"github.com/scigolib/structaudit/internal/model"
	"github.com/scigolib/structaudit/internal/utils"
)

// ErrInvalidMaxAlignment is returned when the caller supplies a non-positive
// max_alignment; the command boundary rejects this before analysis starts.
var ErrInvalidMaxAlignment = fmt.Errorf("max_alignment must be positive")

type unit struct {
	members   []model.MemberLayout // one for a plain member, several for an atomic bitfield group
	alignment uint64
	size      uint64
}

// Optimize reorders rec's members to minimize size under maxAlignment.
func Optimize(rec *model.RecordLayout, maxAlignment uint64) (model.OptimizedLayout, error) {
	if maxAlignment == 0 {
		return model.OptimizedLayout{}, ErrInvalidMaxAlignment
	}

	plain, bitfieldGroups, skipped := classify(rec.Members)

	units := make([]unit, 0, len(plain)+len(bitfieldGroups))
	for _, m := range plain {
		units = append(units, unit{members: []model.MemberLayout{m}, alignment: memberAlignment(m), size: *m.Size})
	}
	for _, g := range bitfieldGroups {
		units = append(units, unit{members: g.members, alignment: memberAlignment(g.members[0]), size: g.size})
	}

	sort.SliceStable(units, func(i, j int) bool {
		if units[i].alignment != units[j].alignment {
			return units[i].alignment > units[j].alignment
		}
		return units[i].size > units[j].size
	})

	var placed []model.MemberLayout
	maxAlignmentUsed := uint64(1)
	cur := uint64(0)

	for _, u := range units {
		effAlign := u.alignment
		if effAlign > maxAlignment {
			effAlign = maxAlignment
		}
		if effAlign == 0 {
			effAlign = 1
		}

		aligned := utils.AlignUp(cur, effAlign)
		if effAlign > maxAlignmentUsed {
			maxAlignmentUsed = effAlign
		}

		for _, m := range u.members {
			placedMember := m
			newOffset := aligned
			placedMember.Offset = &newOffset
			if placedMember.IsBitfield() {
				placedMember.BitOffset = nil
			}
			placed = append(placed, placedMember)
		}
		cur = aligned + u.size
	}

	newSize := utils.AlignUp(cur, maxAlignmentUsed)

	var savings uint64
	if rec.Size > newSize {
		savings = rec.Size - newSize
	}

	return model.OptimizedLayout{
		Original:         rec.Name,
		Members:          placed,
		OriginalSize:     rec.Size,
		NewSize:          newSize,
		Savings:          savings,
		MaxAlignmentUsed: maxAlignmentUsed,
		Skipped:          skipped,
	}, nil
}

type bitfieldGroup struct {
	members []model.MemberLayout
	size    uint64 // storage-unit size
}

// classify separates members into reorderable plain members, atomic
// bitfield groups (every bitfield sharing a byte offset, in order of first
// appearance; members declared between them do not split a group), and a skipped
// list for zero-size members and bitfields whose offset could not be
// determined.
func classify(members []model.MemberLayout) ([]model.MemberLayout, []bitfieldGroup, []model.SkippedMember) {
	var plain []model.MemberLayout
	var skipped []model.SkippedMember
	groupsByOffset := make(map[uint64][]model.MemberLayout)
	var groupOrder []uint64

	for _, m := range members {
		switch {
		case m.IsBitfield():
			if m.Offset == nil {
				skipped = append(skipped, model.SkippedMember{Member: m, Reason: model.SkipBitfieldMissingInfo})
				continue
			}
			if _, ok := groupsByOffset[*m.Offset]; !ok {
				groupOrder = append(groupOrder, *m.Offset)
			}
			groupsByOffset[*m.Offset] = append(groupsByOffset[*m.Offset], m)

		case !m.HasKnownSpan():
			skipped = append(skipped, model.SkippedMember{Member: m, Reason: model.SkipUnknownOffsetOrSize})

		case *m.Size == 0:
			skipped = append(skipped, model.SkippedMember{Member: m, Reason: model.SkipZeroSize})

		default:
			plain = append(plain, m)
		}
	}

	var groups []bitfieldGroup
	for _, off := range groupOrder {
		ms := groupsByOffset[off]
		groups = append(groups, bitfieldGroup{members: ms, size: storageUnitSize(ms)})
	}

	return plain, groups, skipped
}

// storageUnitSize is the byte size of the storage unit a bitfield group
// occupies: the largest declared Size among its members, defaulting to 1.
func storageUnitSize(members []model.MemberLayout) uint64 {
	var max uint64 = 1
	for _, m := range members {
		if m.Size != nil && *m.Size > max {
			max = *m.Size
		}
	}
	return max
}

// memberAlignment approximates a member's natural alignment as its byte
// size, which matches the common case (most base types and pointers are
// naturally aligned to their own size) well enough for a general-purpose
// reordering pass that otherwise has no access to the original compiler's
// ABI-specific alignment rules.
func memberAlignment(m model.MemberLayout) uint64 {
	if m.Size == nil || *m.Size == 0 {
		return 1
	}
	return *m.Size
}
