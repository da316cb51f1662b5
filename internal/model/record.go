// Package model defines the shared in-memory result types produced by the
// audit pipeline and consumed by the diff engine, budget checker, optimizer,
// and output collaborators: RecordLayout, MemberLayout, Metrics, and the
// report types built on top of them.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// AnonymousName is used when a record type's debug-info entry carries no
// name attribute.
const AnonymousName = "<anonymous>"

// SourceLocation is a file+line pair resolved through a compilation unit's
// line-number program. File is a synthetic "file#<index>" tag when the
// index could not be resolved against the line table.
type SourceLocation struct {
	File string
	Line int
}

// String renders the location as "file:line", or "" if unset.
func (l *SourceLocation) String() string {
	if l == nil {
		return ""
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// MemberLayout describes a single field of a record: a regular member, a
// synthetic inheritance edge, or a bitfield.
type MemberLayout struct {
	Name string

	// TypeName is the printable, fully-qualified type name produced by the
	// type resolver (includes qualifier decoration such as "const T").
	TypeName string

	// Offset is the byte offset within the enclosing record, or nil when
	// the location expression required a runtime value.
	Offset *uint64

	// Size is the member's byte size, or nil when undeterminable.
	Size *uint64

	// BitOffset and BitSize are set only for bitfield members. A member is
	// a bitfield iff BitSize is non-nil.
	BitOffset *uint64
	BitSize   *uint64

	// Atomic marks a member (typically an inheritance edge) whose storage
	// is accessed atomically; nil when the debug-info generator did not
	// report this attribute.
	Atomic *bool

	// IsBase marks a synthetic inheritance-edge member, named
	// "<base: T>" per the base class's type name.
	IsBase bool
}

// IsBitfield reports whether this member carries bit-level storage.
func (m *MemberLayout) IsBitfield() bool {
	return m.BitSize != nil
}

// HasKnownSpan reports whether both Offset and Size are known, i.e. this
// member contributes a concrete byte span to padding/cache analysis.
func (m *MemberLayout) HasKnownSpan() bool {
	return m.Offset != nil && m.Size != nil
}

// fingerprint writes a deterministic textual representation of the member
// into sb, used to build the enclosing record's fingerprint.
func (m *MemberLayout) fingerprint(sb *strings.Builder) {
	fmt.Fprintf(sb, "%s|%s|", m.Name, m.TypeName)
	writeOptUint(sb, m.Offset)
	sb.WriteByte('|')
	writeOptUint(sb, m.Size)
	sb.WriteByte('|')
	writeOptUint(sb, m.BitOffset)
	sb.WriteByte('|')
	writeOptUint(sb, m.BitSize)
	sb.WriteByte('|')
	if m.Atomic != nil && *m.Atomic {
		sb.WriteByte('1')
	}
	sb.WriteByte(';')
}

func writeOptUint(sb *strings.Builder, v *uint64) {
	if v == nil {
		sb.WriteByte('-')
		return
	}
	fmt.Fprintf(sb, "%d", *v)
}

// RecordLayout is a single aggregate type (struct, class, or union)
// reconstructed from debug information.
type RecordLayout struct {
	Name       string
	Size       uint64
	Alignment  *uint64
	Location   *SourceLocation
	Members    []MemberLayout
	Metrics    Metrics

	// DiscoveryIndex is the record's position in the single deterministic
	// pass over the binary. Dedup keeps the first record in slice order and
	// the diff engine breaks ties by fingerprint; neither reads this field.
	DiscoveryIndex int

	// Partial mirrors Metrics.Partial for convenience at the record level.
	Partial bool
}

// Fingerprint returns a stable identity string over
// (name, size, alignment, source location, full member list), used to
// detect exact duplicates deterministically. Two records with the same
// fingerprint are considered identical regardless of discovery order.
func (r *RecordLayout) Fingerprint() string {
	var sb strings.Builder
	sb.WriteString(r.Name)
	sb.WriteByte('|')
	fmt.Fprintf(&sb, "%d|", r.Size)
	writeOptUint(&sb, r.Alignment)
	sb.WriteByte('|')
	if r.Location != nil {
		fmt.Fprintf(&sb, "%s:%d", r.Location.File, r.Location.Line)
	}
	sb.WriteByte('|')
	for i := range r.Members {
		r.Members[i].fingerprint(&sb)
	}

	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// PaddingHole is a non-empty byte interval inside a record not covered by
// any member span.
type PaddingHole struct {
	Offset      uint64
	Size        uint64
	AfterMember string
}

// Metrics are the derived, per-record layout statistics computed by the
// layout analyzer.
type Metrics struct {
	TotalSize   uint64
	UsefulSize  uint64
	PaddingBytes uint64

	// PaddingPercent is in [0, 100].
	PaddingPercent float64

	CacheLinesSpanned uint64

	// CacheLineDensity is in [0, 100].
	CacheLineDensity float64

	Holes []PaddingHole

	// Partial is set when at least one member had an unknown offset or
	// size; when set, Holes is always empty (the picture would be
	// misleading) but size-level metrics are still populated.
	Partial bool
}

// SortMembersByOffset returns a copy of members ordered by offset for
// callers that need a canonical presentation order; members sharing an
// offset keep their original order, and members with an unknown offset
// sort last, in original order among themselves.
func SortMembersByOffset(members []MemberLayout) []MemberLayout {
	out := make([]MemberLayout, len(members))
	copy(out, members)

	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := out[i].Offset, out[j].Offset
		switch {
		case oi == nil && oj == nil:
			return false
		case oi == nil:
			return false
		case oj == nil:
			return true
		default:
			return *oi < *oj
		}
	})
	return out
}
