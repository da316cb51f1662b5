// Package dbginfo walks the debug-info tree of a loaded binary — compilation
// units, record-type entries, and their member children — and assembles the
// normalized model.RecordLayout catalogue the rest of the audit pipeline
// consumes. It delegates type-name resolution to internal/resolve and
// member-offset evaluation to internal/location, and is the one component
// that must reconcile the DWARF v4-vs-v5+ bitfield encodings and cross-unit
// type references.
package dbginfo

import (
	"debug/dwarf"
	"encoding/binary"
	"fmt"

	"github.com/scigolib/structaudit/internal/location"
	"github.com/scigolib/structaudit/internal/model"
	"github.com/scigolib/structaudit/internal/resolve"
	"github.com/scigolib/structaudit/internal/utils"
)

// Context extracts record layouts from one binary's debug information. It
// is built once per audited binary and carries a running warning count for
// records or members dropped or marked partial along the way.
type Context struct {
	data  *dwarf.Data
	order binary.ByteOrder
	uv    *unitVersions

	warnings int
}

// New builds a Context over data. debugInfoRaw is the raw, already
// decompressed bytes of the .debug_info section, used only to sniff each
// compilation unit's DWARF format version (debug/dwarf does not expose this
// through its public API).
func New(data *dwarf.Data, debugInfoRaw []byte, order binary.ByteOrder) (*Context, error) {
	uv, err := scanUnitVersions(debugInfoRaw, order)
	if err != nil {
		return nil, utils.WrapError("scanning unit versions", err)
	}
	return &Context{data: data, order: order, uv: uv}, nil
}

// Warnings reports how many records or members were dropped or marked
// partial across the most recent Extract call.
func (c *Context) Warnings() int { return c.warnings }

// Extract walks every compilation unit in discovery order and returns the
// catalogue of record layouts, deduplicated by fingerprint. Discovery order
// is preserved as RecordLayout.DiscoveryIndex before dedup so the dedup
// tiebreak and the diff engine's fallback ordering both see the canonical
// order regardless of how this pass was internally scheduled.
func (c *Context) Extract() ([]model.RecordLayout, error) {
	c.warnings = 0
	reader := c.data.Reader()

	var all []model.RecordLayout
	discoveryIndex := 0

	var (
		resolver    *resolve.Resolver
		lineFiles   []*dwarf.LineFile
		cuVersion   int
		cuAvailable bool
	)

	for {
		entry, err := reader.Next()
		if err != nil {
			return all, utils.WrapError("reading debug-info entry", err)
		}
		if entry == nil {
			break
		}

		switch entry.Tag {
		case dwarf.TagCompileUnit:
			resolver = resolve.New(c.data)
			cuVersion = c.uv.versionFor(entry.Offset)
			cuAvailable = true
			lineFiles = nil

			lr, lerr := c.data.LineReader(entry)
			if lerr == nil && lr != nil {
				lineFiles = lr.Files()
			}

		case dwarf.TagStructType, dwarf.TagUnionType, dwarf.TagClassType:
			if !cuAvailable {
				// A record entry outside any compile unit: malformed
				// input, skip it defensively.
				if entry.Children {
					reader.SkipChildren()
				}
				c.warnings++
				continue
			}

			rec, ok := c.buildRecord(reader, entry, resolver, lineFiles, cuVersion, discoveryIndex)
			if ok {
				all = append(all, rec)
				discoveryIndex++
			}

		default:
			if entry.Children {
				reader.SkipChildren()
			}
		}
	}

	return dedup(all), nil
}

// buildRecord extracts name/size/alignment/location for a struct/union/class
// entry and walks its direct children into a member list. It always
// consumes the entry's full child range from reader before returning,
// regardless of whether it decides to keep the record.
func (c *Context) buildRecord(reader *dwarf.Reader, entry *dwarf.Entry, resolver *resolve.Resolver, lineFiles []*dwarf.LineFile, cuVersion int, discoveryIndex int) (model.RecordLayout, bool) {
	name := stringAttr(entry, dwarf.AttrName)
	if name == "" {
		name = model.AnonymousName
	}

	size, sizeOK := uintAttr(entry, dwarf.AttrByteSize)
	alignment, _ := uintAttr(entry, dwarf.AttrAlignment)
	loc := c.resolveLocation(entry, lineFiles)

	members, partial, err := c.walkMembers(reader, resolver, cuVersion)
	if err != nil {
		c.warnings++
	}

	if !sizeOK && len(members) == 0 {
		// Neither identity attribute (size) nor any structural content
		// was recoverable: drop the record per the corruption-handling
		// policy rather than emit a meaningless zero-value entry.
		c.warnings++
		return model.RecordLayout{}, false
	}

	var sizeVal uint64
	if sizeOK {
		sizeVal = size
	} else {
		partial = true
	}

	return model.RecordLayout{
		Name:           name,
		Size:           sizeVal,
		Alignment:      alignment,
		Location:       loc,
		Members:        members,
		DiscoveryIndex: discoveryIndex,
		Partial:        partial,
	}, true
}

// walkMembers consumes entry's direct children (the record entry itself
// must already be positioned at by reader) until the end-of-children null
// entry, producing member and inheritance-edge layouts. Grandchildren of
// any non-member/non-inheritance child are skipped; this tool does not
// currently recurse into nested type declarations.
func (c *Context) walkMembers(reader *dwarf.Reader, resolver *resolve.Resolver, cuVersion int) ([]model.MemberLayout, bool, error) {
	var members []model.MemberLayout
	partial := false
	anonIndex := 0

	for {
		kid, err := reader.Next()
		if err != nil {
			return members, true, err
		}
		if kid == nil || kid.Tag == 0 {
			break
		}

		switch kid.Tag {
		case dwarf.TagMember:
			m, ok, memberPartial := c.buildMember(kid, resolver, cuVersion, &anonIndex)
			if memberPartial {
				partial = true
			}
			if ok {
				members = append(members, m)
			} else {
				c.warnings++
			}

		case dwarf.TagInheritance:
			m, ok := c.buildInheritance(kid, resolver)
			if ok {
				members = append(members, m)
			} else {
				c.warnings++
			}

		default:
			// not a data member; fall through to child-skip below
		}

		if kid.Children {
			reader.SkipChildren()
		}

		if len(members) > utils.MaxRecordMembers {
			return members, true, fmt.Errorf("record exceeds maximum member count")
		}
	}

	return members, partial, nil
}

func (c *Context) buildMember(entry *dwarf.Entry, resolver *resolve.Resolver, cuVersion int, anonIndex *int) (model.MemberLayout, bool, bool) {
	name := stringAttr(entry, dwarf.AttrName)

	typeName, typeSize := c.resolveMemberType(entry, resolver)

	if name == "" {
		name = fmt.Sprintf("<%s@%d>", anonymousKind(typeName), *anonIndex)
		*anonIndex++
	}

	offset, offsetKnown := c.memberOffset(entry)

	size := typeSize
	if size == nil {
		if s, ok := uintAttr(entry, dwarf.AttrByteSize); ok {
			size = &s
		}
	}

	bitOffset, bitSize, bitfieldOK := c.buildBitfield(entry, cuVersion, offset)

	partial := !offsetKnown || size == nil

	m := model.MemberLayout{
		Name:     name,
		TypeName: typeName,
		Size:     size,
	}
	if offsetKnown {
		m.Offset = &offset
	}
	if bitfieldOK {
		m.BitSize = &bitSize
		if bitOffset != nil {
			m.BitOffset = bitOffset
		}
	}

	return m, true, partial
}

func anonymousKind(typeName string) string {
	if typeName == "<anonymous union>" {
		return "anon_union"
	}
	return "anon_struct"
}

func (c *Context) buildInheritance(entry *dwarf.Entry, resolver *resolve.Resolver) (model.MemberLayout, bool) {
	typeName, typeSize := c.resolveMemberType(entry, resolver)
	offset, offsetKnown := c.memberOffset(entry)

	m := model.MemberLayout{
		Name:     fmt.Sprintf("<base: %s>", typeName),
		TypeName: typeName,
		Size:     typeSize,
		IsBase:   true,
	}
	if offsetKnown {
		m.Offset = &offset
	}
	if v, ok := boolAttr(entry, dwarf.AttrVirtuality); ok {
		m.Atomic = &v
	}
	return m, true
}

func (c *Context) resolveMemberType(entry *dwarf.Entry, resolver *resolve.Resolver) (string, *uint64) {
	ref, ok := entry.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return "void", nil
	}
	resolved, err := resolver.Resolve(ref)
	if err != nil {
		c.warnings++
		return "<unresolved>", nil
	}
	return resolved.Name, resolved.Size
}

// memberOffset evaluates a member's DW_AT_data_member_location. An absent
// attribute is treated as offset 0, matching the common compiler convention
// of omitting the attribute for a member that starts at the beginning of
// its enclosing record (always true for union members, often true for the
// first struct member).
func (c *Context) memberOffset(entry *dwarf.Entry) (uint64, bool) {
	v := entry.Val(dwarf.AttrDataMemberLoc)
	switch val := v.(type) {
	case nil:
		return 0, true
	case int64:
		off, err := location.EvaluateConstant(val)
		if err != nil {
			return 0, false
		}
		return off, true
	case []byte:
		off, err := location.EvaluateExpression(val)
		if err != nil {
			return 0, false
		}
		return off, true
	default:
		return 0, false
	}
}

func (c *Context) buildBitfield(entry *dwarf.Entry, cuVersion int, memberByteOffset uint64) (*uint64, uint64, bool) {
	bitSize, ok := uintAttr(entry, dwarf.AttrBitSize)
	if !ok {
		return nil, 0, false
	}

	if dataBitOffset, ok := uintAttr(entry, dwarf.AttrDataBitOffset); ok {
		abs, err := normalizeBitOffset(5, c.order, 0, 0, dataBitOffset, bitSize)
		if err != nil {
			return nil, bitSize, true
		}
		return &abs, bitSize, true
	}

	rawBitOffset, hasRaw := uintAttr(entry, dwarf.AttrBitOffset)
	storageSize, hasStorageSize := uintAttr(entry, dwarf.AttrByteSize)
	if !hasRaw || !hasStorageSize {
		return nil, bitSize, true
	}

	abs, err := normalizeBitOffset(cuVersion, c.order, memberByteOffset, storageSize, rawBitOffset, bitSize)
	if err != nil {
		return nil, bitSize, true
	}
	return &abs, bitSize, true
}

func (c *Context) resolveLocation(entry *dwarf.Entry, lineFiles []*dwarf.LineFile) *model.SourceLocation {
	fileIdx, hasFile := uintAttr(entry, dwarf.AttrDeclFile)
	line, hasLine := uintAttr(entry, dwarf.AttrDeclLine)
	if !hasFile && !hasLine {
		return nil
	}

	fileName := fmt.Sprintf("file#%d", fileIdx)
	if hasFile && lineFiles != nil && int(fileIdx) < len(lineFiles) && lineFiles[fileIdx] != nil {
		fileName = lineFiles[fileIdx].Name
	}

	return &model.SourceLocation{File: fileName, Line: int(line)}
}

func stringAttr(entry *dwarf.Entry, attr dwarf.Attr) string {
	s, _ := entry.Val(attr).(string)
	return s
}

func boolAttr(entry *dwarf.Entry, attr dwarf.Attr) (bool, bool) {
	v := entry.Val(attr)
	if v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// uintAttr reads an integer-class attribute through every encoding DWARF
// permits (fixed-width constant, signed/unsigned LEB128, file-index forms),
// rejecting negative values since offsets and sizes are never negative.
func uintAttr(entry *dwarf.Entry, attr dwarf.Attr) (uint64, bool) {
	v := entry.Val(attr)
	switch val := v.(type) {
	case nil:
		return 0, false
	case int64:
		if val < 0 {
			return 0, false
		}
		return uint64(val), true
	case uint64:
		return val, true
	default:
		return 0, false
	}
}
