package dbginfo

import (
	"encoding/binary"
	"fmt"

	"debug/dwarf"
)

// unitVersions maps the offset just past a compilation unit's initial
// length field (its version field, which is at or below every DIE offset
// debug/dwarf reports for that unit) to that unit's DWARF format version. debug/dwarf does not expose the version per unit through its
// public API, so this walks the raw .debug_info bytes the same way
// dwarfdump/readelf do: read the unit's initial length, then its version
// halfword, then skip to the next unit using the length just read.
//
// Only the 32-bit DWARF format is supported; a 64-bit-DWARF escape value
// (0xffffffff) in the initial length field causes the remainder of the
// section to be treated as one unit at the version found there, which is a
// safe degradation since single-unit sections are rare in the wild.
type unitVersions struct {
	starts   []uint32 // version-field offset of each unit, ascending
	versions []uint16 // version at the matching index in starts
}

func scanUnitVersions(debugInfo []byte, order binary.ByteOrder) (*unitVersions, error) {
	uv := &unitVersions{}
	off := uint32(0)

	for off < uint32(len(debugInfo)) {
		if off+6 > uint32(len(debugInfo)) {
			break
		}

		unitLength := order.Uint32(debugInfo[off : off+4])
		headerStart := off + 4
		is64 := unitLength == 0xffffffff

		if is64 {
			if headerStart+8+2 > uint32(len(debugInfo)) {
				return uv, fmt.Errorf("truncated 64-bit DWARF unit header at offset %d", off)
			}
			version := order.Uint16(debugInfo[headerStart+8 : headerStart+10])
			firstDIE := headerStart + 8 // version field starts the rest of the header; DIE offset unknowable precisely here
			uv.starts = append(uv.starts, firstDIE)
			uv.versions = append(uv.versions, version)
			break // cannot reliably locate the next unit without full header parsing
		}

		if headerStart+2 > uint32(len(debugInfo)) {
			break
		}
		version := order.Uint16(debugInfo[headerStart : headerStart+2])

		uv.starts = append(uv.starts, headerStart)
		uv.versions = append(uv.versions, version)

		nextOff := headerStart + unitLength
		if nextOff <= off {
			break // guards against a corrupt zero/negative-progress length
		}
		off = nextOff
	}

	return uv, nil
}

// versionFor returns the DWARF version governing the unit containing die,
// given that unit's root dwarf.Offset (the compile_unit entry's own Offset,
// which in debug/dwarf equals the unit's first-DIE offset for 32-bit DWARF).
// Falls back to 4 (the conservative, storage-unit-relative bitfield
// encoding) when the unit cannot be located.
func (uv *unitVersions) versionFor(cuOffset dwarf.Offset) int {
	target := uint32(cuOffset)
	best := -1
	for i, s := range uv.starts {
		if s <= target {
			best = i
		} else {
			break
		}
	}
	if best < 0 {
		return 4
	}
	return int(uv.versions[best])
}
