package dbginfo

import (
	"encoding/binary"
	"fmt"

	"github.com/scigolib/structaudit/internal/utils"
)

// normalizeBitOffset computes a member's absolute bit offset (measured from
// the start of the enclosing record) from the two incompatible encodings
// debug generators use across DWARF versions.
//
// DWARF v5 and later report DW_AT_data_bit_offset directly as an absolute
// bit position; no storage-unit arithmetic is needed.
//
// DWARF v4 and earlier report DW_AT_bit_offset relative to a storage unit
// whose size is DW_AT_byte_size and whose byte offset is the member's
// DW_AT_data_member_location. The raw offset counts from the
// most-significant bit of the storage unit, so converting to a
// least-significant-bit-relative position (the convention this tool uses
// uniformly) requires flipping direction on little-endian targets.
func normalizeBitOffset(version int, order binary.ByteOrder, storageByteOffset, storageByteSize, rawBitOffset, bitSize uint64) (uint64, error) {
	if version >= 5 {
		return rawBitOffset, nil
	}

	storageBits, err := utils.SafeMultiply(storageByteSize, 8)
	if err != nil {
		return 0, fmt.Errorf("storage unit size overflow")
	}

	span, err := utils.SafeAdd(rawBitOffset, bitSize)
	if err != nil || span > storageBits {
		return 0, fmt.Errorf("bitfield span exceeds storage unit")
	}

	var actual uint64
	if order == binary.LittleEndian {
		actual = storageBits - rawBitOffset - bitSize
	} else {
		actual = rawBitOffset
	}

	storageBitOffset, err := utils.SafeMultiply(storageByteOffset, 8)
	if err != nil {
		return 0, fmt.Errorf("storage unit byte offset overflow")
	}

	total, err := utils.SafeAdd(storageBitOffset, actual)
	if err != nil {
		return 0, fmt.Errorf("absolute bit offset overflow")
	}
	return total, nil
}
