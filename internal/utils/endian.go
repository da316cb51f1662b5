package utils

import (
	"encoding/binary"
	"fmt"
)

// ReadUint64 reads a 64-bit value at specified offset.
func ReadUint64(r ReaderAt, offset int64, order binary.ByteOrder) (uint64, error) {
	buf := GetBuffer(8)
	defer ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, offset); err != nil {
		return 0, err
	}
	return order.Uint64(buf), nil
}

// ReadUintN reads a 4- or 8-byte unsigned value at the given offset.
// width must be 4 or 8; the loader uses it for the 8-byte uncompressed-size
// field of "ZLIB"-prefixed sections.
func ReadUintN(r ReaderAt, offset int64, width int, order binary.ByteOrder) (uint64, error) {
	if width != 4 && width != 8 {
		return 0, fmt.Errorf("unsupported pointer width: %d", width)
	}

	buf := GetBuffer(width)
	defer ReleaseBuffer(buf)

	if _, err := r.ReadAt(buf, offset); err != nil {
		return 0, err
	}

	if width == 4 {
		return uint64(order.Uint32(buf)), nil
	}
	return order.Uint64(buf), nil
}

// ReaderAt is a simplified interface for io.ReaderAt.
type ReaderAt interface {
	ReadAt(p []byte, off int64) (n int, err error)
}
