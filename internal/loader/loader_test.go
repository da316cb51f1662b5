package loader

import (
	"bytes"
	"compress/zlib"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsELFMagic(t *testing.T) {
	require.True(t, isELFMagic([]byte{0x7f, 'E', 'L', 'F', 0x02}))
	require.False(t, isELFMagic([]byte{0x00, 'E', 'L', 'F'}))
	require.False(t, isELFMagic([]byte{0x7f}))
}

func TestIsPEMagic(t *testing.T) {
	require.True(t, isPEMagic([]byte{'M', 'Z', 0x90, 0x00}))
	require.False(t, isPEMagic([]byte{'Z', 'M'}))
}

func TestIsMachOMagic(t *testing.T) {
	require.True(t, isMachOMagic([]byte{0xfe, 0xed, 0xfa, 0xce}))
	require.True(t, isMachOMagic([]byte{0xce, 0xfa, 0xed, 0xfe}))
	require.True(t, isMachOMagic([]byte{0xfe, 0xed, 0xfa, 0xcf}))
	require.False(t, isMachOMagic([]byte{0x00, 0x00, 0x00, 0x00}))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}

func TestLoad_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestLoad_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(path, []byte("not a real binary at all"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestDecompressSection_ZlibMagicPrefix(t *testing.T) {
	payload := bytes.Repeat([]byte("debug-info-payload"), 64)

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	raw := make([]byte, 0, 12+compressed.Len())
	raw = append(raw, []byte("ZLIB")...)
	sizeBuf := make([]byte, 8)
	putBigEndianUint64(sizeBuf, uint64(len(payload)))
	raw = append(raw, sizeBuf...)
	raw = append(raw, compressed.Bytes()...)

	out, err := decompressSection(raw)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDecompressSection_TooShort(t *testing.T) {
	_, err := decompressSection([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestAlign4(t *testing.T) {
	require.Equal(t, uint32(0), align4(0))
	require.Equal(t, uint32(4), align4(1))
	require.Equal(t, uint32(4), align4(4))
	require.Equal(t, uint32(8), align4(5))
}

func TestResolveDebugPath(t *testing.T) {
	got := ResolveDebugPath("/tmp/build/myapp")
	want := filepath.Join("/tmp/build/myapp.dSYM", "Contents", "Resources", "DWARF", "myapp")
	require.Equal(t, want, got)
}

func TestFormat_String(t *testing.T) {
	require.Equal(t, "ELF", FormatELF.String())
	require.Equal(t, "Mach-O", FormatMachO.String())
	require.Equal(t, "PE-COFF", FormatPE.String())
	require.Equal(t, "unknown", FormatUnknown.String())
}

func TestDWARF_NoContainerLoaded(t *testing.T) {
	lb := &LoadedBinary{format: FormatUnknown}
	_, err := lb.DWARF()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestDebugInfoRaw_SectionNameByFormat(t *testing.T) {
	lb := &LoadedBinary{
		format:       FormatMachO,
		sectionCache: map[string][]byte{"__debug_info": []byte("macho-debug-info")},
	}
	data, err := lb.DebugInfoRaw()
	require.NoError(t, err)
	require.Equal(t, []byte("macho-debug-info"), data)

	lbElf := &LoadedBinary{
		format:       FormatELF,
		sectionCache: map[string][]byte{".debug_info": []byte("elf-debug-info")},
	}
	data, err = lbElf.DebugInfoRaw()
	require.NoError(t, err)
	require.Equal(t, []byte("elf-debug-info"), data)
}

func putBigEndianUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[7-i] = byte(v)
		v >>= 8
	}
}
