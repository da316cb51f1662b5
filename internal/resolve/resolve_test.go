package resolve

import (
	"debug/dwarf"
	"testing"

	"github.com/stretchr/testify/require"
)

func charType(name string, size int64) *dwarf.CharType {
	return &dwarf.CharType{BasicType: dwarf.BasicType{
		CommonType: dwarf.CommonType{ByteSize: size, Name: name},
	}}
}

func TestResolveType_BaseType(t *testing.T) {
	r := New(nil)
	got := r.resolveType(charType("char", 1), 0)
	require.NotNil(t, got.Size)
	require.Equal(t, uint64(1), *got.Size)
}

func TestResolveType_Typedef(t *testing.T) {
	r := New(nil)
	inner := charType("unsigned char", 1)
	td := &dwarf.TypedefType{
		CommonType: dwarf.CommonType{Name: "uint8_t"},
		Type:       inner,
	}

	got := r.resolveType(td, 0)
	require.Equal(t, "unsigned char", got.Name)
	require.NotNil(t, got.Size)
	require.Equal(t, uint64(1), *got.Size)
}

func TestResolveType_QualifierStackingOrder(t *testing.T) {
	r := New(nil)
	inner := charType("int", 4)
	volatileT := &dwarf.QualType{
		CommonType: dwarf.CommonType{ByteSize: 4},
		Qual:       "volatile",
		Type:       inner,
	}
	constT := &dwarf.QualType{
		CommonType: dwarf.CommonType{ByteSize: 4},
		Qual:       "const",
		Type:       volatileT,
	}

	got := r.resolveType(constT, 0)
	require.Equal(t, "const volatile int", got.Name)
	require.Equal(t, uint64(4), *got.Size)
}

func TestResolveType_Pointer(t *testing.T) {
	r := New(nil)
	inner := charType("int", 4)
	ptr := &dwarf.PtrType{
		CommonType: dwarf.CommonType{ByteSize: 8},
		Type:       inner,
	}

	got := r.resolveType(ptr, 0)
	require.Equal(t, uint64(8), *got.Size)
	require.Contains(t, got.Name, "int")
}

func TestResolveType_Array(t *testing.T) {
	r := New(nil)
	elem := charType("int", 4)
	arr := &dwarf.ArrayType{
		CommonType:    dwarf.CommonType{ByteSize: 40},
		Type:          elem,
		Count:         10,
		StrideBitSize: 32,
	}

	got := r.resolveType(arr, 0)
	require.NotNil(t, got.Size)
	require.Equal(t, uint64(40), *got.Size)
	require.Contains(t, got.Name, "[10]")
}

func TestResolveType_StructAnonymousUnion(t *testing.T) {
	r := New(nil)
	st := &dwarf.StructType{
		CommonType: dwarf.CommonType{ByteSize: 8},
		Kind:       "union",
	}

	got := r.resolveType(st, 0)
	require.Equal(t, "<anonymous union>", got.Name)
}

func TestResolveType_DepthGuard(t *testing.T) {
	r := New(nil)
	base := charType("int", 4)
	var cur dwarf.Type = base
	for i := 0; i < utilsMaxChainDepthPlusOne(); i++ {
		cur = &dwarf.TypedefType{CommonType: dwarf.CommonType{Name: "wrap"}, Type: cur}
	}

	require.NotPanics(t, func() {
		_ = r.resolveType(cur, 0)
	})
}

func utilsMaxChainDepthPlusOne() int { return 300 }

func TestResolve_CachesByOffset(t *testing.T) {
	r := New(nil)
	r.cache[dwarf.Offset(42)] = Resolved{Name: "cached"}

	got, err := r.Resolve(dwarf.Offset(42))
	require.NoError(t, err)
	require.Equal(t, "cached", got.Name)
}
