// Package resolve follows DWARF type-reference chains — typedefs,
// qualifiers, pointers, and arrays — down to a printable type name and, where
// determinable, a byte size. Each Resolver is scoped to one compilation
// unit and memoizes results by entry offset so a pass over a unit's members
// stays linear in the number of unique reachable types.
package resolve

import (
	"fmt"

	"debug/dwarf"

	"github.com/scigolib/structaudit/internal/utils"
)

// Resolved is the outcome of following a type chain: a printable name and an
// optional byte size (nil when the size could not be determined).
type Resolved struct {
	Name string
	Size *uint64
}

// Resolver resolves type references within a single compilation unit,
// caching by dwarf.Offset so repeated member references to the same type
// (overwhelmingly common for primitive types) do not re-walk the chain.
type Resolver struct {
	data  *dwarf.Data
	cache map[dwarf.Offset]Resolved
}

// New creates a Resolver bound to data. The cache is unordered but its
// iteration order is never observed externally, consistent with the
// ephemeral-cache exception for hash maps.
func New(data *dwarf.Data) *Resolver {
	return &Resolver{
		data:  data,
		cache: make(map[dwarf.Offset]Resolved),
	}
}

// Resolve follows the type chain starting at off and returns its printable
// name and size. off is always looked up; a member with no type attribute
// at all is handled by the caller before Resolve is reached.
func (r *Resolver) Resolve(off dwarf.Offset) (Resolved, error) {
	if cached, ok := r.cache[off]; ok {
		return cached, nil
	}

	t, err := r.data.Type(off)
	if err != nil {
		return Resolved{}, utils.WrapError("resolving type reference", err)
	}

	resolved := r.resolveType(t, 0)
	r.cache[off] = resolved
	return resolved, nil
}

// resolveType walks t's qualifier/typedef/pointer/array chain. depth guards
// against a corrupt or cyclic reference graph; beyond utils.MaxTypeChainDepth
// the chain is abandoned and the current best-effort name is returned.
func (r *Resolver) resolveType(t dwarf.Type, depth int) Resolved {
	if depth > utils.MaxTypeChainDepth {
		return Resolved{Name: safeTypeString(t)}
	}

	switch v := t.(type) {
	case *dwarf.TypedefType:
		if v.Type == nil {
			return Resolved{Name: v.Name}
		}
		inner := r.resolveType(v.Type, depth+1)
		name := inner.Name
		if name == "" {
			name = v.Name
		}
		return Resolved{Name: name, Size: sizeOrNil(v.Type.Size(), inner.Size)}

	case *dwarf.QualType:
		inner := r.resolveType(v.Type, depth+1)
		return Resolved{Name: v.Qual + " " + inner.Name, Size: inner.Size}

	case *dwarf.PtrType:
		// Pointer/reference size is the target pointer size, already baked
		// into dwarf.PtrType.CommonType.ByteSize by the producer; fall back
		// to unknown rather than guessing a width.
		name := "*void"
		if v.Type != nil {
			inner := r.resolveType(v.Type, depth+1)
			name = inner.Name + " *"
		}
		return Resolved{Name: name, Size: nonNegativeSize(v.CommonType.ByteSize)}

	case *dwarf.ArrayType:
		inner := r.resolveType(v.Type, depth+1)
		count := v.Count
		var size *uint64
		if inner.Size != nil && count >= 0 {
			total, err := utils.CalculateArraySize(*inner.Size, uint64(count))
			if err == nil {
				size = &total
			}
		}
		if size == nil {
			size = nonNegativeSize(v.CommonType.ByteSize)
		}
		return Resolved{Name: fmt.Sprintf("%s[%d]", inner.Name, count), Size: size}

	case *dwarf.StructType:
		return Resolved{Name: structTypeName(v), Size: nonNegativeSize(v.CommonType.ByteSize)}

	case *dwarf.VoidType:
		return Resolved{Name: "void"}

	case *dwarf.UnsupportedType:
		// debug/dwarf does not model DW_TAG_atomic_type as a wrapping
		// qualifier the way it does const/volatile/restrict, so the
		// wrapped type reference is unavailable here; atomic decoration
		// degrades to a flat name rather than a qualifier chain.
		if v.Tag == dwarf.TagAtomicType {
			return Resolved{Name: "atomic <unresolved>"}
		}
		return Resolved{Name: safeTypeString(t)}

	case nil:
		return Resolved{Name: "void"}

	default:
		return Resolved{Name: safeTypeString(t), Size: nonNegativeSize(t.Common().ByteSize)}
	}
}

func structTypeName(v *dwarf.StructType) string {
	if v.StructName != "" {
		return v.StructName
	}
	switch v.Kind {
	case "union":
		return "<anonymous union>"
	default:
		return "<anonymous struct>"
	}
}

func sizeOrNil(declared int64, chained *uint64) *uint64 {
	if chained != nil {
		return chained
	}
	return nonNegativeSize(declared)
}

func nonNegativeSize(v int64) *uint64 {
	if v < 0 {
		return nil
	}
	u := uint64(v)
	return &u
}

// safeTypeString guards dwarf.Type.String(), which can panic on malformed
// cyclic or partially-resolved types in the wild; a recovered panic yields a
// generic placeholder rather than aborting the whole pass.
func safeTypeString(t dwarf.Type) (s string) {
	defer func() {
		if recover() != nil {
			s = "<unresolved type>"
		}
	}()
	return t.String()
}
