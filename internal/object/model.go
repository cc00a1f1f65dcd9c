// Package object implements the concrete value families of spec.md 3.4:
// Utf8, Blob, Array, ArrayBuffer, IdHashMap, FifoBuffer, Instance,
// CodeBlock, Path, Identifier, ArgumentMapTrie, Key, HashSource/HashOracle,
// and Promise. Each family supplies a species.Behavior and a set of
// constructors/accessors that allocate through internal/heap.
//
// Grounded on the family-specific helper-struct style of
// internal/dataframe/{array,series}.go (typed wrapper around a raw slice
// with explicit accessor methods) and internal/vmregister/stdlib.go's
// array/map builtins, generalized to GC-safe heap layouts per
// original_source/src/c/value.c.
package object

import (
	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

const word = 8

// Model owns the heap, species registry, and every family's Species
// reference. It is the "runtime-owned state" internal/object exposes to
// internal/interp, internal/dispatch and internal/binder.
type Model struct {
	Heap *heap.Heap
	Reg  *species.Registry

	Utf8            *species.Species
	Blob            *species.Species
	Array           [4]*species.Species
	ArrayBuffer     [4]*species.Species
	IdHashMap       [4]*species.Species
	FifoBuffer      *species.Species
	Instance        [4]*species.Species
	CodeBlock       *species.Species
	Path            *species.Species
	Identifier      *species.Species
	ArgumentMapTrie *species.Species
	Key             *species.Species
	HashSource      *species.Species
	HashOracle      [4]*species.Species
	Promise         *species.Species

	Guard       *species.Species
	Parameter   *species.Species
	Signature   *species.Species
	CallTags    *species.Species
	Method      *species.Species
	Methodspace *species.Species

	Lambda        *species.Species
	BlockClosure  *species.Species
	EscapeClosure *species.Species
}

// NewModel wires every family behavior into reg and returns a Model bound
// to h. Called once at runtime startup, before any module binds.
func NewModel(h *heap.Heap, reg *species.Registry) *Model {
	m := &Model{Heap: h, Reg: reg}
	m.Utf8 = reg.Register(species.FamilyUtf8, utf8Behavior{M: m})
	m.Blob = reg.Register(species.FamilyBlob, blobBehavior{M: m})
	m.Array = reg.RegisterModalRoot(species.FamilyArray, arrayBehavior{M: m})
	m.ArrayBuffer = reg.RegisterModalRoot(species.FamilyArrayBuffer, arrayBufferBehavior{M: m})
	m.IdHashMap = reg.RegisterModalRoot(species.FamilyIdHashMap, idHashMapBehavior{M: m})
	m.FifoBuffer = reg.Register(species.FamilyFifoBuffer, fifoBufferBehavior{M: m})
	m.Instance = reg.RegisterModalRoot(species.FamilyInstance, instanceBehavior{M: m})
	m.CodeBlock = reg.Register(species.FamilyCodeBlock, codeBlockBehavior{M: m})
	m.Path = reg.Register(species.FamilyPath, pathBehavior{M: m})
	m.Identifier = reg.Register(species.FamilyIdentifier, identifierBehavior{M: m})
	m.ArgumentMapTrie = reg.Register(species.FamilyArgumentMapTrie, argMapTrieBehavior{M: m})
	m.Key = reg.Register(species.FamilyKey, keyBehavior{M: m})
	m.HashSource = reg.Register(species.FamilyHashSource, hashSourceBehavior{M: m})
	m.HashOracle = reg.RegisterModalRoot(species.FamilyHashOracle, hashOracleBehavior{M: m})
	m.Promise = reg.Register(species.FamilyPromise, promiseBehavior{M: m})
	m.Guard = reg.Register(species.FamilyGuard, guardBehavior{M: m})
	m.Parameter = reg.Register(species.FamilyParameter, parameterBehavior{M: m})
	m.Signature = reg.Register(species.FamilySignature, signatureBehavior{M: m})
	m.CallTags = reg.Register(species.FamilyCallTags, callTagsBehavior{M: m})
	m.Method = reg.Register(species.FamilyMethod, methodBehavior{M: m})
	m.Methodspace = reg.Register(species.FamilyMethodspace, methodspaceBehavior{M: m})
	m.Lambda = reg.Register(species.FamilyLambda, lambdaBehavior{M: m})
	m.BlockClosure = reg.Register(species.FamilyBlockClosure, blockClosureBehavior{M: m})
	m.EscapeClosure = reg.Register(species.FamilyEscapeClosure, escapeClosureBehavior{M: m})
	h.SetResolver(reg)
	return m
}

func align(n int) int {
	if r := n % word; r != 0 {
		n += word - r
	}
	return n
}

func alloc(h *heap.Heap, sp *species.Species, size int) (heap.Address, value.Value) {
	addr, cond := h.TryAlloc(size)
	if cond.IsCondition() {
		return 0, cond
	}
	h.SetHeader(addr, sp.ID)
	return addr, value.Value{}
}

func heapValue(addr heap.Address) value.Value { return value.NewHeapObject(uintptr(addr)) }

func addrOf(v value.Value) heap.Address { return heap.Address(v.HeapObjectAddress()) }

// common provides default no-op implementations of the rarely customized
// Behavior methods so each family file only overrides what it actually
// needs — mirrors the teacher's pattern of small structs with a handful of
// overridden methods (internal/dataframe/series.go).
type common struct{}

func (common) Validate(h *heap.Heap, addr heap.Address) *value.Value { return nil }

func (common) IdentityCompare(h *heap.Heap, a, bAddr heap.Address) bool { return a == bAddr }

func (common) OrderingCompare(h *heap.Heap, a, bAddr heap.Address) value.Relation {
	return value.RelationUnordered
}

func (common) GetPrimaryType(h *heap.Heap, addr heap.Address) *species.Species { return nil }

func (common) EnsureOwnedValuesFrozen(h *heap.Heap, addr heap.Address) error { return nil }

// fixedMode implements GetMode/SetModeUnchecked for families whose mode is
// family-fixed rather than modal (spec.md 3.3).
type fixedMode struct{ mode mode.Mode }

func (f fixedMode) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return f.mode }

func (f fixedMode) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != f.mode {
		panic("object: family-fixed mode cannot be changed")
	}
}
