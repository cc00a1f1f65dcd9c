package object

import (
	"fmt"
	"io"

	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

// Array layout: header | length(4) | pad(4) | length*word value fields.
type arrayBehavior struct {
	common
	M *Model
}

func (a arrayBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) {
	n := readUint32(h, addr+word)
	return word + 8 + int(n)*word, word + 8
}

func (a arrayBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (a arrayBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	n := int(readUint32(h, addr+word))
	fmt.Fprint(w, "[")
	for i := 0; i < n; i++ {
		if i > 0 {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprint(w, h.ReadValue(addr+word+8+heap.Address(i*word)))
	}
	fmt.Fprint(w, "]")
}

// TransientIdentityHash is structural (length + element hashes) and must
// be cycle-protected (spec.md 3.4 Array). We cap recursion via a visited
// set keyed by address, matching the cycle-guard style of spec.md 3.3's
// deep-frozen validator.
func (a arrayBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	seen := map[heap.Address]bool{}
	return arrayStructuralHash(a.M, addr, seen)
}

func arrayStructuralHash(m *Model, addr heap.Address, seen map[heap.Address]bool) uint64 {
	if seen[addr] {
		return 0x9e3779b97f4a7c15 // cycle guard sentinel, matches spec's "cycle-protected"
	}
	seen[addr] = true
	n := int(readUint32(m.Heap, addr+word))
	hsh := uint64(1469598103934665603) ^ uint64(n)
	for i := 0; i < n; i++ {
		v := m.Heap.ReadValue(addr + word + 8 + heap.Address(i*word))
		hsh = (hsh ^ m.TransientIdentityHash(v, seen)) * 1099511628211
	}
	return hsh & (1<<48 - 1)
}

func (a arrayBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode {
	// Modal root lookup: species header already encodes which sibling
	// this object uses, so the mode is a property of the header's
	// species, not the object's own bytes.
	return a.M.modeFromHeader(h, addr)
}

func (a arrayBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	a.M.setModeFromHeader(h, addr, m, a.M.Array)
}

func (a arrayBehavior) EnsureOwnedValuesFrozen(h *heap.Heap, addr heap.Address) error {
	n := int(readUint32(h, addr+word))
	for i := 0; i < n; i++ {
		if err := a.M.ensureFrozen(h.ReadValue(addr + word + 8 + heap.Address(i*word))); err != nil {
			return err
		}
	}
	return nil
}

// NewArray allocates a fixed-length array, initialized to null.
func (m *Model) NewArray(n int) (value.Value, value.Value) {
	size := word + 8 + n*word
	addr, cond := alloc(m.Heap, m.Array[mode.Fluid], size)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	writeUint32(m.Heap, addr+word, uint32(n))
	for i := 0; i < n; i++ {
		m.Heap.WriteValue(addr+word+8+heap.Address(i*word), value.Null)
	}
	return heapValue(addr), value.Value{}
}

func (m *Model) ArrayLen(v value.Value) int { return int(readUint32(m.Heap, addrOf(v)+word)) }

// ArrayAt is bounds-checked per spec.md 3.4.
func (m *Model) ArrayAt(v value.Value, i int) value.Value {
	n := m.ArrayLen(v)
	if i < 0 || i >= n {
		return value.NewCondition(value.CauseOutOfBounds, uint32(i))
	}
	return m.Heap.ReadValue(addrOf(v) + word + 8 + heap.Address(i*word))
}

func (m *Model) ArraySetAt(v value.Value, i int, elem value.Value) value.Value {
	n := m.ArrayLen(v)
	if i < 0 || i >= n {
		return value.NewCondition(value.CauseOutOfBounds, uint32(i))
	}
	addr := addrOf(v)
	if m.modeFromHeader(m.Heap, addr) == mode.Frozen || m.modeFromHeader(m.Heap, addr) == mode.DeepFrozen {
		return value.NewCondition(value.CauseValidationFailed, 0)
	}
	m.Heap.WriteValue(addr+word+8+heap.Address(i*word), elem)
	return value.Success
}

// ---- ArrayBuffer ------------------------------------------------------

// ArrayBuffer layout: header | count(8 as value int) | capacity(8 as value
// int) | backing(HeapObject -> Array). Doubles capacity on overflow
// (spec.md 3.4).
type arrayBufferBehavior struct {
	common
	M *Model
}

const abCount = word
const abCapacity = word + word
const abBacking = word + 2*word

func (ab arrayBufferBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) {
	return word + 3*word, word
}

func (ab arrayBufferBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (ab arrayBufferBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprintf(w, "#<arraybuffer count=%d>", h.ReadValue(addr+abCount).IntegerValue())
}

func (ab arrayBufferBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr) // identity-keyed, not structural: a growable buffer's structural hash would change under append, breaking P2.
}

func (ab arrayBufferBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode {
	return ab.M.modeFromHeader(h, addr)
}

func (ab arrayBufferBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	ab.M.setModeFromHeader(h, addr, m, ab.M.ArrayBuffer)
}

func (ab arrayBufferBehavior) EnsureOwnedValuesFrozen(h *heap.Heap, addr heap.Address) error {
	backing := h.ReadValue(addr + abBacking)
	count := int(h.ReadValue(addr + abCount).IntegerValue())
	for i := 0; i < count; i++ {
		if err := ab.M.ensureFrozen(ab.M.ArrayAt(backing, i)); err != nil {
			return err
		}
	}
	return nil
}

// NewArrayBuffer allocates an empty growable buffer with the given initial
// backing capacity.
func (m *Model) NewArrayBuffer(initialCapacity int) (value.Value, value.Value) {
	if initialCapacity < 4 {
		initialCapacity = 4
	}
	backing, cond := m.NewArray(initialCapacity)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	addr, cond := alloc(m.Heap, m.ArrayBuffer[mode.Fluid], word+3*word)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+abCount, value.NewInteger(0))
	m.Heap.WriteValue(addr+abCapacity, value.NewInteger(int64(initialCapacity)))
	m.Heap.WriteValue(addr+abBacking, backing)
	return heapValue(addr), value.Value{}
}

func (m *Model) ArrayBufferLen(v value.Value) int {
	return int(m.Heap.ReadValue(addrOf(v) + abCount).IntegerValue())
}

func (m *Model) ArrayBufferAt(v value.Value, i int) value.Value {
	backing := m.Heap.ReadValue(addrOf(v) + abBacking)
	return m.ArrayAt(backing, i)
}

// ArrayBufferPush appends elem, doubling the backing array when full.
func (m *Model) ArrayBufferPush(v value.Value, elem value.Value) value.Value {
	addr := addrOf(v)
	count := int(m.Heap.ReadValue(addr + abCount).IntegerValue())
	capacity := int(m.Heap.ReadValue(addr + abCapacity).IntegerValue())
	backing := m.Heap.ReadValue(addr + abBacking)
	if count >= capacity {
		newCap := capacity * 2
		newBacking, cond := m.NewArray(newCap)
		if cond.IsCondition() {
			return cond
		}
		for i := 0; i < count; i++ {
			m.ArraySetAt(newBacking, i, m.ArrayAt(backing, i))
		}
		backing = newBacking
		capacity = newCap
		m.Heap.WriteValue(addr+abBacking, backing)
		m.Heap.WriteValue(addr+abCapacity, value.NewInteger(int64(capacity)))
	}
	m.ArraySetAt(backing, count, elem)
	m.Heap.WriteValue(addr+abCount, value.NewInteger(int64(count+1)))
	return value.Success
}

var (
	_ species.Behavior = arrayBehavior{}
	_ species.Behavior = arrayBufferBehavior{}
)
