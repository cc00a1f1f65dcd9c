package object

import (
	"fmt"
	"io"

	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

// FifoBuffer is a fixed-width doubly-linked list over a flat backing array
// with two dummy roots (free/occupied), per spec.md 3.4. Each entry is
// `width` value slots plus two link slots (prev, next), addressed by
// entry index into the backing array.
type fifoBufferBehavior struct {
	common
	M *Model
}

const (
	fifoWidth    = word
	fifoBacking  = word + word
	fifoFreeRoot = word + 2*word
	fifoOccRoot  = word + 3*word
	fifoFields   = word + 4*word
)

// entry layout within the backing array: [prevIndex(int), nextIndex(int),
// value0..valueWidth-1]. entrySlots = 2 + width.

func (fb fifoBufferBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return fifoFields, word }

func (fb fifoBufferBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (fb fifoBufferBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprint(w, "#<fifo>")
}

func (fb fifoBufferBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}

func (fb fifoBufferBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.Mutable }
func (fb fifoBufferBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {}

func entrySlots(width int) int { return 2 + width }

// NewFifoBuffer allocates an empty buffer of the given per-entry width and
// reserved capacity (number of entries the backing array can hold before a
// caller must build a bigger one — this family has no auto-grow in
// spec.md, unlike ArrayBuffer/IdHashMap).
func (m *Model) NewFifoBuffer(width, capacity int) (value.Value, value.Value) {
	slots := entrySlots(width)
	// reserve 2 head entries (index 0 = free root, index 1 = occupied root)
	backing, cond := m.NewArray((capacity + 2) * slots)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	addr, cond := alloc(m.Heap, m.FifoBuffer, fifoFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+fifoWidth, value.NewInteger(int64(width)))
	m.Heap.WriteValue(addr+fifoBacking, backing)
	m.Heap.WriteValue(addr+fifoFreeRoot, value.NewInteger(0))
	m.Heap.WriteValue(addr+fifoOccRoot, value.NewInteger(1))

	m.fifoLink(addr, 0, 0, 0) // free root: empty ring
	m.fifoLink(addr, 1, 1, 1) // occupied root: empty ring
	// Link capacity free entries (indices 2..capacity+1) into the free
	// ring after the free root.
	prev := 0
	for i := 0; i < capacity; i++ {
		idx := i + 2
		m.fifoSetNext(addr, prev, idx)
		m.fifoSetPrev(addr, idx, prev)
		prev = idx
	}
	m.fifoSetNext(addr, prev, 0)
	m.fifoSetPrev(addr, 0, prev)
	return heapValue(addr), value.Value{}
}

func (m *Model) fifoLink(addr heap.Address, idx, prev, next int) {
	m.fifoSetPrev(addr, idx, prev)
	m.fifoSetNext(addr, idx, next)
}

func (m *Model) fifoWidthOf(addr heap.Address) int {
	return int(m.Heap.ReadValue(addr + fifoWidth).IntegerValue())
}

func (m *Model) fifoSlot(addr heap.Address, idx, field int) int {
	return idx*entrySlots(m.fifoWidthOf(addr)) + field
}

func (m *Model) fifoSetPrev(addr heap.Address, idx, prevIdx int) {
	backing := m.Heap.ReadValue(addr + fifoBacking)
	m.ArraySetAt(backing, m.fifoSlot(addr, idx, 0), value.NewInteger(int64(prevIdx)))
}
func (m *Model) fifoSetNext(addr heap.Address, idx, nextIdx int) {
	backing := m.Heap.ReadValue(addr + fifoBacking)
	m.ArraySetAt(backing, m.fifoSlot(addr, idx, 1), value.NewInteger(int64(nextIdx)))
}
func (m *Model) fifoPrev(addr heap.Address, idx int) int {
	backing := m.Heap.ReadValue(addr + fifoBacking)
	return int(m.ArrayAt(backing, m.fifoSlot(addr, idx, 0)).IntegerValue())
}
func (m *Model) fifoNext(addr heap.Address, idx int) int {
	backing := m.Heap.ReadValue(addr + fifoBacking)
	return int(m.ArrayAt(backing, m.fifoSlot(addr, idx, 1)).IntegerValue())
}

func (m *Model) fifoUnlink(addr heap.Address, idx int) {
	p, n := m.fifoPrev(addr, idx), m.fifoNext(addr, idx)
	m.fifoSetNext(addr, p, n)
	m.fifoSetPrev(addr, n, p)
}

func (m *Model) fifoInsertBefore(addr heap.Address, idx, beforeIdx int) {
	p := m.fifoPrev(addr, beforeIdx)
	m.fifoSetNext(addr, p, idx)
	m.fifoSetPrev(addr, idx, p)
	m.fifoSetNext(addr, idx, beforeIdx)
	m.fifoSetPrev(addr, beforeIdx, idx)
}

// Offer stores values (len must equal width) into a free entry and moves it
// to the tail of the occupied ring; returns MapFull-equivalent if no free
// entries remain (spec.md doesn't auto-grow FifoBuffer).
func (m *Model) FifoOffer(v value.Value, values []value.Value) value.Value {
	addr := addrOf(v)
	width := m.fifoWidthOf(addr)
	if len(values) != width {
		return value.NewCondition(value.CauseInvalidInput, uint32(len(values)))
	}
	freeRoot := 0
	idx := m.fifoNext(addr, freeRoot)
	if idx == freeRoot {
		return value.NewCondition(value.CauseOutOfBounds, 0)
	}
	m.fifoUnlink(addr, idx)
	backing := m.Heap.ReadValue(addr + fifoBacking)
	for i, val := range values {
		m.ArraySetAt(backing, m.fifoSlot(addr, idx, 2+i), val)
	}
	m.fifoInsertBefore(addr, idx, 1) // append before occupied root (tail)
	return value.Success
}

// FifoTake removes and returns the oldest entry's values.
func (m *Model) FifoTake(v value.Value) ([]value.Value, value.Value) {
	addr := addrOf(v)
	occRoot := 1
	idx := m.fifoNext(addr, occRoot)
	if idx == occRoot {
		return nil, value.NewCondition(value.CauseNotFound, 0)
	}
	width := m.fifoWidthOf(addr)
	backing := m.Heap.ReadValue(addr + fifoBacking)
	out := make([]value.Value, width)
	for i := 0; i < width; i++ {
		out[i] = m.ArrayAt(backing, m.fifoSlot(addr, idx, 2+i))
	}
	m.fifoUnlink(addr, idx)
	m.fifoInsertBefore(addr, idx, 0) // return to free ring
	return out, value.Value{}
}

// FifoIterate walks occupied entries oldest-first. take, if non-nil, may
// return true to remove the current entry while preserving order of the
// rest ("take-current" per spec.md).
func (m *Model) FifoIterate(v value.Value, visit func(values []value.Value) (takeCurrent bool)) {
	addr := addrOf(v)
	occRoot := 1
	width := m.fifoWidthOf(addr)
	backing := m.Heap.ReadValue(addr + fifoBacking)
	idx := m.fifoNext(addr, occRoot)
	for idx != occRoot {
		next := m.fifoNext(addr, idx)
		values := make([]value.Value, width)
		for i := 0; i < width; i++ {
			values[i] = m.ArrayAt(backing, m.fifoSlot(addr, idx, 2+i))
		}
		if visit(values) {
			m.fifoUnlink(addr, idx)
			m.fifoInsertBefore(addr, idx, 0)
		}
		idx = next
	}
}

var _ species.Behavior = fifoBufferBehavior{}
