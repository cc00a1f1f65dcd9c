package object

import (
	"fmt"
	"io"

	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

// Path: (raw_head, raw_tail), both optional; empty path has both nothing.
type pathBehavior struct {
	common
	M *Model
}

const (
	pathHead   = word
	pathTail   = word + word
	pathFields = word + 2*word
)

func (p pathBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return pathFields, word }
func (p pathBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (p pathBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprint(w, p.M.PathString(heapValue(addr)))
}

func (p pathBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	hv := h.ReadValue(addr + pathHead)
	tv := h.ReadValue(addr + pathTail)
	seed := uint64(1469598103934665603)
	if hv.Domain() == value.DomainHeapObject {
		seed ^= p.M.TransientIdentityHash(hv, map[heap.Address]bool{})
	}
	if tv.Domain() == value.DomainHeapObject {
		seed = seed*1099511628211 ^ p.M.TransientIdentityHash(tv, map[heap.Address]bool{})
	}
	return seed & (1<<48 - 1)
}

func (p pathBehavior) IdentityCompare(h *heap.Heap, a, b heap.Address) bool {
	return p.M.PathString(heapValue(a)) == p.M.PathString(heapValue(b))
}

func (p pathBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.DeepFrozen }
func (p pathBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != mode.DeepFrozen {
		panic("object: Path is always deep-frozen")
	}
}

// NewEmptyPath allocates the empty path (both head and tail nothing).
func (m *Model) NewEmptyPath() (value.Value, value.Value) {
	addr, cond := alloc(m.Heap, m.Path, pathFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+pathHead, value.Nothing)
	m.Heap.WriteValue(addr+pathTail, value.Nothing)
	return heapValue(addr), value.Value{}
}

// NewPath prepends head onto an existing tail path.
func (m *Model) NewPath(head value.Value, tail value.Value) (value.Value, value.Value) {
	addr, cond := alloc(m.Heap, m.Path, pathFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+pathHead, head)
	m.Heap.WriteValue(addr+pathTail, tail)
	return heapValue(addr), value.Value{}
}

func (m *Model) PathHead(v value.Value) value.Value { return m.Heap.ReadValue(addrOf(v) + pathHead) }
func (m *Model) PathTail(v value.Value) value.Value { return m.Heap.ReadValue(addrOf(v) + pathTail) }

// PathString renders a path as dotted segments, used for module lookup
// keys and diagnostics.
func (m *Model) PathString(v value.Value) string {
	var segs []string
	for {
		head := m.PathHead(v)
		if head.IsNothing() {
			break
		}
		segs = append(segs, m.Utf8Value(head))
		tail := m.PathTail(v)
		if tail.IsNothing() {
			break
		}
		v = tail
	}
	out := ""
	for i, s := range segs {
		if i > 0 {
			out += "."
		}
		out += s
	}
	return out
}

var _ species.Behavior = pathBehavior{}

// Identifier: (stage-offset, path).
type identifierBehavior struct {
	common
	M *Model
}

const (
	idStage  = word
	idPath   = word + word
	idFields = word + 2*word
)

func (ib identifierBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return idFields, word }
func (ib identifierBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (ib identifierBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	stage := h.ReadValue(addr + idStage).StageOffsetValue()
	path := h.ReadValue(addr + idPath)
	fmt.Fprintf(w, "%s@%d", ib.M.PathString(path), stage)
}

func (ib identifierBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}

func (ib identifierBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.DeepFrozen }
func (ib identifierBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != mode.DeepFrozen {
		panic("object: Identifier is always deep-frozen")
	}
}

func (m *Model) NewIdentifier(stage int32, path value.Value) (value.Value, value.Value) {
	addr, cond := alloc(m.Heap, m.Identifier, idFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+idStage, value.NewStageOffset(stage))
	m.Heap.WriteValue(addr+idPath, path)
	return heapValue(addr), value.Value{}
}

func (m *Model) IdentifierStage(v value.Value) int32 {
	return m.Heap.ReadValue(addrOf(v) + idStage).StageOffsetValue()
}
func (m *Model) IdentifierPath(v value.Value) value.Value { return m.Heap.ReadValue(addrOf(v) + idPath) }

var _ species.Behavior = identifierBehavior{}
