package object

import (
	"fmt"
	"io"

	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

// Lambda, BlockClosure and EscapeClosure are the heap objects
// internal/interp's Lambda/CreateBlock/CreateEscape opcodes allocate
// (spec.md 4.4). A lambda copies its captured values into its own array at
// creation time, so it needs no link back to the frame that made it.
// Blocks and escapes refract live into an enclosing, still-active frame, so
// their heap object instead carries an opaque handle into
// internal/interp's native-side closure registry, which holds the actual
// *derived.BlockSection/*derived.EscapeSection — a Go struct, not a heap
// value, per the simplification internal/derived already documents. The
// handle is a plain Integer field: unlike a value.Value, it needs no fixup
// when GC moves this object, since internal/interp's registry is keyed by
// the handle, never by a heap address.

// Lambda: (methodspace, captured-values array). DeepFrozen-fixed, matching
// Method/Methodspace (construction produces the complete, immutable object;
// there is nothing in spec.md 4.4 describing a partially built lambda).
type lambdaBehavior struct {
	common
	M *Model
}

const (
	lamSpace    = word
	lamCaptures = word + word
	lamFields   = word + 2*word
)

func (lb lambdaBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return lamFields, word }
func (lb lambdaBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (lb lambdaBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprintf(w, "#<lambda>")
}

func (lb lambdaBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}

func (lb lambdaBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.DeepFrozen }
func (lb lambdaBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != mode.DeepFrozen {
		panic("object: Lambda is always deep-frozen")
	}
}

// NewLambda allocates a lambda closing over the already-popped captures
// slice (spec.md 4.4's "Lambda (space, n_captures) pops n_captures values
// and packages them in a lambda").
func (m *Model) NewLambda(space value.Value, captures []value.Value) (value.Value, value.Value) {
	capArr, cond := m.newArrayFromSlice(captures)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	addr, cond := alloc(m.Heap, m.Lambda, lamFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+lamSpace, space)
	m.Heap.WriteValue(addr+lamCaptures, capArr)
	return heapValue(addr), value.Value{}
}

func (m *Model) LambdaSpace(v value.Value) value.Value    { return m.Heap.ReadValue(addrOf(v) + lamSpace) }
func (m *Model) LambdaCaptures(v value.Value) value.Value { return m.Heap.ReadValue(addrOf(v) + lamCaptures) }

var _ species.Behavior = lambdaBehavior{}

// BlockClosure: (methodspace, handle). DeepFrozen-fixed.
type blockClosureBehavior struct {
	common
	M *Model
}

const (
	bcSpace  = word
	bcHandle = word + word
	bcFields = word + 2*word
)

func (bb blockClosureBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return bcFields, word }
func (bb blockClosureBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (bb blockClosureBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprintf(w, "#<block>")
}

func (bb blockClosureBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}

func (bb blockClosureBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.DeepFrozen }
func (bb blockClosureBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != mode.DeepFrozen {
		panic("object: BlockClosure is always deep-frozen")
	}
}

// NewBlockClosure allocates the tiny heap object CreateBlock packages
// alongside its BlockSection (spec.md 4.4), recording handle so
// internal/interp can recover the BlockSection it belongs to.
func (m *Model) NewBlockClosure(space value.Value, handle int) (value.Value, value.Value) {
	addr, cond := alloc(m.Heap, m.BlockClosure, bcFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+bcSpace, space)
	m.Heap.WriteValue(addr+bcHandle, value.NewInteger(int64(handle)))
	return heapValue(addr), value.Value{}
}

func (m *Model) BlockClosureSpace(v value.Value) value.Value { return m.Heap.ReadValue(addrOf(v) + bcSpace) }
func (m *Model) BlockClosureHandle(v value.Value) int {
	return int(m.Heap.ReadValue(addrOf(v) + bcHandle).IntegerValue())
}

var _ species.Behavior = blockClosureBehavior{}

// EscapeClosure: (handle). DeepFrozen-fixed. Unlike BlockClosure it carries
// no methodspace of its own — calling it invokes the escape directly
// (FireEscapeOrBarrier), it is never the subject of a multi-method dispatch.
type escapeClosureBehavior struct {
	common
	M *Model
}

const (
	ecHandle = word
	ecFields = word + word
)

func (eb escapeClosureBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return ecFields, word }
func (eb escapeClosureBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (eb escapeClosureBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprintf(w, "#<escape>")
}

func (eb escapeClosureBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}

func (eb escapeClosureBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.DeepFrozen }
func (eb escapeClosureBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != mode.DeepFrozen {
		panic("object: EscapeClosure is always deep-frozen")
	}
}

// NewEscapeClosure allocates the heap Escape object CreateEscape packages
// alongside its EscapeSection (spec.md 4.4).
func (m *Model) NewEscapeClosure(handle int) (value.Value, value.Value) {
	addr, cond := alloc(m.Heap, m.EscapeClosure, ecFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+ecHandle, value.NewInteger(int64(handle)))
	return heapValue(addr), value.Value{}
}

func (m *Model) EscapeClosureHandle(v value.Value) int {
	return int(m.Heap.ReadValue(addrOf(v) + ecHandle).IntegerValue())
}

var _ species.Behavior = escapeClosureBehavior{}
