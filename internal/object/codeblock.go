package object

import (
	"fmt"
	"io"

	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

// CodeBlock: (bytecode blob, value pool array, high-water stack depth).
type codeBlockBehavior struct {
	common
	M *Model
}

const (
	cbBytecode  = word
	cbValuePool = word + word
	cbHighWater = word + 2*word
	cbFields    = word + 3*word
)

func (cb codeBlockBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return cbFields, word }
func (cb codeBlockBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (cb codeBlockBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprintf(w, "#<code-block depth=%d>", h.ReadValue(addr+cbHighWater).IntegerValue())
}

func (cb codeBlockBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}

func (cb codeBlockBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.DeepFrozen }
func (cb codeBlockBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != mode.DeepFrozen {
		panic("object: CodeBlock is always deep-frozen")
	}
}

// NewCodeBlock allocates a code block from already-encoded bytecode (see
// internal/interp/bytecode.go for the short-array encoding) and a value
// pool array.
func (m *Model) NewCodeBlock(bytecode, valuePool value.Value, highWaterMark int) (value.Value, value.Value) {
	addr, cond := alloc(m.Heap, m.CodeBlock, cbFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+cbBytecode, bytecode)
	m.Heap.WriteValue(addr+cbValuePool, valuePool)
	m.Heap.WriteValue(addr+cbHighWater, value.NewInteger(int64(highWaterMark)))
	return heapValue(addr), value.Value{}
}

func (m *Model) CodeBlockBytecode(v value.Value) value.Value  { return m.Heap.ReadValue(addrOf(v) + cbBytecode) }
func (m *Model) CodeBlockValuePool(v value.Value) value.Value { return m.Heap.ReadValue(addrOf(v) + cbValuePool) }
func (m *Model) CodeBlockHighWaterMark(v value.Value) int {
	return int(m.Heap.ReadValue(addrOf(v) + cbHighWater).IntegerValue())
}

var _ species.Behavior = codeBlockBehavior{}
