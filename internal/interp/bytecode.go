package interp

import (
	"encoding/binary"
	"fmt"

	"crucible/internal/object"
	"crucible/internal/value"
)

// Code is the decoded, directly-executable form of a CodeBlock's bytecode
// and value pool, mirrored into a CodeCache entry so the interpreter loop
// never re-derefs the heap object mid-instruction (spec.md 4.4: "the code
// cache must be refreshed on every frame switch").
type Code struct {
	Shorts    []uint16
	ValuePool []value.Value
}

// Decode unpacks a Blob's little-endian byte pairs into shorts. Grounded
// on the teacher's internal/bytecode's flat byte/word stream, adapted to
// 16-bit instruction words per spec.md 4.4.
func Decode(bytes []byte) []uint16 {
	shorts := make([]uint16, len(bytes)/2)
	for i := range shorts {
		shorts[i] = binary.LittleEndian.Uint16(bytes[i*2:])
	}
	return shorts
}

// Encode packs shorts back into a little-endian byte blob, the inverse of
// Decode, for Builder's output.
func Encode(shorts []uint16) []byte {
	out := make([]byte, len(shorts)*2)
	for i, s := range shorts {
		binary.LittleEndian.PutUint16(out[i*2:], s)
	}
	return out
}

// LoadCode reads a CodeBlock heap object into its directly-executable Code
// form.
func LoadCode(m *object.Model, codeBlock value.Value) *Code {
	blob := m.CodeBlockBytecode(codeBlock)
	pool := m.CodeBlockValuePool(codeBlock)
	n := m.ArrayLen(pool)
	values := make([]value.Value, n)
	for i := 0; i < n; i++ {
		values[i] = m.ArrayAt(pool, i)
	}
	return &Code{Shorts: Decode(m.BlobBytes(blob)), ValuePool: values}
}

// Instruction is one decoded instruction: its opcode and resolved operand
// words (raw for Immediate, value-pool-indexed for PoolRef — see
// FetchOperand).
type Instruction struct {
	Op       Op
	Operands []uint16
	Width    int
}

// Fetch decodes the instruction at pc into ins, without resolving PoolRef
// operands into values (the interpreter loop does that lazily per operand,
// since not every operand is read on every path, e.g. Invoke's fragment
// operand is consumed differently depending on CallTags arity).
func (c *Code) Fetch(pc int) (Instruction, error) {
	if pc < 0 || pc >= len(c.Shorts) {
		return Instruction{}, fmt.Errorf("interp: pc %d out of bounds (code length %d)", pc, len(c.Shorts))
	}
	op := Op(c.Shorts[pc])
	if int(op) >= int(opCount) {
		return Instruction{}, fmt.Errorf("interp: invalid opcode %d at pc %d", op, pc)
	}
	width := op.Width()
	if pc+width > len(c.Shorts) {
		return Instruction{}, fmt.Errorf("interp: truncated instruction %s at pc %d", op, pc)
	}
	operands := c.Shorts[pc+1 : pc+width]
	return Instruction{Op: op, Operands: operands, Width: width}, nil
}

// Immediate reads operand i of ins as a raw signed int16.
func (ins Instruction) Immediate(i int) int32 { return int32(int16(ins.Operands[i])) }

// PoolIndex reads operand i of ins as a value-pool index.
func (ins Instruction) PoolIndex(i int) int { return int(ins.Operands[i]) }

// Value resolves operand i of ins (which must be a PoolRef operand) against
// code's value pool.
func (c *Code) Value(ins Instruction, i int) value.Value {
	return c.ValuePool[ins.PoolIndex(i)]
}

// Builder assembles a Code value short-by-short, for internal/binder and
// for tests that construct code blocks directly rather than through a
// compiler front end. Grounded on the teacher's
// internal/bytecode.Bytecode.Emit-style append builder.
type Builder struct {
	shorts []uint16
	pool   []value.Value
}

func NewBuilder() *Builder { return &Builder{} }

// Emit appends one instruction. len(operands) must match op's declared
// operand count.
func (b *Builder) Emit(op Op, operands ...uint16) *Builder {
	spec := operandSpecs[op]
	if len(operands) != len(spec) {
		panic(fmt.Sprintf("interp: %s expects %d operands, got %d", op, len(spec), len(operands)))
	}
	b.shorts = append(b.shorts, uint16(op))
	b.shorts = append(b.shorts, operands...)
	return b
}

// Pool interns v into the value pool, returning its index for use as a
// PoolRef operand to Emit.
func (b *Builder) Pool(v value.Value) uint16 {
	b.pool = append(b.pool, v)
	return uint16(len(b.pool) - 1)
}

// Here returns the short offset the next Emit call will be placed at, for
// computing Goto/CreateEscape/etc. jump targets.
func (b *Builder) Here() int { return len(b.shorts) }

// Patch overwrites operand i of the instruction at pc (which must already
// have been Emit'd) — used to back-patch forward jumps once their target
// offset is known.
func (b *Builder) Patch(pc, operandIndex int, v uint16) {
	b.shorts[pc+1+operandIndex] = v
}

// Build materializes the assembled bytecode and value pool as a CodeBlock
// heap object, with the given high-water stack mark.
func (b *Builder) Build(m *object.Model, highWaterMark int) (value.Value, value.Value) {
	blob, cond := m.NewBlob(Encode(b.shorts))
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	pool, cond := m.NewArray(len(b.pool))
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	for i, v := range b.pool {
		if c := m.ArraySetAt(pool, i, v); c.IsCondition() {
			return value.Value{}, c
		}
	}
	return m.NewCodeBlock(blob, pool, highWaterMark)
}

// CodeCache mirrors the currently executing frame's {bytecode, value_pool}
// pair as decoded Go slices, avoiding repeated heap indirection through the
// CodeBlock object on every fetch (spec.md 4.4). Refresh must be called
// whenever the interpreter switches to a different frame.
type CodeCache struct {
	codeBlock value.Value
	code      *Code
}

// Refresh reloads the cache if codeBlock differs from what's already
// cached, and returns the (possibly unchanged) decoded Code.
func (cc *CodeCache) Refresh(m *object.Model, codeBlock value.Value) *Code {
	if cc.code == nil || cc.codeBlock != codeBlock {
		cc.codeBlock = codeBlock
		cc.code = LoadCode(m, codeBlock)
	}
	return cc.code
}
