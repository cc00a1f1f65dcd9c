// Package stack implements the segmented call stack of spec.md 4.2:
// Stack/StackPiece/Frame, the frame header, the piece open/close protocol,
// frame push/pop (including the cross-piece growth path), and the frame
// iterator used for backtraces.
//
// Grounded on original_source/src/c/process.h's frame_t/stack_piece_t
// layout; the growable-backing-array style for a piece's value region is
// grounded on the teacher's internal/vm/vm_stack_manager.go
// (StackManager.grow / Push / Pop).
//
// Simplification from the original: frame headers there are packed into
// the same raw value_t* memory the stack data lives in, because frames
// have nowhere else to live. Here Frame is an ordinary Go struct, so the
// header fields (previous frame pointer, limit, flags, pc, code block,
// argument map) are simply struct fields linked via Caller, instead of
// negative-offset slots computed from a frame pointer. Value slots
// (StackPiece.Slots) still hold only actual stack data.
package stack

import (
	"fmt"

	"crucible/internal/value"
)

// Flag is a frame flag bit (spec.md 4.2's frame_flag_t).
type Flag uint32

const (
	FlagSynthetic Flag = 1 << iota
	FlagStackPieceBottom
	FlagStackPieceEmpty
	FlagStackBottom
	FlagOrganic
	FlagLid
)

func (f Flag) Has(bit Flag) bool { return f&bit != 0 }

const DefaultPieceCapacity = 1024

// StackPiece is a fixed-capacity cell array owning a region of value
// slots, linked to the piece below it (spec.md 4.2).
type StackPiece struct {
	Slots    []value.Value
	Previous *StackPiece

	stackPointer int   // next free slot
	lid          *Frame // non-nil iff the piece is closed
}

func newPiece(capacity int, previous *StackPiece) *StackPiece {
	return &StackPiece{Slots: make([]value.Value, capacity), Previous: previous}
}

// IsClosed reports whether the piece currently carries a lid frame
// (spec.md 4.2: "a piece is closed iff lid_frame_pointer holds an
// integer").
func (p *StackPiece) IsClosed() bool { return p.lid != nil }

// Lid exposes a closed piece's suspended frame without clearing it, for
// read-only walks like GC root collection. Returns nil if the piece is
// currently open.
func (p *StackPiece) Lid() *Frame { return p.lid }

// RestoreTo reopens p at stackPointer, discarding whatever lid frame it
// held. Used only by internal/interp's escape/signal-handler unwind path
// to resume execution at a frame captured earlier by CreateEscape or
// InstallSignalHandler — unlike OpenStackPiece, the stack pointer is the
// captured snapshot, not the lid frame's own FramePointer, since an escape
// restores to the point just after the value it delivers is pushed, not
// to the frame's entry.
func (p *StackPiece) RestoreTo(stackPointer int) {
	p.lid = nil
	p.stackPointer = stackPointer
}

// StackPointer exposes the piece's current stack pointer (next free slot)
// to other packages — internal/derived's StackPointer genus tracks a
// movable offset into a piece and needs to read this without mutating it.
func (p *StackPiece) StackPointer() int { return p.stackPointer }

// Stack is a sequence of StackPieces, newest first, shared by the Task
// that owns it (spec.md 4.2).
type Stack struct {
	Top             *StackPiece
	DefaultCapacity int
}

// NewStack allocates a stack with a single empty bottom piece, closed
// with a synthetic stack_piece_empty/stack_bottom lid so the first
// open_stack_piece call has something to open.
func NewStack(defaultCapacity int) *Stack {
	if defaultCapacity <= 0 {
		defaultCapacity = DefaultPieceCapacity
	}
	bottom := newPiece(defaultCapacity, nil)
	bottom.lid = &Frame{
		Piece:        bottom,
		FramePointer: 0,
		LimitPointer: len(bottom.Slots),
		Flags:        FlagStackPieceEmpty | FlagStackBottom,
	}
	return &Stack{Top: bottom, DefaultCapacity: defaultCapacity}
}

// Frame is a transient record describing the frame currently open on some
// piece (spec.md 4.2). Caller links to the frame below it within the same
// piece; it is nil for a piece's bottom frame (cross into Previous.lid via
// CrossPieceReturn instead).
type Frame struct {
	Piece        *StackPiece
	FramePointer int // index into Piece.Slots where this frame's values begin
	LimitPointer int // one past the last slot this frame may write
	Flags        Flag
	PC           int
	CodeBlock    value.Value
	ArgumentMap  value.Value
	Caller       *Frame

	// BlockHome and Captures serve internal/interp's refraction opcodes
	// (spec.md 4.4's LoadRefracted*/LoadLambdaCapture): BlockHome is the
	// frame a block-body frame refracts into (nil for an ordinary method
	// frame or a lambda-invocation frame), and Captures is the lambda's
	// captured-value array for a lambda-invocation frame (value.Nothing
	// otherwise). Neither participates in the push/pop protocol above;
	// internal/interp sets them when it pushes a block or lambda frame.
	BlockHome *Frame
	Captures  value.Value

	// ArgWidth is the number of incoming argument values sitting just
	// below FramePointer (spec.md 4.4's "evaluated onto the stack by
	// callee order"). LoadArgument/LoadRawArgument index back through it;
	// ArgumentMap's offsets are relative to it.
	ArgWidth int
}

// OpenStackPiece reads piece's lid and clears it, producing the Frame that
// was synthesized when the piece was last closed (spec.md 4.2).
func OpenStackPiece(piece *StackPiece) (*Frame, error) {
	if !piece.IsClosed() {
		return nil, fmt.Errorf("stack: piece is already open")
	}
	frame := piece.lid
	piece.lid = nil
	piece.stackPointer = frame.FramePointer
	return frame, nil
}

// CloseFrame records frame as its piece's lid and marks the piece closed
// (spec.md 4.2).
func CloseFrame(frame *Frame) {
	frame.Piece.lid = frame
}

// TryPushFrame attempts to carve out capacity slots above frame's current
// stack pointer, within the same piece. Returns the new frame and true on
// success; false means the caller must grow onto a new piece (spec.md 4.2
// step 2-3).
func TryPushFrame(frame *Frame, capacity int, flags Flag, codeBlock, argMap value.Value) (*Frame, bool) {
	p := frame.Piece
	newFP := p.stackPointer
	newLimit := newFP + capacity
	if newLimit > len(p.Slots) {
		return nil, false
	}
	p.stackPointer = newFP
	return &Frame{
		Piece:        p,
		FramePointer: newFP,
		LimitPointer: newLimit,
		Flags:        flags,
		CodeBlock:    codeBlock,
		ArgumentMap:  argMap,
		Caller:       frame,
	}, true
}

// PushFrame implements the full spec.md 4.2 push algorithm: try within the
// current piece; on failure, allocate a fresh piece sized to fit, splice
// in a StackPieceBottom preamble frame, transfer the top argWidth values
// from the old piece as the new frame's arguments, close the old piece,
// and retry.
func (s *Stack) PushFrame(cur *Frame, capacity int, flags Flag, codeBlock, argMap value.Value, argWidth int, stackPieceBottomCodeBlock value.Value) (*Frame, error) {
	if nf, ok := TryPushFrame(cur, capacity, flags, codeBlock, argMap); ok {
		return nf, nil
	}
	newCapacity := capacity + argWidth
	if newCapacity < s.DefaultCapacity {
		newCapacity = s.DefaultCapacity
	}
	newPieceObj := newPiece(newCapacity, s.Top)

	sp := cur.Piece.stackPointer
	args := make([]value.Value, argWidth)
	for i := 0; i < argWidth; i++ {
		args[i] = cur.Piece.Slots[sp-argWidth+i]
	}
	copy(newPieceObj.Slots[:argWidth], args)
	newPieceObj.stackPointer = argWidth

	bottomFrame := &Frame{
		Piece:        newPieceObj,
		FramePointer: 0,
		LimitPointer: argWidth,
		Flags:        FlagStackPieceBottom | FlagSynthetic,
		CodeBlock:    stackPieceBottomCodeBlock,
		ArgumentMap:  value.Nothing,
	}

	CloseFrame(cur)
	s.Top = newPieceObj

	nf, ok := TryPushFrame(bottomFrame, capacity, flags, codeBlock, argMap)
	if !ok {
		return nil, fmt.Errorf("stack: fresh piece of size %d still too small for frame of capacity %d", newCapacity, capacity)
	}
	return nf, nil
}

// PopWithinPiece restores the frame below frame within the same piece
// (spec.md 4.2's Pop). Panics if frame has no caller in this piece;
// callers must check FlagStackPieceBottom first and cross pieces via
// CrossPieceReturn instead.
func PopWithinPiece(frame *Frame) *Frame {
	if frame.Caller == nil {
		panic("stack: PopWithinPiece called on a piece-bottom frame")
	}
	frame.Piece.stackPointer = frame.FramePointer
	return frame.Caller
}

// CrossPieceReturn implements the StackPieceBottom opcode: pops the top
// piece off the stack and opens the one below it (spec.md 4.2).
func (s *Stack) CrossPieceReturn() (*Frame, error) {
	if s.Top.Previous == nil {
		return nil, fmt.Errorf("stack: cannot cross-piece-return from the bottom piece")
	}
	s.Top = s.Top.Previous
	return OpenStackPiece(s.Top)
}

// Push stores a value above frame's current stack pointer, reporting
// OutOfBounds if doing so would exceed the frame's limit.
func Push(frame *Frame, v value.Value) value.Value {
	sp := frame.Piece.stackPointer
	if sp >= frame.LimitPointer {
		return value.NewCondition(value.CauseOutOfBounds, 0)
	}
	frame.Piece.Slots[sp] = v
	frame.Piece.stackPointer = sp + 1
	return value.Success
}

// Pop removes and returns the top value on frame, reporting OutOfBounds
// if the frame is already empty.
func Pop(frame *Frame) (value.Value, value.Value) {
	sp := frame.Piece.stackPointer
	if sp <= frame.FramePointer {
		return value.Value{}, value.NewCondition(value.CauseOutOfBounds, 0)
	}
	sp--
	frame.Piece.stackPointer = sp
	return frame.Piece.Slots[sp], value.Value{}
}

// Argument returns the index'th incoming argument of frame, for a frame
// entered with argWidth transferred values sitting just below its frame
// pointer (either ordinary call arguments or the values PushFrame moved
// across a piece boundary).
func Argument(frame *Frame, argWidth, index int) value.Value {
	return frame.Piece.Slots[frame.FramePointer-argWidth+index]
}

// Peek returns the index'th value counting from the top without removing it.
func Peek(frame *Frame, index int) (value.Value, value.Value) {
	sp := frame.Piece.stackPointer
	i := sp - 1 - index
	if i < frame.FramePointer || i >= sp {
		return value.Value{}, value.NewCondition(value.CauseOutOfBounds, 0)
	}
	return frame.Piece.Slots[i], value.Value{}
}

// WalkDown points an iterator frame struct to the next frame down the
// stack (possibly crossing to the previous piece), without mutating any
// piece's live stack pointer. Used by the backtrace iterator.
func WalkDown(frame *Frame) (*Frame, bool) {
	if frame.Flags.Has(FlagStackBottom) {
		return nil, false
	}
	if frame.Flags.Has(FlagStackPieceBottom) {
		prev := frame.Piece.Previous
		if prev == nil || !prev.IsClosed() {
			return nil, false
		}
		return prev.lid, true
	}
	if frame.Caller == nil {
		return nil, false
	}
	return frame.Caller, true
}

// Iterate walks frames from top (the frame currently open on s.Top, as
// captured by openTop) down to the stack bottom, invoking visit for every
// organic frame (spec.md 4.2's frame iterator: "skipping non-organic
// frames").
func Iterate(openTop *Frame, visit func(*Frame) bool) {
	cur := openTop
	for cur != nil {
		if cur.Flags.Has(FlagOrganic) {
			if !visit(cur) {
				return
			}
		}
		next, ok := WalkDown(cur)
		if !ok {
			return
		}
		cur = next
	}
}
