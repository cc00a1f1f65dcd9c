// Package derived implements spec.md 4.3's derived objects: values embedded
// in the storage of a host object, tagged with an anchor describing their
// genus, and (for the scoped genera) linked into a barrier chain that the
// interpreter walks on escape/signal unwind.
//
// Grounded on original_source/src/c/derived.c and derived.h for the genus
// table and the barrier_state/refraction_point/escape_state field groups,
// and process.h's frame_t for the escape-state snapshot fields.
//
// Simplification, in the same vein as internal/species's meta-objects and
// internal/stack's Frame: the original packs a derived object's fields into
// the same raw value_t* memory its host lives in, recovering the host via
// an anchor (genus, host_byte_offset) so GC can keep both pointers in sync
// when the host is copied (see internal/heap/gc.go's migrateDerivedAnchor,
// which still implements that scheme generically for any future
// heap-resident host). Every genus spec.md 4.3 actually calls out here is
// hosted in a Stack/StackPiece/Frame, and those are native Go structs
// outside the GC'd semispace (the same simplification internal/stack
// documents for frame headers) — so there is no byte-addressed host memory
// to anchor into, and nothing for GC to re-synchronize. Each genus is
// therefore a plain Go struct referencing its host directly (a *stack.Frame
// or *stack.StackPiece pointer, safely managed by Go's own GC), rather than
// an anchor-addressed interior pointer. value.Genus (and the anchor
// encoding in internal/value/phyla.go) still exist and are used here purely
// to label which genus a derived object belongs to.
package derived

import (
	"errors"
	"fmt"

	"crucible/internal/stack"
	"crucible/internal/value"
)

// GenusDescriptor mirrors original_source's genus_descriptor_t, minus the
// field-count/offset bookkeeping a byte-packed representation needs.
type GenusDescriptor struct {
	Genus   value.Genus
	Scoped  bool
	Purpose string
}

// Genera enumerates every derived-object genus spec.md 4.3 names, in genus
// order, for introspection (diagnostics, disassembly).
var Genera = [...]GenusDescriptor{
	{value.GenusStackPointer, false, "a movable stack location, updated during GC when its host moves"},
	{value.GenusEscapeSection, true, "state for a with_escape"},
	{value.GenusEnsureSection, true, "state + shard code for an ensure"},
	{value.GenusBlockSection, true, "state for a surface-language block closure"},
	{value.GenusSignalHandlerSection, true, "state for an installed signal handler"},
}

// Scoped is implemented by every scoped derived-object genus: a value that
// participates in the barrier chain (spec.md 4.3).
type Scoped interface {
	Genus() value.Genus
	// OnScopeExit runs the genus's abnormal-exit handler. EnsureSection
	// returns ErrRequiresCodeExecution instead of running anything itself,
	// since that requires executing an arbitrary code block — a step only
	// the interpreter can perform.
	OnScopeExit() error
	barrier() *BarrierState
}

// BarrierState is the two-field prefix every scoped genus embeds: an
// opaque payload (the heap object the section belongs to) and the link to
// the barrier below it in the chain (spec.md 4.3).
type BarrierState struct {
	Payload  value.Value
	Previous Scoped
}

// RefractionPoint is the one-field suffix most scoped genera embed: the
// frame pointer (relative to the owning piece) that LoadRefracted*
// opcodes walk back to (spec.md 4.3, 4.4).
type RefractionPoint struct {
	FramePointer int
}

// NewRefractionPoint captures frame's position within its piece.
func NewRefractionPoint(frame *stack.Frame) RefractionPoint {
	return RefractionPoint{FramePointer: frame.FramePointer}
}

// EscapeState is the full frame snapshot EscapeSection and
// SignalHandlerSection carry, sufficient to restore execution at the point
// the escape/handler was created (spec.md 4.3). Piece records which stack
// piece the snapshot belongs to; the original recomputes this from relative
// offsets since a C stack piece has no stable Go-side identity, but our
// StackPiece is itself a stable, GC-independent Go pointer, so keeping it
// directly is simpler and exact.
type EscapeState struct {
	Piece        *stack.StackPiece
	StackPointer int
	FramePointer int
	LimitPointer int
	Flags        stack.Flag
	PC           int
}

// CaptureEscapeState snapshots frame's current position for later restore.
func CaptureEscapeState(frame *stack.Frame) EscapeState {
	return EscapeState{
		Piece:        frame.Piece,
		StackPointer: frame.Piece.StackPointer(),
		FramePointer: frame.FramePointer,
		LimitPointer: frame.LimitPointer,
		Flags:        frame.Flags,
		PC:           frame.PC,
	}
}

func (e EscapeState) validate() error {
	if e.Piece == nil {
		return errors.New("derived: escape state has no piece")
	}
	if e.FramePointer < 0 || e.LimitPointer < e.FramePointer {
		return fmt.Errorf("derived: escape state has an invalid frame/limit pointer pair (%d, %d)", e.FramePointer, e.LimitPointer)
	}
	return nil
}

// ---- StackPointer (unscoped) -----------------------------------------

// StackPointer tracks a movable offset into a piece's slot array — the one
// unscoped genus (spec.md 4.3's table: "no" under Scoped).
type StackPointer struct {
	Piece *stack.StackPiece
	Index int
}

// NewStackPointer anchors a stack pointer at frame's current top-of-stack.
func NewStackPointer(frame *stack.Frame) *StackPointer {
	return &StackPointer{Piece: frame.Piece, Index: frame.Piece.StackPointer()}
}

func (sp *StackPointer) Genus() value.Genus { return value.GenusStackPointer }

func (sp *StackPointer) Validate() error {
	if sp.Index < 0 {
		return fmt.Errorf("derived: stack pointer has a negative index %d", sp.Index)
	}
	return nil
}

// ---- EscapeSection ------------------------------------------------------

// EscapeSection holds the state for a with_escape block (spec.md 4.3, 4.4's
// CreateEscape). Payload is the heap Escape object it backs.
type EscapeSection struct {
	BarrierState
	EscapeState
}

// NewEscapeSection captures frame's state and links it under escape (the
// heap object CreateEscape also allocates).
func NewEscapeSection(frame *stack.Frame, escape value.Value) *EscapeSection {
	return &EscapeSection{
		BarrierState: BarrierState{Payload: escape},
		EscapeState:  CaptureEscapeState(frame),
	}
}

func (e *EscapeSection) Genus() value.Genus   { return value.GenusEscapeSection }
func (e *EscapeSection) barrier() *BarrierState { return &e.BarrierState }

func (e *EscapeSection) Validate() error { return e.EscapeState.validate() }

// OnScopeExit dissolves the section: the backing Escape object's payload
// link is cleared so a later call through it reports it as disposed. The
// caller (internal/interp, once built) is responsible for also updating
// the Escape heap object's own "section" field to Nothing — this only
// clears the derived object's side of that link.
func (e *EscapeSection) OnScopeExit() error {
	e.Payload = value.Nothing
	return nil
}

// ---- EnsureSection --------------------------------------------------------

// EnsureSection holds the state + code block for an ensure clause (spec.md
// 4.3, 4.4's CreateEnsurer/CallEnsurer).
type EnsureSection struct {
	BarrierState
	RefractionPoint
}

// NewEnsureSection registers codeBlock as the ensurer to run on scope exit.
func NewEnsureSection(frame *stack.Frame, codeBlock value.Value) *EnsureSection {
	return &EnsureSection{
		BarrierState:    BarrierState{Payload: codeBlock},
		RefractionPoint: NewRefractionPoint(frame),
	}
}

func (e *EnsureSection) Genus() value.Genus   { return value.GenusEnsureSection }
func (e *EnsureSection) barrier() *BarrierState { return &e.BarrierState }

func (e *EnsureSection) Validate() error {
	if e.FramePointer < 0 {
		return fmt.Errorf("derived: ensure section has a negative frame pointer %d", e.FramePointer)
	}
	return nil
}

// ErrRequiresCodeExecution is what EnsureSection.OnScopeExit returns: the
// original marks this UNREACHABLE, since firing an ensurer means running
// its code block, which only the interpreter's opcode loop can do. Callers
// driving Chain.FireUntil must special-case GenusEnsureSection themselves
// (run the code block via CallEnsurer's machinery) rather than treating
// this like any other barrier's OnScopeExit.
var ErrRequiresCodeExecution = errors.New("derived: ensure section scope-exit requires running its code block")

func (e *EnsureSection) OnScopeExit() error { return ErrRequiresCodeExecution }

// ---- BlockSection ---------------------------------------------------------

// BlockSection holds the state for a surface-language block closure
// (spec.md 4.3, 4.4's CreateBlock).
type BlockSection struct {
	BarrierState
	RefractionPoint
}

// NewBlockSection registers block (the tiny heap object CreateBlock also
// allocates) as the section's payload.
func NewBlockSection(frame *stack.Frame, block value.Value) *BlockSection {
	return &BlockSection{
		BarrierState:    BarrierState{Payload: block},
		RefractionPoint: NewRefractionPoint(frame),
	}
}

func (b *BlockSection) Genus() value.Genus   { return value.GenusBlockSection }
func (b *BlockSection) barrier() *BarrierState { return &b.BarrierState }

func (b *BlockSection) Validate() error {
	if b.FramePointer < 0 {
		return fmt.Errorf("derived: block section has a negative frame pointer %d", b.FramePointer)
	}
	return nil
}

// OnScopeExit clears the block's payload link, mirroring on_block_section_exit.
func (b *BlockSection) OnScopeExit() error {
	b.Payload = value.Nothing
	return nil
}

// ---- SignalHandlerSection -------------------------------------------------

// SignalHandlerSection holds the state for an installed signal handler
// (spec.md 4.3, 4.4's InstallSignalHandler).
type SignalHandlerSection struct {
	BarrierState
	EscapeState
	RefractionPoint
}

// NewSignalHandlerSection registers methodspace (the handler's method
// lookup space) as the section's payload and snapshots frame for both the
// escape-state restore and the refraction point.
func NewSignalHandlerSection(frame *stack.Frame, methodspace value.Value) *SignalHandlerSection {
	return &SignalHandlerSection{
		BarrierState:    BarrierState{Payload: methodspace},
		EscapeState:     CaptureEscapeState(frame),
		RefractionPoint: NewRefractionPoint(frame),
	}
}

func (s *SignalHandlerSection) Genus() value.Genus   { return value.GenusSignalHandlerSection }
func (s *SignalHandlerSection) barrier() *BarrierState { return &s.BarrierState }

func (s *SignalHandlerSection) Validate() error {
	if err := s.EscapeState.validate(); err != nil {
		return err
	}
	if s.RefractionPoint.FramePointer < 0 {
		return fmt.Errorf("derived: signal handler section has a negative frame pointer %d", s.RefractionPoint.FramePointer)
	}
	return nil
}

// OnScopeExit has nothing to do, mirroring on_signal_handler_section_exit.
func (s *SignalHandlerSection) OnScopeExit() error { return nil }

// ---- Barrier chain --------------------------------------------------------

// Chain is the stack-wide linked list of scoped derived objects, rooted at
// top_barrier (spec.md 4.3).
type Chain struct {
	Top Scoped
}

// Push registers s as the new innermost barrier.
func (c *Chain) Push(s Scoped) {
	s.barrier().Previous = c.Top
	c.Top = s
}

// Unregister unhooks s, which must currently be the chain's top (normal
// scope exit). Returns an error if s isn't topmost, mirroring the
// original's "unregistering non-top barrier" check.
func (c *Chain) Unregister(s Scoped) error {
	if c.Top != s {
		return fmt.Errorf("derived: unregistering non-top barrier (top is %T, want %T)", c.Top, s)
	}
	c.Top = s.barrier().Previous
	s.barrier().Previous = nil
	return nil
}

// Walk visits the chain from the top down to the bottom without unhooking
// anything, stopping early if visit returns false. Used by read-only
// scans like signal-handler lookup (spec.md 4.6.6), which must inspect
// SignalHandlerSection entries without disturbing the chain.
func (c *Chain) Walk(visit func(Scoped) bool) {
	for cur := c.Top; cur != nil; cur = cur.barrier().Previous {
		if !visit(cur) {
			return
		}
	}
}

// FireUntil walks the chain from the top, firing every intervening
// barrier's OnScopeExit via fire, stopping once it reaches dest (which is
// popped but not fired — dest's own restore is the caller's job). Passing
// a nil dest fires every barrier down to the bottom of the chain. Matches
// spec.md P5: barriers fire innermost-first (Bn, …, B1).
func (c *Chain) FireUntil(dest Scoped, fire func(Scoped) error) error {
	cur := c.Top
	for cur != nil && cur != dest {
		prev := cur.barrier().Previous
		if err := fire(cur); err != nil {
			return err
		}
		cur.barrier().Previous = nil
		c.Top = prev
		cur = prev
	}
	if cur != dest {
		return errors.New("derived: destination barrier is not on this chain")
	}
	return nil
}
