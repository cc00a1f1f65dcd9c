package interp

import (
	"crucible/internal/derived"
	"crucible/internal/stack"
)

// BlockEntry pairs a BlockSection with the frame it refracts into.
// derived.RefractionPoint only stores an integer frame-pointer offset
// (original's byte-addressed host-memory scheme, spec.md 4.3) — since Go
// gives the interpreter a real, stable *stack.Frame, keeping it directly
// here makes walking block_depth hops on invocation an ordinary pointer
// chase (see Frame.BlockHome in internal/stack/stack.go) instead of a
// search for the frame pointer's owning Frame struct.
type BlockEntry struct {
	Section *derived.BlockSection
	Home    *stack.Frame
}

// EscapeEntry pairs an EscapeSection with the exact frame CreateEscape ran
// on. derived.EscapeState's Piece/FramePointer/LimitPointer/Flags/PC fully
// describe where to resume, but not which *stack.Frame struct to resume
// with — that frame is never destroyed (Go doesn't reuse the struct the
// way the original reuses byte-addressed frame-pointer slots), so keeping
// the pointer directly lets FireEscapeOrBarrier resume it exactly rather
// than reconstructing a Frame from the snapshot's scalar fields.
type EscapeEntry struct {
	Section *derived.EscapeSection
	Home    *stack.Frame
}

// Registry bridges BlockClosure/EscapeClosure heap objects (opaque Integer
// handles, internal/object/closures.go) to the native Go structs they back.
// It is runtime-owned state, never GC-managed: handles are stable across
// collections, so there is nothing here for the heap to migrate.
//
// Grounded on original_source/src/c/process.c's table of live escape/block
// records indexed by a small integer, which the original keeps so a
// longjmp-style unwind can find its target by id rather than by pointer.
type Registry struct {
	blocks  map[int]*BlockEntry
	escapes map[int]*EscapeEntry
	next    int
}

func NewRegistry() *Registry {
	return &Registry{blocks: make(map[int]*BlockEntry), escapes: make(map[int]*EscapeEntry)}
}

// NewBlockHandle allocates a handle for a block created on home, backed by
// section.
func (r *Registry) NewBlockHandle(section *derived.BlockSection, home *stack.Frame) int {
	r.next++
	r.blocks[r.next] = &BlockEntry{Section: section, Home: home}
	return r.next
}

// NewEscapeHandle allocates a handle for an escape created on home, backed
// by section.
func (r *Registry) NewEscapeHandle(section *derived.EscapeSection, home *stack.Frame) int {
	r.next++
	r.escapes[r.next] = &EscapeEntry{Section: section, Home: home}
	return r.next
}

// Block resolves handle to its entry, or nil once disposed (the owning
// frame's scope exited, clearing the section's BarrierState payload).
func (r *Registry) Block(handle int) *BlockEntry { return r.blocks[handle] }

func (r *Registry) Escape(handle int) *EscapeEntry { return r.escapes[handle] }

// DeleteBlock and DeleteEscape drop a handle once its owning scope exits,
// so a stale handle resolves to nil rather than a section whose frame is
// gone.
func (r *Registry) DeleteBlock(handle int) { delete(r.blocks, handle) }

func (r *Registry) DeleteEscape(handle int) { delete(r.escapes, handle) }
