// Package heap implements the semispace copying collector (spec.md 4.1).
// The arena is a flat byte buffer; every heap object occupies a contiguous
// byte range beginning with an 8-byte header. Scanning and migration defer
// to a FamilyBehavior supplied by internal/species (via SpeciesResolver) so
// that this package never needs to know about concrete value families —
// mirroring the teacher's layering where internal/memory/forensics.go keeps
// process/module introspection independent of the interpreter that uses it.
package heap

import (
	"encoding/binary"
	"fmt"

	"crucible/internal/value"
)

// Address is a byte offset into the heap's current semispace. It is not a
// real process address — the exercise models the arena as a Go slice, so
// "pointers" are offsets that get re-validated against whichever space is
// currently live.
type Address uint64

// wordSize is the width of both the header and every value-domain field.
const wordSize = 8

// SpeciesID identifies a species without requiring the heap package to
// import internal/species (which itself depends on heap.FamilyBehavior).
type SpeciesID uint32

const forwardedBit = uint64(1) << 63

// FamilyBehavior is the per-family dispatch table spec.md 3.2 describes.
// Implemented by internal/species for each concrete family.
type FamilyBehavior interface {
	// Layout returns the object's total size in bytes and the byte offset
	// at which its value-domain fields begin (fields before that offset
	// are raw, non-value bytes the collector must copy but never scan).
	Layout(h *Heap, addr Address) (size int, valueOffset int)
	// PostMigrationFixup runs once, after an object has been copied to
	// to-space and all of its own fields have been migrated. Used by
	// IdHashMap to rehash (spec.md P3).
	PostMigrationFixup(h *Heap, addr Address)
}

// SpeciesResolver maps a SpeciesID to its behavior table. internal/species
// registers itself as the resolver during runtime startup.
type SpeciesResolver interface {
	Resolve(id SpeciesID) FamilyBehavior
}

// Cause aliases value.Cause for error returns that must ride as conditions.
type Cause = value.Cause

// Tracker is a node in the doubly-linked, sentinel-rooted object-tracker
// list (spec.md "Object tracker").
type Tracker struct {
	prev, next  *Tracker
	Value       value.Value
	AlwaysWeak  bool
	SelfDestruct bool
	Finalize    func()
}

// TrackerList is the sentinel-rooted list walked during GC as part of the
// root set.
type TrackerList struct {
	root Tracker
}

func newTrackerList() *TrackerList {
	tl := &TrackerList{}
	tl.root.prev = &tl.root
	tl.root.next = &tl.root
	return tl
}

// Add inserts a new tracker node referencing v.
func (tl *TrackerList) Add(v value.Value, alwaysWeak, selfDestruct bool, finalize func()) *Tracker {
	t := &Tracker{Value: v, AlwaysWeak: alwaysWeak, SelfDestruct: selfDestruct, Finalize: finalize}
	t.next = tl.root.next
	t.prev = &tl.root
	tl.root.next.prev = t
	tl.root.next = t
	return t
}

// Remove unlinks t from the list. Safe to call twice.
func (tl *TrackerList) Remove(t *Tracker) {
	if t.prev == nil {
		return
	}
	t.prev.next = t.next
	t.next.prev = t.prev
	t.prev, t.next = nil, nil
}

func (tl *TrackerList) all() []*Tracker {
	var out []*Tracker
	for n := tl.root.next; n != &tl.root; n = n.next {
		out = append(out, n)
	}
	return out
}

// Config mirrors the "Runtime configuration" fields of spec.md §6 that
// pertain to the heap.
type Config struct {
	SemispaceSizeBytes int
	SystemMemoryLimit  int
	GCFuzzFreq         int
	GCFuzzSeed         int64
}

// Heap is the two-space copying collector.
type Heap struct {
	toSpace, fromSpace []byte
	allocOffset        int
	scanOffset         int

	resolver SpeciesResolver

	trackers *TrackerList

	// roots are migrated at the start of every collection in addition to
	// whatever the caller passes to Collect (stack frames, etc).
	roots       []*value.Value
	mutableRoot []*value.Value

	cfg     Config
	fuzzer  *fuzzer
	zapping bool

	Stats Stats
}

// Stats accumulates GC diagnostics surfaced by the `gc-stats` CLI command
// and internal/rtlog.
type Stats struct {
	Collections  int
	BytesCopied  int64
	ObjectsMoved int64
}

// New allocates a heap with the given semispace size. Each space is
// cfg.SemispaceSizeBytes bytes; total footprint is therefore double that.
func New(cfg Config, resolver SpeciesResolver) *Heap {
	if cfg.SemispaceSizeBytes <= 0 {
		cfg.SemispaceSizeBytes = 1 << 20
	}
	h := &Heap{
		toSpace:   make([]byte, cfg.SemispaceSizeBytes),
		fromSpace: make([]byte, cfg.SemispaceSizeBytes),
		resolver:  resolver,
		trackers:  newTrackerList(),
		cfg:       cfg,
	}
	if cfg.GCFuzzFreq > 0 {
		h.fuzzer = newFuzzer(cfg.GCFuzzFreq, cfg.GCFuzzSeed)
	}
	return h
}

// SetResolver installs the species resolver once species registration is
// complete; kept settable so species init order doesn't have to precede
// heap construction.
func (h *Heap) SetResolver(r SpeciesResolver) { h.resolver = r }

// Trackers exposes the object tracker list for families (HashOracle,
// native stream wrappers) that need weak/self-destructing references.
func (h *Heap) Trackers() *TrackerList { return h.trackers }

// AddRoot registers a pointer to a Value slot that must be migrated on
// every collection (e.g. an ambience's root methodspace handle).
func (h *Heap) AddRoot(slot *value.Value) { h.roots = append(h.roots, slot) }

// AddMutableRoot registers a root that may itself be reassigned between
// collections (e.g. a process's current task pointer).
func (h *Heap) AddMutableRoot(slot *value.Value) { h.mutableRoot = append(h.mutableRoot, slot) }

// TryAlloc bumps the to-space allocation pointer. Returns the new object's
// address, or a HeapExhausted condition (spec.md 4.1).
func (h *Heap) TryAlloc(size int) (Address, value.Value) {
	size = align(size)
	if h.fuzzer != nil && h.fuzzer.shouldFail() {
		return 0, value.NewCondition(value.CauseHeapExhausted, 0)
	}
	if h.allocOffset+size > len(h.toSpace) {
		return 0, value.NewCondition(value.CauseHeapExhausted, uint32(size))
	}
	addr := Address(h.allocOffset)
	h.allocOffset += size
	return addr, value.Value{}
}

func align(size int) int {
	if r := size % wordSize; r != 0 {
		size += wordSize - r
	}
	return size
}

// --- raw field access ------------------------------------------------------

func (h *Heap) bytes() []byte { return h.toSpace }

func (h *Heap) readWord(addr Address) uint64 {
	return binary.LittleEndian.Uint64(h.bytes()[addr : addr+wordSize])
}

func (h *Heap) writeWord(addr Address, w uint64) {
	binary.LittleEndian.PutUint64(h.bytes()[addr:addr+wordSize], w)
}

// Header returns the object's species id. Panics if called on a forwarded
// header; callers must check Forwarded first during GC.
func (h *Heap) Header(addr Address) SpeciesID {
	w := h.readWord(addr)
	if w&forwardedBit != 0 {
		panic("heap: Header on forwarded object")
	}
	return SpeciesID(w)
}

// SetHeader installs addr's species id.
func (h *Heap) SetHeader(addr Address, id SpeciesID) {
	h.writeWord(addr, uint64(id))
}

// Forwarded reports whether addr's header has been replaced by a
// moved-object marker, and if so, the new address.
func (h *Heap) Forwarded(addr Address) (Address, bool) {
	w := h.readWord(addr)
	if w&forwardedBit == 0 {
		return 0, false
	}
	return Address(w &^ forwardedBit), true
}

func (h *Heap) setForward(addr, newAddr Address) {
	h.writeWord(addr, uint64(newAddr)|forwardedBit)
}

// ReadValue reads a tagged value field at addr (word granularity).
func (h *Heap) ReadValue(addr Address) value.Value { return value.FromRaw(h.readWord(addr)) }

// WriteValue writes a tagged value field at addr.
func (h *Heap) WriteValue(addr Address, v value.Value) { h.writeWord(addr, v.Raw()) }

// ReadBytes returns a slice view (not a copy) of raw bytes in [addr, addr+n).
func (h *Heap) ReadBytes(addr Address, n int) []byte { return h.bytes()[addr : addr+Address(n)] }

// WriteBytes copies data into the arena at addr.
func (h *Heap) WriteBytes(addr Address, data []byte) { copy(h.bytes()[addr:], data) }

func (h *Heap) behaviorFor(addr Address) FamilyBehavior {
	id := h.Header(addr)
	b := h.resolver.Resolve(id)
	if b == nil {
		panic(fmt.Sprintf("heap: no behavior registered for species %d", id))
	}
	return b
}
