package heap

import "crucible/internal/value"

// RootSet is supplied by the interpreter on every collection: one Value
// slot per live frame register plus whatever ambient roots the caller
// tracks (spec.md 4.1 step 2 — "each stack frame's root set").
type RootSet interface {
	// Slots returns every root slot that must be migrated. Slots are
	// pointers so migration can rewrite them in place.
	Slots() []*value.Value
}

// Collect runs one full semispace collection: swap spaces, migrate roots,
// scan to-space until exhausted, run post-migration fixups, clear dead
// weak trackers, and run self-destruct finalizers (spec.md 4.1 steps 1-7).
func (h *Heap) Collect(frames RootSet) {
	h.Stats.Collections++

	h.fromSpace, h.toSpace = h.toSpace, h.fromSpace
	for i := range h.toSpace {
		h.toSpace[i] = 0
	}
	h.allocOffset = 0
	h.scanOffset = 0

	var migrated []Address

	migrateSlot := func(slot *value.Value) {
		*slot = h.migrateValue(*slot, &migrated)
	}

	for _, slot := range h.roots {
		migrateSlot(slot)
	}
	for _, slot := range h.mutableRoot {
		migrateSlot(slot)
	}
	if frames != nil {
		for _, slot := range frames.Slots() {
			migrateSlot(slot)
		}
	}
	for _, t := range h.trackers.all() {
		if t.AlwaysWeak {
			continue
		}
		migrateSlot(&t.Value)
	}

	// Scan phase: visit every migrated object's value fields (from
	// value_offset to size) and migrate those in turn, growing the
	// migrated list as new objects are discovered (spec.md step 4).
	for i := 0; i < len(migrated); i++ {
		addr := migrated[i]
		behavior := h.behaviorFor(addr)
		size, valueOffset := behavior.Layout(h, addr)
		for off := valueOffset; off+wordSize <= size; off += wordSize {
			fieldAddr := addr + Address(off)
			v := h.ReadValue(fieldAddr)
			nv := h.migrateValue(v, &migrated)
			h.WriteValue(fieldAddr, nv)
		}
	}

	// Post-migration fixups (spec.md step 5), run after the full
	// transitive closure has been copied so a map's migrated keys all
	// have their final hashes available.
	for _, addr := range migrated {
		h.behaviorFor(addr).PostMigrationFixup(h, addr)
	}

	// Weak trackers whose referent did not get strongly migrated are
	// cleared; self-destruct trackers run their finalizer (step 6).
	for _, t := range h.trackers.all() {
		if !t.Value.IsHeapObject() {
			continue
		}
		addr := Address(t.Value.HeapObjectAddress())
		if _, moved := h.forwardOf(addr); moved {
			t.Value = h.migrateValue(t.Value, &migrated)
			continue
		}
		if t.AlwaysWeak {
			t.Value = value.Nothing
		}
		if t.SelfDestruct && t.Finalize != nil {
			t.Finalize()
			h.trackers.Remove(t)
		}
	}

	h.Stats.ObjectsMoved += int64(len(migrated))
	h.Stats.BytesCopied += int64(h.allocOffset)

	// Step 7: the old from-space is simply left for the next swap to
	// overwrite; Go's allocator already reclaimed any C-level storage we
	// never had.
}

// forwardOf is a GC-internal helper that checks the *from*-space header
// (the heap's Header/Forwarded pair operates on whichever slice is
// currently "toSpace" at call time, so during collection we look at
// fromSpace directly via a throwaway Heap view).
func (h *Heap) forwardOf(fromAddr Address) (Address, bool) {
	w := leUint64(h.fromSpace[fromAddr : fromAddr+wordSize])
	if w&forwardedBit == 0 {
		return 0, false
	}
	return Address(w &^ forwardedBit), true
}

func leUint64(b []byte) uint64 {
	var w uint64
	for i := 7; i >= 0; i-- {
		w = w<<8 | uint64(b[i])
	}
	return w
}

// migrateValue moves v if it is a HeapObject, leaving every other domain
// untouched (spec.md invariant: only HeapObject/DerivedObject carry
// addresses that GC must rewrite).
func (h *Heap) migrateValue(v value.Value, migrated *[]Address) value.Value {
	switch v.Domain() {
	case value.DomainHeapObject:
		oldAddr := Address(v.HeapObjectAddress())
		newAddr := h.migrateObject(oldAddr, migrated)
		return value.NewHeapObject(uintptr(newAddr))
	case value.DomainDerivedObject:
		// Derived objects are interior pointers; migrating the host they
		// point into keeps the anchor's host-offset valid (spec.md 4.3).
		anchorAddr := Address(v.DerivedAnchorAddress())
		newAnchor := h.migrateDerivedAnchor(anchorAddr, migrated)
		return value.NewDerivedObject(uintptr(newAnchor))
	default:
		return v
	}
}

// migrateObject copies a from-space object to to-space if not already
// forwarded, installs the forward, and enqueues it for scanning.
func (h *Heap) migrateObject(fromAddr Address, migrated *[]Address) Address {
	if newAddr, ok := h.forwardOf(fromAddr); ok {
		return newAddr
	}

	header := leUint64(h.fromSpace[fromAddr : fromAddr+wordSize])
	id := SpeciesID(header)
	behavior := h.resolver.Resolve(id)

	// Behavior.Layout expects to read from the "current" space; we
	// temporarily treat the from-space bytes as if they were to-space by
	// copying first, then asking Layout against the copy. Size must be
	// computable without following not-yet-migrated pointers, which holds
	// for every family in internal/species (layouts are header-local).
	tmpHeap := &Heap{toSpace: h.fromSpace, resolver: h.resolver}
	size, _ := behavior.Layout(tmpHeap, fromAddr)

	newAddr := Address(h.allocOffset)
	h.allocOffset += align(size)
	copy(h.toSpace[newAddr:int(newAddr)+size], h.fromSpace[fromAddr:int(fromAddr)+size])

	h.setForwardInFromSpace(fromAddr, newAddr)
	*migrated = append(*migrated, newAddr)
	return newAddr
}

func (h *Heap) setForwardInFromSpace(fromAddr, newAddr Address) {
	w := uint64(newAddr) | forwardedBit
	b := h.fromSpace[fromAddr : fromAddr+wordSize]
	for i := 0; i < 8; i++ {
		b[i] = byte(w)
		w >>= 8
	}
}

// migrateDerivedAnchor migrates the host object the anchor lives inside,
// then returns the anchor's new address by re-applying its host offset
// (spec.md 4.3: "the anchor's host-offset allows both the derived pointer
// and the host pointer to be kept in sync when the host is copied").
func (h *Heap) migrateDerivedAnchor(anchorAddr Address, migrated *[]Address) Address {
	w := leUint64(h.fromSpace[anchorAddr : anchorAddr+wordSize])
	anchorValue := value.FromRaw(w)
	if !anchorValue.IsDerivedObjectAnchor() {
		// Anchor already migrated (rare re-entrant case); trust the word.
		return anchorAddr
	}
	hostOffset := anchorValue.AnchorHostOffset()
	hostAddr := anchorAddr - Address(hostOffset)
	newHostAddr := h.migrateObject(hostAddr, migrated)
	return newHostAddr + Address(hostOffset)
}
