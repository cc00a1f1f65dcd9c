package object

import (
	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

// behaviorAndSpecies resolves the species.Species (not just its behavior
// table) installed at addr's header.
func (m *Model) speciesAt(addr heap.Address) *species.Species {
	id := m.Heap.Header(addr)
	return m.Reg.SpeciesOf(id)
}

// FamilyOf reports v's concrete family for callers outside this package
// (internal/dispatch's tag-ordering comparator needs to tell a Key tag
// from a Utf8 tag without a full species.Species reference).
func (m *Model) FamilyOf(v value.Value) (species.Family, bool) {
	if v.Domain() != value.DomainHeapObject {
		return 0, false
	}
	sp := m.speciesAt(heap.Address(v.HeapObjectAddress()))
	if sp == nil {
		return 0, false
	}
	return sp.Family, true
}

// PrimaryTypeOf returns the nominal type value.Value an Instance carries
// (spec.md 3.4), closing the GetPrimaryType gap species.Behavior declares:
// non-instance heap objects and every non-heap domain report ok=false,
// since only Instance currently has a nominal type to report.
func (m *Model) PrimaryTypeOf(v value.Value) (value.Value, bool) {
	if v.Domain() != value.DomainHeapObject {
		return value.Value{}, false
	}
	sp := m.speciesAt(heap.Address(v.HeapObjectAddress()))
	if sp == nil || sp.PrimaryType == nil {
		return value.Value{}, false
	}
	return *sp.PrimaryType, true
}

// modeFromHeader reads the mode off the species installed in the object's
// header — the species IS the mode indicator for modal families (spec.md
// 3.3: "Modal families store the mode in their species").
func (m *Model) modeFromHeader(h *heap.Heap, addr heap.Address) mode.Mode {
	sp := m.speciesAt(addr)
	if sp == nil {
		return mode.Fluid
	}
	return sp.Mode
}

// setModeFromHeader re-headers addr to point at the sibling species for
// target mode m, drawn from the family's modal root array.
func (m *Model) setModeFromHeader(h *heap.Heap, addr heap.Address, target mode.Mode, siblings [4]*species.Species) {
	sp := siblings[target]
	h.SetHeader(addr, sp.ID)
}

// TransientIdentityHash dispatches by value domain, matching spec.md P2:
// equal-identity values hash equal before the next GC. seen guards
// against cycles for heap families whose hash is structural.
func (m *Model) TransientIdentityHash(v value.Value, seen map[heap.Address]bool) uint64 {
	switch v.Domain() {
	case value.DomainInteger:
		return uint64(v.IntegerValue()) & (1<<48 - 1)
	case value.DomainCustomTagged:
		return (uint64(v.Phylum())<<48 | v.CustomPayload()) & (1<<56 - 1)
	case value.DomainHeapObject:
		addr := heap.Address(v.HeapObjectAddress())
		sp := m.speciesAt(addr)
		if sp == nil {
			return uint64(addr)
		}
		if arr, ok := sp.Behavior.(arrayBehavior); ok {
			return arrayStructuralHash(arr.M, addr, seen)
		}
		return sp.Behavior.TransientIdentityHash(m.Heap, addr)
	default:
		return v.Raw()
	}
}

// IdentityEqual implements value `=` generalized with family-level
// identity comparison for heap objects whose family defines content
// identity (Utf8, Blob).
func (m *Model) IdentityEqual(a, b value.Value) bool {
	if value.Eq(a, b) {
		return true
	}
	if a.Domain() != b.Domain() || a.Domain() != value.DomainHeapObject {
		return false
	}
	addrA, addrB := heap.Address(a.HeapObjectAddress()), heap.Address(b.HeapObjectAddress())
	spA := m.speciesAt(addrA)
	spB := m.speciesAt(addrB)
	if spA == nil || spB == nil || spA.Family != spB.Family {
		return false
	}
	return spA.Behavior.IdentityCompare(m.Heap, addrA, addrB)
}

// ensureFrozen recursively freezes a value this object owns, per spec.md
// 3.3's EnsureOwnedValuesFrozen contract. Non-heap domains are trivially
// already "frozen" (immutable by construction).
func (m *Model) ensureFrozen(v value.Value) error {
	if v.Domain() != value.DomainHeapObject {
		return nil
	}
	addr := heap.Address(v.HeapObjectAddress())
	sp := m.speciesAt(addr)
	if sp == nil {
		return nil
	}
	if sp.Behavior.GetMode(m.Heap, addr) == mode.Frozen || sp.Behavior.GetMode(m.Heap, addr) == mode.DeepFrozen {
		return nil
	}
	sp.Behavior.SetModeUnchecked(m.Heap, addr, mode.Frozen)
	return sp.Behavior.EnsureOwnedValuesFrozen(m.Heap, addr)
}

// freezeAdapter bridges a concrete object's (Model, address, species) to
// mode.Freezer so internal/mode's monotone-transition protocol can drive it.
type freezeAdapter struct {
	m    *Model
	addr heap.Address
	sp   *species.Species
}

func (f freezeAdapter) Mode() mode.Mode { return f.sp.Behavior.GetMode(f.m.Heap, f.addr) }
func (f freezeAdapter) SetModeUnchecked(m mode.Mode) {
	f.sp.Behavior.SetModeUnchecked(f.m.Heap, f.addr, m)
}
func (f freezeAdapter) EnsureOwnedValuesFrozen() error {
	return f.sp.Behavior.EnsureOwnedValuesFrozen(f.m.Heap, f.addr)
}

// GetMode returns v's current mode (family-fixed families report their
// single fixed mode; non-heap domains report DeepFrozen since they are
// immutable by construction).
func (m *Model) GetMode(v value.Value) mode.Mode {
	if v.Domain() != value.DomainHeapObject {
		return mode.DeepFrozen
	}
	addr := heap.Address(v.HeapObjectAddress())
	sp := m.speciesAt(addr)
	if sp == nil {
		return mode.Fluid
	}
	return sp.Behavior.GetMode(m.Heap, addr)
}

// SetMode drives v through the freeze protocol to target, enforcing the
// monotone fluid-mutable-frozen-deep-frozen ordering (spec.md 3.3).
func (m *Model) SetMode(v value.Value, target mode.Mode) error {
	addr := heap.Address(v.HeapObjectAddress())
	sp := m.speciesAt(addr)
	if sp == nil {
		return nil
	}
	return mode.Freeze(freezeAdapter{m: m, addr: addr, sp: sp}, target)
}

// ValidateDeepFrozen performs the cycle-detecting traversal spec.md 3.3
// calls for, confirming every object reachable from v is deep-frozen.
func (m *Model) ValidateDeepFrozen(v value.Value) bool {
	validator := mode.NewDeepFrozenValidator()
	return m.validateDeepFrozen(v, validator)
}

func (m *Model) validateDeepFrozen(v value.Value, validator *mode.DeepFrozenValidator) bool {
	if v.Domain() != value.DomainHeapObject {
		return true
	}
	addr := heap.Address(v.HeapObjectAddress())
	if !validator.Enter(uintptr(addr)) {
		return false // cycle: spec.md Circular condition territory
	}
	defer validator.Leave(uintptr(addr))
	sp := m.speciesAt(addr)
	if sp == nil || sp.Behavior.GetMode(m.Heap, addr) != mode.DeepFrozen {
		return false
	}
	return true
}
