package object

import (
	"fmt"
	"io"

	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

// Instance points to its fields (an IdHashMap); primary type, manager, and
// mode live on the species (spec.md 3.4). Mode changes allocate a sibling
// species via the species' Derivatives array.
type instanceBehavior struct {
	common
	M *Model
}

const instFields = word

func (ib instanceBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) {
	return word + word, word
}

func (ib instanceBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (ib instanceBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	sp := ib.M.speciesAt(addr)
	name := "Object"
	if sp != nil && sp.PrimaryType != nil && sp.PrimaryType.Domain() == value.DomainHeapObject {
		name = ib.M.Utf8Value(*sp.PrimaryType)
	}
	fmt.Fprintf(w, "#<instance %s>", name)
}

func (ib instanceBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}

// GetPrimaryType resolves the species backing this instance's nominal type
// value, when that type is itself a heap object with a registered species
// (spec.md 3.4: every instance carries a primary type on its species).
func (ib instanceBehavior) GetPrimaryType(h *heap.Heap, addr heap.Address) *species.Species {
	sp := ib.M.speciesAt(addr)
	if sp == nil || sp.PrimaryType == nil || sp.PrimaryType.Domain() != value.DomainHeapObject {
		return nil
	}
	return ib.M.speciesAt(heap.Address(sp.PrimaryType.HeapObjectAddress()))
}

func (ib instanceBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode {
	return ib.M.modeFromHeader(h, addr)
}

func (ib instanceBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	sp := ib.M.speciesAt(addr)
	sib := sp.Derivatives[m]
	if sib == nil {
		sib = ib.M.Reg.Adopt(&species.Species{
			Family: sp.Family, Behavior: sp.Behavior,
			Division: species.DivisionInstance, Mode: m,
			PrimaryType: sp.PrimaryType, Manager: sp.Manager,
			RootKey: sp,
		})
		sp.Derivatives[m] = sib
	}
	h.SetHeader(addr, sib.ID)
}

func (ib instanceBehavior) EnsureOwnedValuesFrozen(h *heap.Heap, addr heap.Address) error {
	fields := h.ReadValue(addr + instFields)
	var err error
	ib.M.IterateIdHashMap(fields, func(k, v value.Value) bool {
		if e := ib.M.ensureFrozen(v); e != nil {
			err = e
			return false
		}
		return true
	})
	return err
}

// NewInstance allocates an instance of primaryType with an empty field map.
func (m *Model) NewInstance(primaryType value.Value) (value.Value, value.Value) {
	fields, cond := m.NewIdHashMap(8)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	sp := m.Reg.Register(species.FamilyInstance, instanceBehavior{M: m})
	sp.Division = species.DivisionInstance
	sp.Mode = mode.Fluid
	pt := primaryType
	sp.PrimaryType = &pt
	addr, cond := alloc(m.Heap, sp, word+word)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+instFields, fields)
	return heapValue(addr), value.Value{}
}

func (m *Model) InstanceFields(v value.Value) value.Value {
	return m.Heap.ReadValue(addrOf(v) + instFields)
}

var _ species.Behavior = instanceBehavior{}
