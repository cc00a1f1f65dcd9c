package object

import (
	"fmt"
	"io"

	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

// IdHashMap is open-addressed, keyed by value identity (spec.md 3.4).
// layout: header | capacity(int) | size(int) | occupiedCount(int) |
// entries(HeapObject -> Array of capacity*3 value slots: key, hash, value).
type idHashMapBehavior struct {
	common
	M *Model
}

const (
	mapCapacity = word
	mapSize     = word + word
	mapOccupied = word + 2*word
	mapEntries  = word + 3*word
	mapFields   = word + 4*word
)

const maxLoadFactorNum, maxLoadFactorDen = 7, 10 // load factor < 1, per spec.md

func (idm idHashMapBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) {
	return mapFields, word
}

func (idm idHashMapBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {
	// spec.md P3 / step 5: migrated keys may have a different identity
	// hash than before migration, so the table must be rebuilt.
	idm.M.rehashMap(addr)
}

func (idm idHashMapBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprintf(w, "#<map size=%d>", h.ReadValue(addr+mapSize).IntegerValue())
}

func (idm idHashMapBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}

func (idm idHashMapBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode {
	return idm.M.modeFromHeader(h, addr)
}

func (idm idHashMapBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	idm.M.setModeFromHeader(h, addr, m, idm.M.IdHashMap)
}

func (idm idHashMapBehavior) EnsureOwnedValuesFrozen(h *heap.Heap, addr heap.Address) error {
	entries := h.ReadValue(addr + mapEntries)
	cap := idm.M.ArrayLen(entries) / 3
	for i := 0; i < cap; i++ {
		k := idm.M.ArrayAt(entries, i*3)
		if k.IsNothing() {
			continue
		}
		v := idm.M.ArrayAt(entries, i*3+2)
		if err := idm.M.ensureFrozen(k); err != nil {
			return err
		}
		if err := idm.M.ensureFrozen(v); err != nil {
			return err
		}
	}
	return nil
}

// NewIdHashMap allocates an empty map with the given initial capacity.
func (m *Model) NewIdHashMap(initialCapacity int) (value.Value, value.Value) {
	if initialCapacity < 8 {
		initialCapacity = 8
	}
	entries, cond := m.NewArray(initialCapacity * 3)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	for i := 0; i < initialCapacity; i++ {
		m.ArraySetAt(entries, i*3, value.Nothing)
		m.ArraySetAt(entries, i*3+1, value.Null)
		m.ArraySetAt(entries, i*3+2, value.Null)
	}
	addr, cond := alloc(m.Heap, m.IdHashMap[mode.Fluid], mapFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+mapCapacity, value.NewInteger(int64(initialCapacity)))
	m.Heap.WriteValue(addr+mapSize, value.NewInteger(0))
	m.Heap.WriteValue(addr+mapOccupied, value.NewInteger(0))
	m.Heap.WriteValue(addr+mapEntries, entries)
	return heapValue(addr), value.Value{}
}

func (m *Model) mapCapacityOf(v value.Value) int {
	return int(m.Heap.ReadValue(addrOf(v) + mapCapacity).IntegerValue())
}

func (m *Model) IdHashMapSize(v value.Value) int {
	return int(m.Heap.ReadValue(addrOf(v) + mapSize).IntegerValue())
}

func (m *Model) findSlot(v value.Value, key value.Value, forInsert bool) (int, bool) {
	entries := m.Heap.ReadValue(addrOf(v) + mapEntries)
	capacity := m.mapCapacityOf(v)
	if capacity == 0 {
		return -1, false
	}
	h := m.TransientIdentityHash(key, map[heap.Address]bool{})
	start := int(h) % capacity
	firstTombstone := -1
	for probe := 0; probe < capacity; probe++ {
		i := (start + probe) % capacity
		k := m.ArrayAt(entries, i*3)
		if k.IsNothing() {
			hashSlot := m.ArrayAt(entries, i*3+1)
			if hashSlot.IsNull() {
				if forInsert && firstTombstone >= 0 {
					return firstTombstone, false
				}
				return i, false
			}
			if forInsert && firstTombstone < 0 {
				firstTombstone = i
			}
			continue
		}
		if m.IdentityEqual(k, key) {
			return i, true
		}
	}
	if forInsert && firstTombstone >= 0 {
		return firstTombstone, false
	}
	return -1, false
}

// GetIdHashMapAt implements spec.md P3's lookup.
func (m *Model) GetIdHashMapAt(v value.Value, key value.Value) value.Value {
	i, found := m.findSlot(v, key, false)
	if !found {
		return value.NewCondition(value.CauseNotFound, 0)
	}
	entries := m.Heap.ReadValue(addrOf(v) + mapEntries)
	return m.ArrayAt(entries, i*3+2)
}

// SetIdHashMapAt inserts or overwrites key->val, growing (doubling
// capacity, like ArrayBuffer) when the occupied count would exceed the
// load factor, or returning MapFull if growth itself fails.
func (m *Model) SetIdHashMapAt(v value.Value, key, val value.Value) value.Value {
	addr := addrOf(v)
	occupied := int(m.Heap.ReadValue(addr + mapOccupied).IntegerValue())
	capacity := m.mapCapacityOf(v)
	if (occupied+1)*maxLoadFactorDen >= capacity*maxLoadFactorNum {
		if cond := m.growMap(v); cond.IsCondition() {
			return cond
		}
		addr = addrOf(v)
	}
	i, found := m.findSlot(v, key, true)
	if i < 0 {
		return value.NewCondition(value.CauseMapFull, 0)
	}
	entries := m.Heap.ReadValue(addr + mapEntries)
	wasTombstoneOrEmpty := !found
	m.ArraySetAt(entries, i*3, key)
	m.ArraySetAt(entries, i*3+1, value.NewHashCode(m.TransientIdentityHash(key, map[heap.Address]bool{})))
	m.ArraySetAt(entries, i*3+2, val)
	if wasTombstoneOrEmpty {
		size := int(m.Heap.ReadValue(addr + mapSize).IntegerValue())
		m.Heap.WriteValue(addr+mapSize, value.NewInteger(int64(size+1)))
		m.Heap.WriteValue(addr+mapOccupied, value.NewInteger(int64(occupied+1)))
	}
	return value.Success
}

// DeleteIdHashMapAt tombstones key's slot (nothing key, null hash),
// per spec.md 3.4.
func (m *Model) DeleteIdHashMapAt(v value.Value, key value.Value) value.Value {
	i, found := m.findSlot(v, key, false)
	if !found {
		return value.NewCondition(value.CauseNotFound, 0)
	}
	addr := addrOf(v)
	entries := m.Heap.ReadValue(addr + mapEntries)
	m.ArraySetAt(entries, i*3, value.Nothing)
	m.ArraySetAt(entries, i*3+1, value.Null)
	m.ArraySetAt(entries, i*3+2, value.Null)
	size := int(m.Heap.ReadValue(addr + mapSize).IntegerValue())
	m.Heap.WriteValue(addr+mapSize, value.NewInteger(int64(size-1)))
	return value.Success
}

// IterateIdHashMap visits each live (key, value) pair. Iteration order is
// explicitly undefined per spec.md — callers must never depend on it; we
// walk slot order, which exposes rehash-dependent ordering on purpose.
func (m *Model) IterateIdHashMap(v value.Value, fn func(key, val value.Value) bool) {
	addr := addrOf(v)
	entries := m.Heap.ReadValue(addr + mapEntries)
	cap := m.mapCapacityOf(v)
	for i := 0; i < cap; i++ {
		k := m.ArrayAt(entries, i*3)
		if k.IsNothing() {
			continue
		}
		val := m.ArrayAt(entries, i*3+2)
		if !fn(k, val) {
			return
		}
	}
}

func (m *Model) growMap(v value.Value) value.Value {
	addr := addrOf(v)
	oldEntries := m.Heap.ReadValue(addr + mapEntries)
	oldCap := m.mapCapacityOf(v)
	newCap := oldCap * 2
	newV, cond := m.NewIdHashMap(newCap)
	if cond.IsCondition() {
		return cond
	}
	for i := 0; i < oldCap; i++ {
		k := m.ArrayAt(oldEntries, i*3)
		if k.IsNothing() {
			continue
		}
		val := m.ArrayAt(oldEntries, i*3+2)
		m.SetIdHashMapAt(newV, k, val)
	}
	newAddr := addrOf(newV)
	m.Heap.WriteValue(addr+mapCapacity, m.Heap.ReadValue(newAddr+mapCapacity))
	m.Heap.WriteValue(addr+mapSize, m.Heap.ReadValue(newAddr+mapSize))
	m.Heap.WriteValue(addr+mapOccupied, m.Heap.ReadValue(newAddr+mapOccupied))
	m.Heap.WriteValue(addr+mapEntries, m.Heap.ReadValue(newAddr+mapEntries))
	return value.Value{}
}

// rehashMap is called by PostMigrationFixup after GC has copied every
// entry: because identity hashes of relocated keys may differ from their
// pre-migration hashes, slot positions must be recomputed from scratch.
func (m *Model) rehashMap(addr heap.Address) {
	oldEntries := m.Heap.ReadValue(addr + mapEntries)
	cap := int(m.Heap.ReadValue(addr + mapCapacity).IntegerValue())
	pairs := make([][2]value.Value, 0, cap)
	for i := 0; i < cap; i++ {
		k := m.ArrayAt(oldEntries, i*3)
		if k.IsNothing() {
			continue
		}
		pairs = append(pairs, [2]value.Value{k, m.ArrayAt(oldEntries, i*3+2)})
	}
	fresh, cond := m.NewArray(cap * 3)
	if cond.IsCondition() {
		panic("object: rehash allocation failed during GC fixup")
	}
	for i := 0; i < cap; i++ {
		m.ArraySetAt(fresh, i*3, value.Nothing)
		m.ArraySetAt(fresh, i*3+1, value.Null)
		m.ArraySetAt(fresh, i*3+2, value.Null)
	}
	m.Heap.WriteValue(addr+mapEntries, fresh)
	m.Heap.WriteValue(addr+mapSize, value.NewInteger(0))
	m.Heap.WriteValue(addr+mapOccupied, value.NewInteger(0))
	fakeHandle := heapValue(addr)
	for _, p := range pairs {
		m.SetIdHashMapAt(fakeHandle, p[0], p[1])
	}
}

var _ species.Behavior = idHashMapBehavior{}
