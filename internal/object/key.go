package object

import (
	"fmt"
	"io"
	"sync/atomic"

	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

// Key: (unique id, display name). Keys compare by id; three well-known
// keys (subject, selector, is_async) exist as roots (spec.md 3.4).
type keyBehavior struct {
	common
	M *Model
}

const (
	keyID      = word
	keyDisplay = word + word
	keyFields  = word + 2*word
)

var keyIDCounter uint64

func (k keyBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return keyFields, word }
func (k keyBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (k keyBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprintf(w, "#<key %s>", k.M.Utf8Value(h.ReadValue(addr+keyDisplay)))
}

func (k keyBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(h.ReadValue(addr + keyID).IntegerValue())
}

func (k keyBehavior) IdentityCompare(h *heap.Heap, a, b heap.Address) bool {
	return h.ReadValue(a+keyID).IntegerValue() == h.ReadValue(b+keyID).IntegerValue()
}

// OrderingCompare sorts keys by id, matching spec.md 4.6's tag sort for
// "other keys by id" after the well-known subject/selector keys.
func (k keyBehavior) OrderingCompare(h *heap.Heap, a, b heap.Address) value.Relation {
	ia := h.ReadValue(a + keyID).IntegerValue()
	ib := h.ReadValue(b + keyID).IntegerValue()
	return value.RelationFromInt(int(ia - ib))
}

func (k keyBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.DeepFrozen }
func (k keyBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != mode.DeepFrozen {
		panic("object: Key is always deep-frozen")
	}
}

// NewKey allocates a fresh, globally unique key with the given display name.
func (m *Model) NewKey(display string) (value.Value, value.Value) {
	name, cond := m.NewUtf8(display)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	id := atomic.AddUint64(&keyIDCounter, 1)
	addr, cond := alloc(m.Heap, m.Key, keyFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+keyID, value.NewInteger(int64(id)))
	m.Heap.WriteValue(addr+keyDisplay, name)
	return heapValue(addr), value.Value{}
}

func (m *Model) KeyID(v value.Value) int64 { return m.Heap.ReadValue(addrOf(v) + keyID).IntegerValue() }
func (m *Model) KeyDisplayName(v value.Value) string {
	return m.Utf8Value(m.Heap.ReadValue(addrOf(v) + keyDisplay))
}

// WellKnownKeys holds the three roots spec.md 4.6 calls out by name,
// created once during runtime bootstrap (internal/interp startup).
type WellKnownKeys struct {
	Subject  value.Value
	Selector value.Value
	IsAsync  value.Value
}

func (m *Model) NewWellKnownKeys() (*WellKnownKeys, value.Value) {
	subj, cond := m.NewKey("subject")
	if cond.IsCondition() {
		return nil, cond
	}
	sel, cond := m.NewKey("selector")
	if cond.IsCondition() {
		return nil, cond
	}
	async, cond := m.NewKey("is_async")
	if cond.IsCondition() {
		return nil, cond
	}
	return &WellKnownKeys{Subject: subj, Selector: sel, IsAsync: async}, value.Value{}
}

var _ species.Behavior = keyBehavior{}
