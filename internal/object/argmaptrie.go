package object

import (
	"fmt"
	"io"

	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

// ArgumentMapTrie canonicalizes argument maps (spec.md 4.6.4): value is the
// node's own accumulated array of argument-map keys (parameter-index ->
// stack offset); children is an ArrayBuffer of child nodes indexed by
// encoded key, so repeated lookups that produce the same key sequence
// share the very same array instance.
type argMapTrieBehavior struct {
	common
	M *Model
}

const (
	trieValue    = word
	trieChildren = word + word
	trieFields   = word + 2*word
)

func (t argMapTrieBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return trieFields, word }
func (t argMapTrieBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (t argMapTrieBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprint(w, "#<argument-map-trie-node>")
}

func (t argMapTrieBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}

func (t argMapTrieBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.Mutable }
func (t argMapTrieBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {}

// NewArgumentMapTrieRoot allocates the runtime's single root node, an empty
// argument map with no children yet.
func (m *Model) NewArgumentMapTrieRoot() (value.Value, value.Value) {
	return m.newTrieNode(nil)
}

func (m *Model) newTrieNode(offsets []int) (value.Value, value.Value) {
	arr, cond := m.NewArray(len(offsets))
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	for i, off := range offsets {
		m.ArraySetAt(arr, i, value.NewInteger(int64(off)))
	}
	children, cond := m.NewArrayBuffer(4)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	addr, cond := alloc(m.Heap, m.ArgumentMapTrie, trieFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+trieValue, arr)
	m.Heap.WriteValue(addr+trieChildren, children)
	return heapValue(addr), value.Value{}
}

// TrieValue returns this node's accumulated argument-map array.
func (m *Model) TrieValue(v value.Value) value.Value { return m.Heap.ReadValue(addrOf(v) + trieValue) }

// TrieChild descends (creating lazily) the child keyed by key, appending
// key's offset to the parent's accumulated array so identical key
// sequences always land on the same node and thus the same array
// instance (spec.md P4).
func (m *Model) TrieChild(parent value.Value, key int) (value.Value, value.Value) {
	children := m.Heap.ReadValue(addrOf(parent) + trieChildren)
	n := m.ArrayBufferLen(children)
	for i := 0; i < n; i++ {
		entry := m.ArrayBufferAt(children, i)
		if int(m.ArrayAt(entry, 0).IntegerValue()) == key {
			return m.ArrayAt(entry, 1), value.Value{}
		}
	}
	parentArr := m.TrieValue(parent)
	offsets := make([]int, m.ArrayLen(parentArr)+1)
	for i := 0; i < m.ArrayLen(parentArr); i++ {
		offsets[i] = int(m.ArrayAt(parentArr, i).IntegerValue())
	}
	offsets[len(offsets)-1] = key
	child, cond := m.newTrieNode(offsets)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	entry, cond := m.NewArray(2)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.ArraySetAt(entry, 0, value.NewInteger(int64(key)))
	m.ArraySetAt(entry, 1, child)
	if cond := m.ArrayBufferPush(children, entry); cond.IsCondition() {
		return value.Value{}, cond
	}
	return child, value.Value{}
}

var _ species.Behavior = argMapTrieBehavior{}
