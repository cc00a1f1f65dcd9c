package object

import (
	"fmt"
	"hash/fnv"
	"io"

	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

// Utf8 layout: header | length(4) | pad(4) | bytes(padded to word). No
// value-domain fields: valueOffset == size.
type utf8Behavior struct {
	common
	M *Model
}

func (u utf8Behavior) Layout(h *heap.Heap, addr heap.Address) (int, int) {
	length := readUint32(h, addr+word)
	size := align(word + 4 + 4 + int(length))
	return size, size
}

func (u utf8Behavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (u utf8Behavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	s := readString(h, addr)
	if quote {
		fmt.Fprintf(w, "%q", s)
	} else {
		fmt.Fprint(w, s)
	}
}

func (u utf8Behavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	hf := fnv.New64a()
	hf.Write([]byte(readString(h, addr)))
	return hf.Sum64() & (1<<48 - 1)
}

func (u utf8Behavior) IdentityCompare(h *heap.Heap, a, b heap.Address) bool {
	return readString(h, a) == readString(h, b)
}

func (u utf8Behavior) OrderingCompare(h *heap.Heap, a, b heap.Address) value.Relation {
	sa, sb := readString(h, a), readString(h, b)
	switch {
	case sa < sb:
		return value.RelationLess
	case sa > sb:
		return value.RelationGreater
	default:
		return value.RelationEqual
	}
}

func (u utf8Behavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.DeepFrozen }
func (u utf8Behavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m != mode.DeepFrozen {
		panic("object: Utf8 is always deep-frozen")
	}
}

// NewUtf8 allocates a Utf8 string object containing s.
func (m *Model) NewUtf8(s string) (value.Value, value.Value) {
	size := align(word + 4 + 4 + len(s))
	addr, cond := alloc(m.Heap, m.Utf8, size)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	writeUint32(m.Heap, addr+word, uint32(len(s)))
	m.Heap.WriteBytes(addr+word+8, []byte(s))
	return heapValue(addr), value.Value{}
}

// Utf8Value reads the Go string content out of a Utf8 object.
func (m *Model) Utf8Value(v value.Value) string { return readString(m.Heap, addrOf(v)) }

func readString(h *heap.Heap, addr heap.Address) string {
	length := readUint32(h, addr+word)
	return string(h.ReadBytes(addr+word+8, int(length)))
}

func readUint32(h *heap.Heap, addr heap.Address) uint32 {
	b := h.ReadBytes(addr, 4)
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func writeUint32(h *heap.Heap, addr heap.Address, v uint32) {
	h.WriteBytes(addr, []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
}

// Blob layout mirrors Utf8 but carries arbitrary bytes with no encoding
// assumptions and no null terminator.
type blobBehavior struct {
	common
	M *Model
}

func (b blobBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) {
	length := readUint32(h, addr+word)
	size := align(word + 4 + 4 + int(length))
	return size, size
}

func (b blobBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (b blobBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprintf(w, "#<blob len=%d>", readUint32(h, addr+word))
}

func (b blobBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	hf := fnv.New64a()
	hf.Write(readBlobBytes(h, addr))
	return hf.Sum64() & (1<<48 - 1)
}

func (b blobBehavior) IdentityCompare(h *heap.Heap, a, c heap.Address) bool {
	return string(readBlobBytes(h, a)) == string(readBlobBytes(h, c))
}

func (b blobBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.Mutable }
func (b blobBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {}

func readBlobBytes(h *heap.Heap, addr heap.Address) []byte {
	length := readUint32(h, addr+word)
	return h.ReadBytes(addr+word+8, int(length))
}

// NewBlob allocates a Blob containing a copy of data.
func (m *Model) NewBlob(data []byte) (value.Value, value.Value) {
	size := align(word + 4 + 4 + len(data))
	addr, cond := alloc(m.Heap, m.Blob, size)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	writeUint32(m.Heap, addr+word, uint32(len(data)))
	m.Heap.WriteBytes(addr+word+8, data)
	return heapValue(addr), value.Value{}
}

func (m *Model) BlobBytes(v value.Value) []byte { return readBlobBytes(m.Heap, addrOf(v)) }

var _ species.Behavior = utf8Behavior{}
var _ species.Behavior = blobBehavior{}
