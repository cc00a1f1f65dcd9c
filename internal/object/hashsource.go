package object

import (
	"fmt"
	"io"

	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

// HashSource holds a Mersenne-Twister generator state plus a serial
// counter (spec.md 3.4). The MT state (624 32-bit words) is raw,
// non-value-domain memory — GC copies it but never scans it as Values.
const mtN = 624

const (
	hsMTState    = word               // 624*4 bytes of MT19937 state
	hsMTIndex    = word + mtN*4        // 4 bytes: next-output index into state
	hsSerialPad  = 4                   // pad hsMTIndex's 4 bytes to a word boundary
	hsSerialBase = word + mtN*4 + 8    // 8-byte aligned start of value fields
	hsFields     = hsSerialBase + word // serialCounter(int)
)

type hashSourceBehavior struct {
	common
	M *Model
}

func (hs hashSourceBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) {
	return hsFields, hsSerialBase
}
func (hs hashSourceBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (hs hashSourceBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprint(w, "#<hash-source>")
}

func (hs hashSourceBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}

func (hs hashSourceBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.Mutable }
func (hs hashSourceBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {}

// NewHashSource seeds a fresh MT19937 generator.
func (m *Model) NewHashSource(seed uint32) (value.Value, value.Value) {
	addr, cond := alloc(m.Heap, m.HashSource, hsFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	mtSeed(m.Heap, addr, seed)
	m.Heap.WriteValue(addr+hsSerialBase, value.NewInteger(0))
	return heapValue(addr), value.Value{}
}

func mtSeed(h *heap.Heap, addr heap.Address, seed uint32) {
	state := make([]uint32, mtN)
	state[0] = seed
	for i := 1; i < mtN; i++ {
		prev := state[i-1]
		state[i] = uint32(1812433253)*(prev^(prev>>30)) + uint32(i)
	}
	writeMTState(h, addr, state)
	writeUint32At(h, addr+hsMTIndex, mtN)
}

func writeMTState(h *heap.Heap, addr heap.Address, state []uint32) {
	for i, w := range state {
		writeUint32At(h, addr+hsMTState+heap.Address(i*4), w)
	}
}

func readMTState(h *heap.Heap, addr heap.Address) []uint32 {
	state := make([]uint32, mtN)
	for i := range state {
		state[i] = readUint32(h, addr+hsMTState+heap.Address(i*4))
	}
	return state
}

func writeUint32At(h *heap.Heap, addr heap.Address, v uint32) { writeUint32(h, addr, v) }

// NextHashWord draws the next 32-bit MT19937 output, regenerating the
// state array when exhausted.
func (m *Model) nextMTWord(addr heap.Address) uint32 {
	idx := int(readUint32(m.Heap, addr+hsMTIndex))
	state := readMTState(m.Heap, addr)
	if idx >= mtN {
		for i := 0; i < mtN; i++ {
			y := (state[i] & 0x80000000) | (state[(i+1)%mtN] & 0x7fffffff)
			next := state[(i+397)%mtN] ^ (y >> 1)
			if y%2 != 0 {
				next ^= 0x9908b0df
			}
			state[i] = next
		}
		writeMTState(m.Heap, addr, state)
		idx = 0
	}
	y := state[idx]
	y ^= y >> 11
	y ^= (y << 7) & 0x9d2c5680
	y ^= (y << 15) & 0xefc60000
	y ^= y >> 18
	writeUint32At(m.Heap, addr+hsMTIndex, uint32(idx+1))
	return y
}

var _ species.Behavior = hashSourceBehavior{}

// ---- HashOracle -----------------------------------------------------------

// HashOracle is bound to a source; it hands out and binds hash codes in a
// soft-field overlay of the oracle's source field, keyed by the object
// being hashed (spec.md 3.4). Freezing the oracle fixes its serial limit.
type hashOracleBehavior struct {
	common
	M *Model
}

const (
	hoSource      = word
	hoOverlay     = word + word
	hoSerialLimit = word + 2*word
	hoFields      = word + 3*word
)

func (ho hashOracleBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return hoFields, word }
func (ho hashOracleBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (ho hashOracleBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	fmt.Fprint(w, "#<hash-oracle>")
}

func (ho hashOracleBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}

func (ho hashOracleBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode {
	return ho.M.modeFromHeader(h, addr)
}

func (ho hashOracleBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {
	if m == mode.Frozen || m == mode.DeepFrozen {
		// Freezing the oracle fixes its serial limit: no further hash
		// codes may be minted past the count issued so far.
		overlay := h.ReadValue(addr + hoOverlay)
		h.WriteValue(addr+hoSerialLimit, value.NewInteger(int64(ho.M.IdHashMapSize(overlay))))
	}
	ho.M.setModeFromHeader(h, addr, m, ho.M.HashOracle)
}

// NewHashOracle binds a fresh oracle to source.
func (m *Model) NewHashOracle(source value.Value) (value.Value, value.Value) {
	overlay, cond := m.NewIdHashMap(16)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	addr, cond := alloc(m.Heap, m.HashOracle[mode.Fluid], hoFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+hoSource, source)
	m.Heap.WriteValue(addr+hoOverlay, overlay)
	m.Heap.WriteValue(addr+hoSerialLimit, value.NewInteger(-1))
	return heapValue(addr), value.Value{}
}

// HashCodeFor returns (minting if necessary) the stable hash code oracle
// has bound to target. Once frozen, minting a code for a never-before-seen
// target fails with ValidationFailed (serial limit fixed at freeze time).
func (m *Model) HashCodeFor(oracle value.Value, target value.Value) value.Value {
	addr := addrOf(oracle)
	overlay := m.Heap.ReadValue(addr + hoOverlay)
	if existing := m.GetIdHashMapAt(overlay, target); !existing.IsCondition() {
		return existing
	}
	limit := m.Heap.ReadValue(addr + hoSerialLimit).IntegerValue()
	if limit >= 0 && int64(m.IdHashMapSize(overlay)) >= limit {
		return value.NewCondition(value.CauseValidationFailed, 0)
	}
	source := m.Heap.ReadValue(addr + hoSource)
	word32 := m.nextMTWord(addrOf(source))
	code := value.NewHashCode(uint64(word32) & (1<<48 - 1))
	if cond := m.SetIdHashMapAt(overlay, target, code); cond.IsCondition() {
		return cond
	}
	return code
}

var _ species.Behavior = hashOracleBehavior{}
