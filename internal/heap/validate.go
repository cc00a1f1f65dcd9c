package heap

import (
	"fmt"

	"crucible/internal/value"
)

// ZapKind distinguishes why a byte range no longer holds a live object —
// spec.md 4.1 "Zapping": freed entries are overwritten with a recognizable
// marker so stale accesses fail loudly instead of reading garbage.
type ZapKind byte

const (
	ZapUnused ZapKind = iota
	ZapAllocated
	ZapFreed
)

// zapPattern is XORed into freed bytes; recognizable in a hex dump without
// colliding with a plausible pointer or small integer.
var zapPattern = [...]byte{0xDE, 0xAD, 0xC0, 0xDE}

// Zap overwrites [addr, addr+n) with a pattern tagged by kind. Used when an
// object tracker's self-destruct finalizer releases its slot, and by tests
// that want to confirm stale reads are detectable.
func (h *Heap) Zap(addr Address, n int, kind ZapKind) {
	b := h.bytes()[addr : int(addr)+n]
	for i := range b {
		b[i] = zapPattern[i%len(zapPattern)] ^ byte(kind)
	}
}

// ValidateCause is returned by Validate when the heap fails a consistency
// check; corresponds to spec.md's ValidationFailed condition cause.
type ValidateCause int

const (
	ValidateOK ValidateCause = iota
	ValidateBadHeader
	ValidateBadValueField
)

// ValidationError describes a single heap inconsistency found by Validate.
type ValidationError struct {
	Cause ValidateCause
	Addr  Address
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("heap validate @%#x: %s", e.Addr, e.Msg)
}

// Validate performs a full heap-consistency traversal from allocOffset=0 to
// the current allocation pointer, used both by the "sanity-check on every
// allocation" debug mode and by the interpreter's ForceValidate protocol
// (spec.md 4.4).
func (h *Heap) Validate() []*ValidationError {
	var errs []*ValidationError
	off := 0
	for off < h.allocOffset {
		addr := Address(off)
		w := h.readWord(addr)
		if w&forwardedBit != 0 {
			errs = append(errs, &ValidationError{ValidateBadHeader, addr, "forwarded header outside GC"})
			break
		}
		behavior := h.resolver.Resolve(SpeciesID(w))
		if behavior == nil {
			errs = append(errs, &ValidationError{ValidateBadHeader, addr, "unregistered species id"})
			break
		}
		size, valueOffset := behavior.Layout(h, addr)
		for fo := valueOffset; fo+wordSize <= size; fo += wordSize {
			fv := h.ReadValue(addr + Address(fo))
			if fv.Domain() == value.DomainHeapObject {
				target := Address(fv.HeapObjectAddress())
				if int(target) >= h.allocOffset {
					errs = append(errs, &ValidationError{ValidateBadValueField, addr + Address(fo), "value field points past allocation pointer"})
				}
			}
		}
		off += align(size)
	}
	return errs
}
