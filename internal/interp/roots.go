package interp

import (
	"crucible/internal/derived"
	"crucible/internal/stack"
	"crucible/internal/value"
)

// Roots implements heap.RootSet over a single Task's execution state
// (spec.md 4.1 step 2). It walks three sources: the currently-open frame
// chain (OpenTop, not yet closed into any piece's lid), every stack
// piece's live slot prefix, and every closed piece's suspended lid-frame
// chain — since a piece can be closed while its StackPointer-tracked
// derived objects and frame header fields (CodeBlock/ArgumentMap/Captures)
// still hold live heap references that the slot-prefix walk alone would
// miss.
type Roots struct {
	Stack   *stack.Stack
	OpenTop *stack.Frame
	Chain   *derived.Chain
	Extra   []*value.Value
}

func (r *Roots) Slots() []*value.Value {
	var slots []*value.Value

	for f := r.OpenTop; f != nil; f = f.Caller {
		slots = appendFrameHeaderSlots(slots, f)
	}

	for piece := r.Stack.Top; piece != nil; piece = piece.Previous {
		sp := piece.StackPointer()
		for i := 0; i < sp; i++ {
			slots = append(slots, &piece.Slots[i])
		}
		if lid := piece.Lid(); lid != nil {
			for f := lid; f != nil; f = f.Caller {
				slots = appendFrameHeaderSlots(slots, f)
			}
		}
	}

	if r.Chain != nil {
		r.Chain.Walk(func(s derived.Scoped) bool {
			slots = appendBarrierPayload(slots, s)
			return true
		})
	}

	slots = append(slots, r.Extra...)
	return slots
}

func appendFrameHeaderSlots(slots []*value.Value, f *stack.Frame) []*value.Value {
	slots = append(slots, &f.CodeBlock, &f.ArgumentMap, &f.Captures)
	return slots
}

// appendBarrierPayload roots a scoped barrier's Payload field (the heap
// object — Escape/Block/CodeBlock/Methodspace — it backs). BarrierState is
// unexported outside internal/derived, so this goes through the small
// reflective-free accessor each genus already exposes via its own fields;
// since Payload lives in an embedded BarrierState, and every genus embeds
// it as its first field, a type switch recovers it without new API surface
// on internal/derived.
func appendBarrierPayload(slots []*value.Value, s derived.Scoped) []*value.Value {
	switch sec := s.(type) {
	case *derived.EscapeSection:
		slots = append(slots, &sec.Payload)
	case *derived.EnsureSection:
		slots = append(slots, &sec.Payload)
	case *derived.BlockSection:
		slots = append(slots, &sec.Payload)
	case *derived.SignalHandlerSection:
		slots = append(slots, &sec.Payload)
	}
	return slots
}
