package object

import (
	"fmt"
	"io"

	"crucible/internal/heap"
	"crucible/internal/mode"
	"crucible/internal/species"
	"crucible/internal/value"
)

// Promise: (state, resolution, waiters). Resolution fires exactly once;
// subsequent Fulfill/Reject calls are no-ops (spec.md §5). Waiters is a
// FifoBuffer of resumption records drained on resolution by internal/interp.
type promiseBehavior struct {
	common
	M *Model
}

const (
	promState      = word
	promResolution = word + word
	promWaiters    = word + 2*word
	promFields     = word + 3*word
)

func (p promiseBehavior) Layout(h *heap.Heap, addr heap.Address) (int, int) { return promFields, word }
func (p promiseBehavior) PostMigrationFixup(h *heap.Heap, addr heap.Address) {}

func (p promiseBehavior) PrintOn(h *heap.Heap, addr heap.Address, w io.Writer, quote bool) {
	st := h.ReadValue(addr + promState).PromiseStateValue()
	fmt.Fprintf(w, "#<promise %s>", st)
}

func (p promiseBehavior) TransientIdentityHash(h *heap.Heap, addr heap.Address) uint64 {
	return uint64(addr)
}

func (p promiseBehavior) GetMode(h *heap.Heap, addr heap.Address) mode.Mode { return mode.Mutable }
func (p promiseBehavior) SetModeUnchecked(h *heap.Heap, addr heap.Address, m mode.Mode) {}

// NewPromise allocates a pending promise with an empty waiter queue.
func (m *Model) NewPromise() (value.Value, value.Value) {
	waiters, cond := m.NewFifoBuffer(1, 4)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	addr, cond := alloc(m.Heap, m.Promise, promFields)
	if cond.IsCondition() {
		return value.Value{}, cond
	}
	m.Heap.WriteValue(addr+promState, value.NewPromiseState(value.PromisePending))
	m.Heap.WriteValue(addr+promResolution, value.Nothing)
	m.Heap.WriteValue(addr+promWaiters, waiters)
	return heapValue(addr), value.Value{}
}

func (m *Model) PromiseState(v value.Value) value.PromiseState {
	return m.Heap.ReadValue(addrOf(v) + promState).PromiseStateValue()
}

func (m *Model) PromiseResolution(v value.Value) value.Value {
	return m.Heap.ReadValue(addrOf(v) + promResolution)
}

func (m *Model) PromiseWaiters(v value.Value) value.Value {
	return m.Heap.ReadValue(addrOf(v) + promWaiters)
}

// resolve transitions a pending promise to st with resolution, a no-op
// if the promise has already settled. Returns true if this call is the
// one that performed the transition.
func (m *Model) resolve(v value.Value, st value.PromiseState, resolution value.Value) bool {
	addr := addrOf(v)
	if m.Heap.ReadValue(addr+promState).PromiseStateValue() != value.PromisePending {
		return false
	}
	m.Heap.WriteValue(addr+promState, value.NewPromiseState(st))
	m.Heap.WriteValue(addr+promResolution, resolution)
	return true
}

// Fulfill resolves v with value if v is still pending. Idempotent.
func (m *Model) Fulfill(v value.Value, result value.Value) bool {
	return m.resolve(v, value.PromiseFulfilled, result)
}

// Reject settles v with a failure condition if v is still pending. Idempotent.
func (m *Model) Reject(v value.Value, condition value.Value) bool {
	return m.resolve(v, value.PromiseRejected, condition)
}

// AddWaiter enqueues a resumption record to be drained once v settles.
func (m *Model) AddWaiter(v value.Value, waiter value.Value) value.Value {
	return m.FifoOffer(m.PromiseWaiters(v), []value.Value{waiter})
}

// DrainWaiters removes and returns every enqueued waiter, for internal/interp
// to resume once v has settled.
func (m *Model) DrainWaiters(v value.Value) []value.Value {
	var all []value.Value
	waiters := m.PromiseWaiters(v)
	for {
		batch, cond := m.FifoTake(waiters)
		if cond.IsCondition() {
			break
		}
		all = append(all, batch...)
	}
	return all
}

var _ species.Behavior = promiseBehavior{}
