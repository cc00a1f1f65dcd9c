package process

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"crucible/internal/value"
)

// NativeResult is one completed native request sitting in an Airlock,
// waiting for the owning process to deliver it to a surface promise
// (spec.md 4.5; original_source's native_request_state_t).
type NativeResult struct {
	Promise value.Value
	Result  value.Value
	IsError bool
}

// Airlock is the producer/consumer buffer between a process's interpreter
// thread and its worker threads (spec.md 4.5): workers push completed
// native requests; between jobs the interpreter drains them. Grounded on
// original_source/src/c/process.c's process_airlock_t — mutex plus two
// semaphores (vacancies, availability) guarding a bounded buffer — per
// SPEC_FULL.md's supplemented-feature note that this exact discipline (not
// raw channels) is worth preserving so "one lock held for bounded time" stays
// explicit and testable. golang.org/x/sync/semaphore.Weighted stands in for
// the original's counting native_semaphore_t.
type Airlock struct {
	mu        sync.Mutex
	pending   []NativeResult
	vacancies *semaphore.Weighted
	available *semaphore.Weighted

	openRequestCount int
}

// NewAirlock allocates an airlock with room for capacity pending results
// before a producer blocks.
func NewAirlock(capacity int) *Airlock {
	if capacity <= 0 {
		capacity = 64
	}
	return &Airlock{
		vacancies: semaphore.NewWeighted(int64(capacity)),
		available: semaphore.NewWeighted(int64(capacity)),
	}
}

// BeginRequest records that a native request has been scheduled (spec.md
// 4.5: the I/O engine is handed a pending state and a promise is returned
// immediately), incrementing the outstanding-request count IsIdle checks.
func (a *Airlock) BeginRequest() {
	a.mu.Lock()
	a.openRequestCount++
	a.mu.Unlock()
}

// OfferResult is called from a worker thread once a native request
// completes: it blocks until a buffer slot is free, then enqueues result
// (original_source's process_airlock_offer_result).
func (a *Airlock) OfferResult(result NativeResult) {
	_ = a.vacancies.Acquire(context.Background(), 1)
	a.mu.Lock()
	a.pending = append(a.pending, result)
	a.mu.Unlock()
	a.available.Release(1)
}

// DrainAll removes and returns every result currently pending, without
// blocking (original_source's deliver_process_outstanding_results looping
// over process_airlock_try_take). Each drained result decrements the
// outstanding-request count.
func (a *Airlock) DrainAll() []NativeResult {
	var out []NativeResult
	for a.available.TryAcquire(1) {
		a.mu.Lock()
		r := a.pending[0]
		a.pending = a.pending[1:]
		a.openRequestCount--
		a.mu.Unlock()
		a.vacancies.Release(1)
		out = append(out, r)
	}
	return out
}

// OpenRequestCount reports the number of native requests scheduled but not
// yet delivered, the second half of spec.md 4.5's idle test.
func (a *Airlock) OpenRequestCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openRequestCount
}
