package heap

import "math/rand"

// fuzzer implements the GC-fuzzing discipline of spec.md P8: with fuzzing
// enabled, every allocation call site is eventually failed at least once
// within gc_fuzz_freq allocations. We approximate "call site" with a
// monotonic allocation counter and fail deterministically every Nth
// allocation, jittered by the configured seed so repeated runs with the
// same seed reproduce the same failure schedule.
type fuzzer struct {
	freq    int
	rng     *rand.Rand
	counter int
	next    int
}

func newFuzzer(freq int, seed int64) *fuzzer {
	f := &fuzzer{freq: freq, rng: rand.New(rand.NewSource(seed))}
	f.next = f.freq/2 + f.rng.Intn(f.freq+1)
	return f
}

func (f *fuzzer) shouldFail() bool {
	f.counter++
	if f.counter >= f.next {
		f.next = f.counter + 1 + f.rng.Intn(f.freq+1)
		return true
	}
	return false
}
