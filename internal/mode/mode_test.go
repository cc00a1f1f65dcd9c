package mode

import "testing"

type fakeFreezable struct {
	mode      Mode
	ensureErr error
	ensured   bool
}

func (f *fakeFreezable) Mode() Mode             { return f.mode }
func (f *fakeFreezable) SetModeUnchecked(m Mode) { f.mode = m }
func (f *fakeFreezable) EnsureOwnedValuesFrozen() error {
	f.ensured = true
	return f.ensureErr
}

func TestMonotoneTransitions(t *testing.T) {
	if err := Transition(Fluid, Frozen); err != nil {
		t.Fatalf("tightening should be allowed: %v", err)
	}
	if err := Transition(Frozen, Mutable); err == nil {
		t.Fatal("relaxing frozen -> mutable must be rejected")
	}
	if err := Transition(DeepFrozen, DeepFrozen); err != nil {
		t.Fatal("identical transition must be allowed")
	}
}

func TestFreezeEnsuresOwnedValues(t *testing.T) {
	f := &fakeFreezable{mode: Mutable}
	if err := Freeze(f, Frozen); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.mode != Frozen {
		t.Fatalf("mode = %v, want Frozen", f.mode)
	}
	if !f.ensured {
		t.Fatal("expected EnsureOwnedValuesFrozen to run for Frozen target")
	}
}

func TestFreezeRejectsRelax(t *testing.T) {
	f := &fakeFreezable{mode: Frozen}
	if err := Freeze(f, Mutable); err == nil {
		t.Fatal("expected relax error")
	}
}

func TestDeepFrozenValidatorDetectsCycle(t *testing.T) {
	v := NewDeepFrozenValidator()
	if !v.Enter(1) {
		t.Fatal("first entry should succeed")
	}
	if !v.Enter(2) {
		t.Fatal("second distinct entry should succeed")
	}
	if v.Enter(1) {
		t.Fatal("re-entering an in-progress address must report a cycle")
	}
	v.Leave(2)
	v.Leave(1)
	if !v.Enter(1) {
		t.Fatal("re-entering after Leave should be fine (already validated)")
	}
}
