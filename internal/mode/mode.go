// Package mode implements the four-mode freezing discipline of spec.md 3.3.
// Grounded on the mutation-guard style of internal/security (permission
// checks gating an otherwise-unrestricted action), generalized from a
// binary allow/deny into the ordered fluid/mutable/frozen/deep-frozen
// lattice.
package mode

import "fmt"

// Mode is one of the four freezing states, ordered fluid ≺ mutable ≺
// frozen ≺ deep-frozen. The integer ordering IS the lattice ordering:
// transitions may only increase the value.
type Mode uint8

const (
	Fluid Mode = iota
	Mutable
	Frozen
	DeepFrozen
)

func (m Mode) String() string {
	switch m {
	case Fluid:
		return "fluid"
	case Mutable:
		return "mutable"
	case Frozen:
		return "frozen"
	case DeepFrozen:
		return "deep-frozen"
	default:
		return "unknown-mode"
	}
}

// AllowsTypeMutation reports whether the object may still change its own
// type/species entirely (only true while fluid).
func (m Mode) AllowsTypeMutation() bool { return m == Fluid }

// AllowsFieldAssignment reports whether ordinary field stores are legal.
func (m Mode) AllowsFieldAssignment() bool { return m == Fluid || m == Mutable }

// AllowsSelfChange reports whether anything about the object itself
// (fields, type) may still change. Frozen and deep-frozen both forbid this;
// they differ only in what's required of reachable objects.
func (m Mode) AllowsSelfChange() bool { return m == Fluid || m == Mutable }

// ErrModeViolation is returned when a transition would relax an object's
// mode, which spec.md forbids ("mode transitions are monotone").
type ErrModeViolation struct {
	From, To Mode
}

func (e *ErrModeViolation) Error() string {
	return fmt.Sprintf("mode: cannot transition from %s to %s (modes only tighten)", e.From, e.To)
}

// Transition validates a proposed mode change, returning an error if it
// would relax restrictions.
func Transition(from, to Mode) error {
	if to < from {
		return &ErrModeViolation{From: from, To: to}
	}
	return nil
}

// Freezer is implemented by any family whose instances can be frozen. It
// mirrors spec.md 3.3: freezing entails (a) marking the object frozen and
// (b) transitively ensuring owned values are frozen.
type Freezer interface {
	Mode() Mode
	SetModeUnchecked(Mode)
	// EnsureOwnedValuesFrozen recursively freezes every value this object
	// owns (but does not itself retain responsibility for, e.g. an
	// Instance's field values) and returns an error if any owned value
	// refuses (e.g. it is shared and still mutable elsewhere).
	EnsureOwnedValuesFrozen() error
}

// Freeze drives one object through the freeze protocol.
func Freeze(f Freezer, target Mode) error {
	current := f.Mode()
	if err := Transition(current, target); err != nil {
		return err
	}
	f.SetModeUnchecked(target)
	if target == Frozen || target == DeepFrozen {
		if err := f.EnsureOwnedValuesFrozen(); err != nil {
			return err
		}
	}
	return nil
}

// DeepFrozenValidator performs the separate cycle-detecting traversal
// spec.md 3.3 requires ("Validating deep-frozen is a separate
// cycle-detecting traversal").
type DeepFrozenValidator struct {
	visiting map[uintptr]bool
	visited  map[uintptr]bool
}

func NewDeepFrozenValidator() *DeepFrozenValidator {
	return &DeepFrozenValidator{visiting: map[uintptr]bool{}, visited: map[uintptr]bool{}}
}

// Enter marks addr as being visited; returns false (and the traversal must
// stop and report Circular) if addr is already on the current path.
func (v *DeepFrozenValidator) Enter(addr uintptr) bool {
	if v.visited[addr] {
		return true // already fully validated elsewhere; short-circuit
	}
	if v.visiting[addr] {
		return false
	}
	v.visiting[addr] = true
	return true
}

func (v *DeepFrozenValidator) Leave(addr uintptr) {
	delete(v.visiting, addr)
	v.visited[addr] = true
}
