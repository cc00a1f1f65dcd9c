package interp

import (
	"crucible/internal/derived"
	"crucible/internal/dispatch"
	"crucible/internal/object"
	"crucible/internal/stack"
	"crucible/internal/value"
)

// Builtin implements one native operation the Builtin/BuiltinMaybeEscape
// opcodes call out to (spec.md 4.4). It receives the running interpreter's
// State and the already-popped argument values (callee order), and returns
// either a result to push or a condition.
type Builtin func(st *State, args []value.Value) (value.Value, value.Value)

// NativeFunction pairs a Builtin with the fixed argument count the
// Builtin/BuiltinMaybeEscape opcodes pop for it before calling in.
//
// Grounded on the teacher's NativeFunction (internal/vm/database_bindings.go
// and siblings): a Name for diagnostics, a fixed Arity, and the Go closure
// itself — generalized here to spec.md's callee-order stack-argument
// convention instead of the teacher's []Value call convention.
type NativeFunction struct {
	Name  string
	Arity int
	Fn    Builtin
}

// State is one Task's complete interpreter-visible state: everything
// RunCodeBlock needs that lives outside the GC'd heap. It is the
// "runtime-owned state" spec.md 9 asks to be modeled explicitly rather
// than hidden in package-level globals.
//
// Grounded on the teacher's EnhancedVM struct (internal/vm/vm.go), which
// bundles the same kind of thing — stack, globals, call frames, builtin
// table — into one struct threaded through Run, generalized here to
// spec.md's segmented stack and object-capability method dispatch instead
// of the teacher's flat register file.
type State struct {
	Model    *object.Model
	WK       *object.WellKnownKeys
	Stack    *stack.Stack
	Chain    *derived.Chain
	Registry *Registry
	Resolver dispatch.TypeResolver

	// Globals maps a module-fragment path Key to its bound value. Module
	// binding (internal/binder, not yet built) populates this; LoadGlobal
	// reads it.
	Globals map[value.Value]value.Value

	Builtins []NativeFunction

	// ArgMapRoot is the runtime's single ArgumentMapTrie root (P4: any two
	// lookups producing the same offsets sequence must return the
	// identical array instance), shared by every Invoke/signal dispatch.
	ArgMapRoot value.Value

	// HandlerHomes records the frame InstallSignalHandler ran on, keyed by
	// the section it pushed. SignalHandlerSection, unlike Escape, has no
	// heap object of its own to carry an interp.Registry handle (it isn't
	// a value surface-language code can hold onto), so this side table is
	// its equivalent: LeaveOrFireBarrier needs the exact *stack.Frame to
	// resume, the same reasoning as EscapeEntry.Home.
	HandlerHomes map[*derived.SignalHandlerSection]*stack.Frame

	// LambdaSpace and BlockSpace let ResolveDelegation find "the lambda's
	// own methodspace" / "the block's own methodspace" for
	// DelegateToLambda/DelegateToBlock targets without internal/dispatch
	// needing to import internal/object/closures.go's accessors directly.
	LambdaSpace dispatch.DelegationMethodspace
	BlockSpace  dispatch.DelegationMethodspace

	cache CodeCache

	// forceValidateCounter and Debug gate the ForceValidate protocol
	// (spec.md 4.4): in debug builds, every kForceValidateInterval opcodes
	// executed, RunCodeBlock returns CauseForceValidate so the caller can
	// validate the heap before resuming.
	forceValidateCounter int
	Debug                bool
}

// ForceValidateInterval is spec.md 4.4's kForceValidateInterval: the
// opcode-count cadence of forced heap validation in debug builds.
const ForceValidateInterval = 4096

// NewState builds a fresh Task-local interpreter state over an empty stack
// and a freshly bootstrapped Model.
func NewState(m *object.Model, wk *object.WellKnownKeys) (*State, value.Value) {
	root, cond := m.NewArgumentMapTrieRoot()
	if cond.IsCondition() {
		return nil, cond
	}
	st := &State{
		Model:    m,
		WK:       wk,
		Stack:    stack.NewStack(0),
		Chain:    &derived.Chain{},
		Registry:     NewRegistry(),
		Globals:      make(map[value.Value]value.Value),
		HandlerHomes: make(map[*derived.SignalHandlerSection]*stack.Frame),
		ArgMapRoot:   root,
	}
	st.Resolver = dispatch.NewTypeResolver(m)
	st.LambdaSpace = func(subject value.Value) (value.Value, bool) {
		fam, ok := m.FamilyOf(subject)
		if !ok || fam != m.Lambda.Family {
			return value.Value{}, false
		}
		return m.LambdaSpace(subject), true
	}
	st.BlockSpace = func(subject value.Value) (value.Value, bool) {
		fam, ok := m.FamilyOf(subject)
		if !ok || fam != m.BlockClosure.Family {
			return value.Value{}, false
		}
		return m.BlockClosureSpace(subject), true
	}
	return st, value.Value{}
}

// Roots builds a heap.RootSet snapshotting st's currently-open frame and
// full stack for one GC collection (spec.md 4.1 step 2).
func (st *State) Roots(openTop *stack.Frame) *Roots {
	return &Roots{Stack: st.Stack, OpenTop: openTop, Chain: st.Chain}
}
