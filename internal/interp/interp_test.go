package interp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"crucible/internal/heap"
	"crucible/internal/object"
	"crucible/internal/species"
	"crucible/internal/stack"
	"crucible/internal/value"
)

func newTestState(t *testing.T) (*object.Model, *object.WellKnownKeys, *State) {
	t.Helper()
	reg := species.NewRegistry()
	h := heap.New(heap.Config{SemispaceSizeBytes: 1 << 16}, nil)
	m := object.NewModel(h, reg)
	wk, cond := m.NewWellKnownKeys()
	require.False(t, cond.IsCondition())
	st, cond := NewState(m, wk)
	require.False(t, cond.IsCondition())
	return m, wk, st
}

// runTopLevel opens a fresh bottom frame on st's stack, pushes args as raw
// arguments, and runs codeBlock against it to completion — the same shape
// internal/process.Task.RunCodeBlock bootstraps a job with, generalized
// here to an arbitrary argument count for opcode-level testing.
func runTopLevel(t *testing.T, st *State, codeBlock value.Value, args []value.Value) (value.Value, value.Value) {
	t.Helper()
	root, err := stack.OpenStackPiece(st.Stack.Top)
	require.NoError(t, err)
	for _, a := range args {
		require.False(t, stack.Push(root, a).IsCondition())
	}
	capacity := st.Model.CodeBlockHighWaterMark(codeBlock)
	frame, err := st.Stack.PushFrame(root, capacity, stack.FlagOrganic|stack.FlagStackBottom, codeBlock, value.Nothing, len(args), value.Nothing)
	require.NoError(t, err)
	frame.ArgWidth = len(args)
	return Run(st, frame)
}

func TestRunPushStackBottomReturnsConstant(t *testing.T) {
	m, _, st := newTestState(t)
	b := NewBuilder()
	b.Emit(OpPush, b.Pool(value.NewInteger(7)))
	b.Emit(OpStackBottom)
	code, cond := b.Build(m, 2)
	require.False(t, cond.IsCondition())

	result, cond := runTopLevel(t, st, code, nil)
	require.False(t, cond.IsCondition())
	require.Equal(t, value.NewInteger(7), result)
}

func TestRunNewArrayCollectsPoppedElementsInOrder(t *testing.T) {
	m, _, st := newTestState(t)
	b := NewBuilder()
	b.Emit(OpPush, b.Pool(value.NewInteger(1)))
	b.Emit(OpPush, b.Pool(value.NewInteger(2)))
	b.Emit(OpPush, b.Pool(value.NewInteger(3)))
	b.Emit(OpNewArray, 3)
	b.Emit(OpStackBottom)
	code, cond := b.Build(m, 4)
	require.False(t, cond.IsCondition())

	result, cond := runTopLevel(t, st, code, nil)
	require.False(t, cond.IsCondition())
	require.Equal(t, 3, m.ArrayLen(result))
	require.Equal(t, value.NewInteger(1), m.ArrayAt(result, 0))
	require.Equal(t, value.NewInteger(2), m.ArrayAt(result, 1))
	require.Equal(t, value.NewInteger(3), m.ArrayAt(result, 2))
}

func TestRunNewReferenceGetReferenceRoundTrips(t *testing.T) {
	m, _, st := newTestState(t)
	b := NewBuilder()
	b.Emit(OpPush, b.Pool(value.NewInteger(5)))
	b.Emit(OpNewReference)
	b.Emit(OpGetReference)
	b.Emit(OpStackBottom)
	code, cond := b.Build(m, 2)
	require.False(t, cond.IsCondition())

	result, cond := runTopLevel(t, st, code, nil)
	require.False(t, cond.IsCondition())
	require.Equal(t, value.NewInteger(5), result)
}

func TestRunSetReferencePushesAssignedValue(t *testing.T) {
	m, _, st := newTestState(t)
	b := NewBuilder()
	b.Emit(OpPush, b.Pool(value.NewInteger(5)))
	b.Emit(OpNewReference)
	b.Emit(OpPush, b.Pool(value.NewInteger(42)))
	b.Emit(OpSetReference)
	b.Emit(OpStackBottom)
	code, cond := b.Build(m, 3)
	require.False(t, cond.IsCondition())

	result, cond := runTopLevel(t, st, code, nil)
	require.False(t, cond.IsCondition())
	require.Equal(t, value.NewInteger(42), result)
}

func TestRunLoadRawArgumentReadsCalleeOrderSlot(t *testing.T) {
	m, _, st := newTestState(t)
	b := NewBuilder()
	b.Emit(OpLoadRawArgument, 1)
	b.Emit(OpStackBottom)
	code, cond := b.Build(m, 2)
	require.False(t, cond.IsCondition())

	result, cond := runTopLevel(t, st, code, []value.Value{value.NewInteger(11), value.NewInteger(22)})
	require.False(t, cond.IsCondition())
	require.Equal(t, value.NewInteger(22), result)
}

func TestRunLoadLocalDuplicatesFrameSlotWithoutPopping(t *testing.T) {
	m, _, st := newTestState(t)
	b := NewBuilder()
	b.Emit(OpPush, b.Pool(value.NewInteger(9)))   // frame slot 0
	b.Emit(OpPush, b.Pool(value.NewInteger(100))) // frame slot 1
	b.Emit(OpLoadLocal, 0)                        // duplicates slot 0 on top
	b.Emit(OpStackBottom)
	code, cond := b.Build(m, 3)
	require.False(t, cond.IsCondition())

	result, cond := runTopLevel(t, st, code, nil)
	require.False(t, cond.IsCondition())
	require.Equal(t, value.NewInteger(9), result)
}

func TestRunGotoSkipsOverDeadCode(t *testing.T) {
	m, _, st := newTestState(t)
	b := NewBuilder()
	gotoPC := b.Here()
	b.Emit(OpGoto, 0) // patched below
	b.Emit(OpPush, b.Pool(value.NewInteger(111)))
	targetPC := b.Here()
	b.Emit(OpPush, b.Pool(value.NewInteger(222)))
	b.Emit(OpStackBottom)
	nextPCAfterGoto := gotoPC + OpGoto.Width()
	b.Patch(gotoPC, 0, uint16(int16(targetPC-nextPCAfterGoto)))
	code, cond := b.Build(m, 2)
	require.False(t, cond.IsCondition())

	result, cond := runTopLevel(t, st, code, nil)
	require.False(t, cond.IsCondition())
	require.Equal(t, value.NewInteger(222), result)
}

// buildEchoMethodspace builds a one-method methodspace matching a single
// wk.Subject tag against gtAny, whose method code echoes the subject
// argument back via LoadRawArgument/Return (the organic-frame counterpart
// to a bootstrap frame's LoadRawArgument/StackBottom).
func buildEchoMethodspace(t *testing.T, m *object.Model, wk *object.WellKnownKeys) (methodspace, tags value.Value) {
	t.Helper()
	any, cond := m.NewGuardAny()
	require.False(t, cond.IsCondition())
	p0, cond := m.NewParameter(any, false, 0)
	require.False(t, cond.IsCondition())
	sig, cond := m.NewSignature([]value.Value{wk.Subject}, []value.Value{p0}, []value.Value{p0}, 1, false)
	require.False(t, cond.IsCondition())

	mb := NewBuilder()
	mb.Emit(OpLoadRawArgument, 0)
	mb.Emit(OpReturn)
	methodCode, cond := mb.Build(m, 2)
	require.False(t, cond.IsCondition())

	method, cond := m.NewMethod(sig, methodCode, value.Nothing, value.Nothing, 0)
	require.False(t, cond.IsCondition())
	methodspace, cond = m.NewMethodspace([]value.Value{method}, nil, nil, nil)
	require.False(t, cond.IsCondition())
	tags, cond = m.NewCallTags([]value.Value{wk.Subject})
	require.False(t, cond.IsCondition())
	return methodspace, tags
}

func TestRunInvokeDispatchesToMatchingMethodAndReturns(t *testing.T) {
	m, wk, st := newTestState(t)
	methodspace, tags := buildEchoMethodspace(t, m, wk)

	b := NewBuilder()
	b.Emit(OpPush, b.Pool(value.NewInteger(55)))
	b.Emit(OpInvoke, b.Pool(tags), b.Pool(methodspace))
	b.Emit(OpStackBottom)
	code, cond := b.Build(m, 4)
	require.False(t, cond.IsCondition())

	result, cond := runTopLevel(t, st, code, nil)
	require.False(t, cond.IsCondition())
	require.Equal(t, value.NewInteger(55), result)
}

func TestRunInvokeWithNoMatchingMethodReturnsLookupError(t *testing.T) {
	m, _, st := newTestState(t)
	methodspace, cond := m.NewMethodspace(nil, nil, nil, nil)
	require.False(t, cond.IsCondition())
	tags, cond := m.NewCallTags(nil)
	require.False(t, cond.IsCondition())

	b := NewBuilder()
	b.Emit(OpInvoke, b.Pool(tags), b.Pool(methodspace))
	b.Emit(OpStackBottom)
	code, cond := b.Build(m, 2)
	require.False(t, cond.IsCondition())

	_, cond = runTopLevel(t, st, code, nil)
	require.True(t, cond.IsCondition())
	require.Equal(t, value.CauseLookupError, cond.ConditionCause())
}

// TestRunEscapeFiresThroughEnsurer builds CreateEscape/CreateEnsurer/
// FireEscapeOrBarrier so that firing the escape must run the intervening
// ensurer's code block (via runEnsurer/unwindTo) before resuming at the
// escape's destination with the fired value as the code block's result.
func TestRunEscapeFiresThroughEnsurer(t *testing.T) {
	m, _, st := newTestState(t)

	var ensurerRan bool
	st.Builtins = []NativeFunction{{
		Name:  "markEnsurerRan",
		Arity: 0,
		Fn: func(st *State, args []value.Value) (value.Value, value.Value) {
			ensurerRan = true
			return value.Nothing, value.Value{}
		},
	}}

	eb := NewBuilder()
	eb.Emit(OpBuiltin, eb.Pool(value.NewInteger(0)))
	eb.Emit(OpStackBottom)
	ensurerCode, cond := eb.Build(m, 2)
	require.False(t, cond.IsCondition())

	b := NewBuilder()
	b.Emit(OpPush, b.Pool(value.NewInteger(123)))
	createEscapePC := b.Here()
	b.Emit(OpCreateEscape, 0) // patched below
	b.Emit(OpCreateEnsurer, b.Pool(ensurerCode))
	b.Emit(OpFireEscapeOrBarrier)
	targetPC := b.Here()
	b.Emit(OpStackBottom)
	nextPCAfterCreateEscape := createEscapePC + OpCreateEscape.Width()
	b.Patch(createEscapePC, 0, uint16(int16(targetPC-nextPCAfterCreateEscape)))
	code, cond := b.Build(m, 4)
	require.False(t, cond.IsCondition())

	result, cond := runTopLevel(t, st, code, nil)
	require.False(t, cond.IsCondition())
	require.True(t, ensurerRan, "ensurer must run while unwinding to the fired escape")
	require.Equal(t, value.NewInteger(123), result)
}
