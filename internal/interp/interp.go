package interp

import (
	"fmt"

	"crucible/internal/derived"
	"crucible/internal/dispatch"
	"crucible/internal/object"
	"crucible/internal/stack"
	"crucible/internal/value"
)

// Run executes frame's code block to completion (a StackBottom or
// StackPieceBottom return past frame's own piece), handling the
// GC-exhaustion and ForceValidate protocols around the inner opcode loop
// (spec.md 4.4). It returns the final pushed result, or a condition if the
// code raised one (CauseSignal, a lookup failure, an arithmetic error from
// a builtin, etc).
//
// Grounded on the teacher's EnhancedVM.Run outer retry loop
// (internal/vm/vm.go), generalized from the teacher's single fixed heap to
// the semispace collector's exhaustion-and-retry contract.
func Run(st *State, frame *stack.Frame) (value.Value, value.Value) {
	cur := frame
	for {
		result, cond := st.runUntilConditionOrDone(&cur)
		if !cond.IsCondition() {
			return result, cond
		}
		switch cond.ConditionCause() {
		case value.CauseHeapExhausted:
			st.Model.Heap.Collect(st.Roots(cur))
		case value.CauseForceValidate:
			if errs := st.Model.Heap.Validate(); len(errs) > 0 {
				return value.Value{}, value.NewCondition(value.CauseValidationFailed, uint32(len(errs)))
			}
		default:
			return value.Value{}, cond
		}
	}
}

// runUntilConditionOrDone is the inner interpreter function spec.md 4.4
// describes: it runs until the code block completes (falls off its root
// via StackBottom), or a condition interrupts it (heap exhaustion, a
// forced validation point, an unhandled signal, or a lookup/guard
// failure). *fp tracks the live frame across pushes/pops/escape unwinds so
// the caller can resume exactly where execution stopped.
func (st *State) runUntilConditionOrDone(fp **stack.Frame) (value.Value, value.Value) {
	for {
		cur := *fp
		code := st.cache.Refresh(st.Model, cur.CodeBlock)
		ins, err := code.Fetch(cur.PC)
		if err != nil {
			return value.Value{}, value.NewCondition(value.CauseWat, 0)
		}
		nextPC := cur.PC + ins.Width

		if st.Debug {
			st.forceValidateCounter++
			if st.forceValidateCounter >= ForceValidateInterval {
				st.forceValidateCounter = 0
				cur.PC = nextPC
				return value.Value{}, value.NewCondition(value.CauseForceValidate, 0)
			}
		}

		result, cond, newFrame, done := st.execute(cur, code, ins, nextPC)
		if newFrame != nil {
			*fp = newFrame
		}
		if done {
			return result, cond
		}
		if cond.IsCondition() {
			return value.Value{}, cond
		}
	}
}

// execute runs one instruction. It returns (result, cond, newFrame, done):
// done is true when the code block has produced its final value (a
// StackBottom/StackPieceBottom return past frame's own invocation); cond
// holds a condition that must interrupt the loop (possibly not done, e.g.
// HeapExhausted mid-instruction); newFrame is non-nil whenever execution
// moved to a different frame (call, return, escape unwind).
func (st *State) execute(cur *stack.Frame, code *Code, ins Instruction, nextPC int) (value.Value, value.Value, *stack.Frame, bool) {
	m := st.Model

	switch ins.Op {
	case OpPush:
		v := code.Value(ins, 0)
		if c := stack.Push(cur, v); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpPop:
		n := int(ins.Immediate(0))
		for i := 0; i < n; i++ {
			if _, c := stack.Pop(cur); c.IsCondition() {
				return value.Value{}, c, nil, false
			}
		}
		cur.PC = nextPC

	case OpSlap:
		n := int(ins.Immediate(0))
		top, c := stack.Pop(cur)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		for i := 0; i < n; i++ {
			if _, c := stack.Pop(cur); c.IsCondition() {
				return value.Value{}, c, nil, false
			}
		}
		if c := stack.Push(cur, top); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpCheckStackHeight:
		want := int(ins.Immediate(0))
		have := cur.Piece.StackPointer() - cur.FramePointer
		if have != want {
			return value.Value{}, value.NewCondition(value.CauseValidationFailed, uint32(have)), nil, false
		}
		cur.PC = nextPC

	case OpNewArray:
		n := int(ins.Immediate(0))
		elems := make([]value.Value, n)
		for i := n - 1; i >= 0; i-- {
			v, c := stack.Pop(cur)
			if c.IsCondition() {
				return value.Value{}, c, nil, false
			}
			elems[i] = v
		}
		arr, c := m.NewArray(n)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		for i, v := range elems {
			if c := m.ArraySetAt(arr, i, v); c.IsCondition() {
				return value.Value{}, c, nil, false
			}
		}
		if c := stack.Push(cur, arr); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpNewReference:
		v, c := stack.Pop(cur)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		ref, c := m.NewArray(1)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		if c := m.ArraySetAt(ref, 0, v); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		if c := stack.Push(cur, ref); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpSetReference:
		v, c := stack.Pop(cur)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		ref, c := stack.Pop(cur)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		if c := m.ArraySetAt(ref, 0, v); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		if c := stack.Push(cur, v); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpGetReference:
		ref, c := stack.Pop(cur)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		if c := stack.Push(cur, m.ArrayAt(ref, 0)); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpCreateCallData:
		n := int(ins.Immediate(0))
		tags := make([]value.Value, n)
		values := make([]value.Value, n)
		for i := n - 1; i >= 0; i-- {
			v, c := stack.Pop(cur)
			if c.IsCondition() {
				return value.Value{}, c, nil, false
			}
			values[i] = v
			t, c := stack.Pop(cur)
			if c.IsCondition() {
				return value.Value{}, c, nil, false
			}
			tags[i] = t
		}
		for _, v := range values {
			if c := stack.Push(cur, v); c.IsCondition() {
				return value.Value{}, c, nil, false
			}
		}
		tagsObj, c := m.NewCallTags(tags)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		if c := stack.Push(cur, tagsObj); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpLoadLocal:
		i := int(ins.Immediate(0))
		if c := stack.Push(cur, cur.Piece.Slots[cur.FramePointer+i]); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpLoadArgument:
		i := int(ins.Immediate(0))
		offset := m.ArrayAt(cur.ArgumentMap, i)
		if c := stack.Push(cur, stack.Argument(cur, cur.ArgWidth, int(offset.IntegerValue()))); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpLoadRawArgument:
		i := int(ins.Immediate(0))
		if c := stack.Push(cur, stack.Argument(cur, cur.ArgWidth, i)); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpLoadGlobal:
		path := code.Value(ins, 0)
		v, ok := st.Globals[path]
		if !ok {
			return value.Value{}, value.NewCondition(value.CauseNotFound, 0), nil, false
		}
		if c := stack.Push(cur, v); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpLoadRefractedArgument:
		paramIndex, depth := int(ins.Immediate(0)), int(ins.Immediate(1))
		target, err := refract(cur, depth)
		if err != nil {
			return value.Value{}, value.NewCondition(value.CauseWat, 0), nil, false
		}
		offset := m.ArrayAt(target.ArgumentMap, paramIndex)
		if c := stack.Push(cur, stack.Argument(target, target.ArgWidth, int(offset.IntegerValue()))); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpLoadRefractedLocal:
		i, depth := int(ins.Immediate(0)), int(ins.Immediate(1))
		target, err := refract(cur, depth)
		if err != nil {
			return value.Value{}, value.NewCondition(value.CauseWat, 0), nil, false
		}
		if c := stack.Push(cur, target.Piece.Slots[target.FramePointer+i]); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpLoadRefractedCapture:
		i, depth := int(ins.Immediate(0)), int(ins.Immediate(1))
		target, err := refract(cur, depth)
		if err != nil {
			return value.Value{}, value.NewCondition(value.CauseWat, 0), nil, false
		}
		if c := stack.Push(cur, m.ArrayAt(target.Captures, i)); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpLoadLambdaCapture:
		i := int(ins.Immediate(0))
		if c := stack.Push(cur, m.ArrayAt(cur.Captures, i)); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpInvoke:
		return st.invoke(cur, code, ins, nextPC)

	case OpModuleFragmentPrivateInvoke:
		return st.invoke(cur, code, ins, nextPC)

	case OpSignalContinue:
		return st.signal(cur, code, ins, nextPC, false)

	case OpSignalEscape:
		return st.signal(cur, code, ins, nextPC, true)

	case OpLambda:
		space := code.Value(ins, 0)
		n := int(ins.Immediate(1))
		captures := make([]value.Value, n)
		for i := n - 1; i >= 0; i-- {
			v, c := stack.Pop(cur)
			if c.IsCondition() {
				return value.Value{}, c, nil, false
			}
			captures[i] = v
		}
		lam, c := m.NewLambda(space, captures)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		if c := stack.Push(cur, lam); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpCreateBlock:
		space := code.Value(ins, 0)
		section := derived.NewBlockSection(cur, value.Nothing)
		handle := st.Registry.NewBlockHandle(section, cur)
		blockObj, c := m.NewBlockClosure(space, handle)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		section.Payload = blockObj
		st.Chain.Push(section)
		if c := stack.Push(cur, blockObj); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpCreateEscape:
		destOffset := int(ins.Immediate(0))
		section := &derived.EscapeSection{
			EscapeState: derived.EscapeState{
				Piece:        cur.Piece,
				StackPointer: cur.Piece.StackPointer(),
				FramePointer: cur.FramePointer,
				LimitPointer: cur.LimitPointer,
				Flags:        cur.Flags,
				PC:           nextPC + destOffset,
			},
		}
		handle := st.Registry.NewEscapeHandle(section, cur)
		escObj, c := m.NewEscapeClosure(handle)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		section.Payload = escObj
		st.Chain.Push(section)
		if c := stack.Push(cur, escObj); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		cur.PC = nextPC

	case OpFireEscapeOrBarrier:
		return st.fireEscapeOrBarrier(cur, nextPC)

	case OpDisposeEscape:
		escObj, c := stack.Pop(cur)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		handle := m.EscapeClosureHandle(escObj)
		if entry := st.Registry.Escape(handle); entry != nil {
			entry.Section.OnScopeExit()
			st.Chain.Unregister(entry.Section)
			st.Registry.DeleteEscape(handle)
		}
		cur.PC = nextPC

	case OpCreateEnsurer:
		codeBlock := code.Value(ins, 0)
		section := derived.NewEnsureSection(cur, codeBlock)
		st.Chain.Push(section)
		cur.PC = nextPC

	case OpCallEnsurer:
		top := st.Chain.Top
		section, ok := top.(*derived.EnsureSection)
		if !ok {
			return value.Value{}, value.NewCondition(value.CauseWat, 0), nil, false
		}
		st.Chain.Unregister(section)
		cur.PC = nextPC
		return st.runEnsurer(cur, section)

	case OpDisposeEnsurer:
		top := st.Chain.Top
		if section, ok := top.(*derived.EnsureSection); ok {
			st.Chain.Unregister(section)
		}
		cur.PC = nextPC

	case OpInstallSignalHandler:
		space := code.Value(ins, 0)
		destOffset := int(ins.Immediate(1))
		section := derived.NewSignalHandlerSection(cur, space)
		section.EscapeState.PC = nextPC + destOffset
		st.Chain.Push(section)
		st.HandlerHomes[section] = cur
		cur.PC = nextPC

	case OpUninstallSignalHandler:
		top := st.Chain.Top
		if section, ok := top.(*derived.SignalHandlerSection); ok {
			section.OnScopeExit()
			st.Chain.Unregister(section)
			delete(st.HandlerHomes, section)
		}
		cur.PC = nextPC

	case OpLeaveOrFireBarrier:
		return st.leaveOrFireBarrier(cur, int(ins.Immediate(0)), nextPC)

	case OpDelegateToLambda, OpDelegateToBlock:
		return value.Value{}, value.NewCondition(value.CauseWat, 0), nil, false

	case OpGoto:
		delta := int(ins.Immediate(0))
		cur.PC = nextPC + delta

	case OpReturn:
		return st.doReturn(cur)

	case OpStackBottom:
		v, c := stack.Pop(cur)
		return v, c, nil, true

	case OpStackPieceBottom:
		caller, err := st.Stack.CrossPieceReturn()
		if err != nil {
			return value.Value{}, value.NewCondition(value.CauseWat, 0), nil, false
		}
		return value.Value{}, value.Value{}, caller, false

	case OpBuiltin:
		return st.callBuiltin(cur, code, ins, nextPC, false)

	case OpBuiltinMaybeEscape:
		return st.callBuiltin(cur, code, ins, nextPC, true)

	default:
		return value.Value{}, value.NewCondition(value.CauseWat, uint32(ins.Op)), nil, false
	}

	return value.Value{}, value.Value{}, nil, false
}

// refract walks depth BlockHome hops back from cur, reaching the frame
// whose locals/arguments/captures an enclosing block body refers to
// (spec.md 4.4's refraction opcodes).
func refract(cur *stack.Frame, depth int) (*stack.Frame, error) {
	f := cur
	for i := 0; i < depth; i++ {
		if f.BlockHome == nil {
			return nil, fmt.Errorf("interp: refraction depth %d exceeds block nesting", depth)
		}
		f = f.BlockHome
	}
	return f, nil
}

// invoke implements the Invoke and ModuleFragmentPrivateInvoke opcodes:
// resolve the tags, run dispatch lookup (including delegation) against
// the pending arguments already sitting at the top of cur's stack, and
// push a new frame running the winning method's code (spec.md 4.4, 4.6).
func (st *State) invoke(cur *stack.Frame, code *Code, ins Instruction, nextPC int) (value.Value, value.Value, *stack.Frame, bool) {
	m := st.Model
	tags := code.Value(ins, 0)
	methodspace := code.Value(ins, 1)

	if tags.IsNothing() {
		t, c := stack.Pop(cur)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		tags = t
	}

	n := m.CallTagsCount(tags)
	values := make([]value.Value, n)
	for i := n - 1; i >= 0; i-- {
		v, c := stack.Peek(cur, n-1-i)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		values[i] = v
	}
	in := dispatch.CallTagsInput{M: m, Tags: tags, Values: values}

	method, cond := dispatch.LookupMethodspaceMethod(m, st.WK, methodspace, in, st.Resolver)
	if cond.IsCondition() {
		return value.Value{}, cond, nil, false
	}
	resolved, cond := dispatch.ResolveDelegation(m, st.WK, method, in, st.Resolver, st.LambdaSpace, st.BlockSpace)
	if cond.IsCondition() {
		return value.Value{}, cond, nil, false
	}

	sig := m.MethodSignature(resolved)
	result, _, offsets := dispatch.MatchSignature(m, st.WK, methodspace, sig, in, st.Resolver)
	if result != dispatch.Match && result != dispatch.ExtraMatch {
		return value.Value{}, value.NewCondition(value.CauseLookupError, 0), nil, false
	}
	argMap, cond := dispatch.CanonicalizeArgumentMap(m, st.ArgMapRoot, offsets)
	if cond.IsCondition() {
		return value.Value{}, cond, nil, false
	}

	codeBlock := m.MethodCode(resolved)
	capacity := m.CodeBlockHighWaterMark(codeBlock)
	cur.PC = nextPC

	newFrame, err := st.Stack.PushFrame(cur, capacity, stack.FlagOrganic, codeBlock, argMap, n, value.Nothing)
	if err != nil {
		return value.Value{}, value.NewCondition(value.CauseWat, 0), nil, false
	}
	newFrame.ArgWidth = n

	flags := m.MethodFlagsOf(method)
	switch {
	case flags&object.MethodFlagLambdaDelegate != 0:
		if subj := subjectOf(m, st.WK, in); subj != (value.Value{}) {
			newFrame.Captures = m.LambdaCaptures(subj)
		}
	case flags&object.MethodFlagBlockDelegate != 0:
		if subj := subjectOf(m, st.WK, in); subj != (value.Value{}) {
			handle := m.BlockClosureHandle(subj)
			if entry := st.Registry.Block(handle); entry != nil {
				newFrame.BlockHome = entry.Home
			}
		}
	}

	return value.Value{}, value.Value{}, newFrame, false
}

func subjectOf(m *object.Model, wk *object.WellKnownKeys, in dispatch.CallInput) value.Value {
	for i := 0; i < in.TagCount(); i++ {
		if m.IdentityEqual(in.TagAt(i), wk.Subject) {
			return in.ValueAt(i)
		}
	}
	return value.Value{}
}

// signal implements SignalContinue/SignalEscape (spec.md 4.4).
func (st *State) signal(cur *stack.Frame, code *Code, ins Instruction, nextPC int, isEscape bool) (value.Value, value.Value, *stack.Frame, bool) {
	m := st.Model
	tags := code.Value(ins, 0)
	n := m.CallTagsCount(tags)
	values := make([]value.Value, n)
	for i := n - 1; i >= 0; i-- {
		v, c := stack.Peek(cur, n-1-i)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		values[i] = v
	}
	in := dispatch.CallTagsInput{M: m, Tags: tags, Values: values}

	method, _, cond := dispatch.LookupSignalHandler(m, st.WK, st.Chain, in, st.Resolver)
	if cond.IsCondition() {
		if isEscape {
			return value.Value{}, value.NewCondition(value.CauseSignal, 0), nil, false
		}
		// Unhandled SignalContinue: skip the default-branch Goto that
		// follows, leaving execution to fall through to the caller's own
		// inline fallback.
		pc := nextPC
		if next, err := code.Fetch(pc); err == nil && next.Op == OpGoto {
			pc += next.Width
		}
		cur.PC = pc
		if c := stack.Push(cur, value.Nothing); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		return value.Value{}, value.Value{}, nil, false
	}

	sig := m.MethodSignature(method)
	result, _, offsets := dispatch.MatchSignature(m, st.WK, value.Value{}, sig, in, st.Resolver)
	if result != dispatch.Match && result != dispatch.ExtraMatch {
		return value.Value{}, value.NewCondition(value.CauseLookupError, 0), nil, false
	}
	argMap, cond := dispatch.CanonicalizeArgumentMap(m, st.ArgMapRoot, offsets)
	if cond.IsCondition() {
		return value.Value{}, cond, nil, false
	}

	codeBlock := m.MethodCode(method)
	capacity := m.CodeBlockHighWaterMark(codeBlock)
	cur.PC = nextPC
	newFrame, err := st.Stack.PushFrame(cur, capacity, stack.FlagOrganic, codeBlock, argMap, n, value.Nothing)
	if err != nil {
		return value.Value{}, value.NewCondition(value.CauseWat, 0), nil, false
	}
	newFrame.ArgWidth = n
	return value.Value{}, value.Value{}, newFrame, false
}

// doReturn pops the current frame within its piece, restoring the caller.
func (st *State) doReturn(cur *stack.Frame) (value.Value, value.Value, *stack.Frame, bool) {
	v, c := stack.Pop(cur)
	if c.IsCondition() {
		return value.Value{}, c, nil, false
	}
	if cur.Flags.Has(stack.FlagStackBottom) {
		return v, value.Value{}, nil, true
	}
	if cur.Flags.Has(stack.FlagStackPieceBottom) {
		caller, err := st.Stack.CrossPieceReturn()
		if err != nil {
			return value.Value{}, value.NewCondition(value.CauseWat, 0), nil, false
		}
		if c := stack.Push(caller, v); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		return value.Value{}, value.Value{}, caller, false
	}
	caller := stack.PopWithinPiece(cur)
	if c := stack.Push(caller, v); c.IsCondition() {
		return value.Value{}, c, nil, false
	}
	return value.Value{}, value.Value{}, caller, false
}

// runEnsurer executes section's ensurer code block synchronously (a
// recursive Run), then pushes the original frame back as the live one.
// Used both by CallEnsurer (normal exit) and by fireEscapeOrBarrier's
// unwind loop (abnormal exit through an ensure scope).
func (st *State) runEnsurer(cur *stack.Frame, section *derived.EnsureSection) (value.Value, value.Value, *stack.Frame, bool) {
	m := st.Model
	codeBlock := section.Payload
	capacity := m.CodeBlockHighWaterMark(codeBlock)
	newFrame, err := st.Stack.PushFrame(cur, capacity, stack.FlagOrganic, codeBlock, value.Nothing, 0, value.Nothing)
	if err != nil {
		return value.Value{}, value.NewCondition(value.CauseWat, 0), nil, false
	}
	_, cond := Run(st, newFrame)
	if cond.IsCondition() {
		return value.Value{}, cond, nil, false
	}
	return value.Value{}, value.Value{}, cur, false
}

// fireEscapeOrBarrier implements FireEscapeOrBarrier: pop the target
// escape and the value to deliver, then walk the barrier chain firing
// every intervening scope until the target's own section is reached
// (spec.md 4.4).
func (st *State) fireEscapeOrBarrier(cur *stack.Frame, nextPC int) (value.Value, value.Value, *stack.Frame, bool) {
	m := st.Model
	escObj, c := stack.Pop(cur)
	if c.IsCondition() {
		return value.Value{}, c, nil, false
	}
	v, c := stack.Pop(cur)
	if c.IsCondition() {
		return value.Value{}, c, nil, false
	}
	handle := m.EscapeClosureHandle(escObj)
	entry := st.Registry.Escape(handle)
	if entry == nil {
		return value.Value{}, value.NewCondition(value.CauseLookupError, 0), nil, false
	}
	cur.PC = nextPC
	return st.unwindTo(cur, entry.Section, entry.Home, v)
}

// leaveOrFireBarrier implements LeaveOrFireBarrier: the installed signal
// handler's "reply to signal" return, walking and firing barriers until
// arrival at the handler's own home, then restoring state and pushing
// argc values.
func (st *State) leaveOrFireBarrier(cur *stack.Frame, argc int, nextPC int) (value.Value, value.Value, *stack.Frame, bool) {
	top := st.Chain.Top
	section, ok := top.(*derived.SignalHandlerSection)
	if !ok {
		return value.Value{}, value.NewCondition(value.CauseWat, 0), nil, false
	}
	home := st.HandlerHomes[section]
	if home == nil {
		return value.Value{}, value.NewCondition(value.CauseWat, 0), nil, false
	}
	vals := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		v, c := stack.Pop(cur)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		vals[i] = v
	}
	cur.PC = nextPC
	var result value.Value
	if argc > 0 {
		result = vals[0]
	} else {
		result = value.Nothing
	}
	return st.unwindTo(cur, section, home, result)
}

// unwindTo fires every barrier innermost-first until target is reached,
// then resumes execution on home, the exact frame CreateEscape or
// InstallSignalHandler ran on (spec.md 4.3). Ensure sections along the way
// have their code block run synchronously before being unregistered
// (spec.md 4.3's ErrRequiresCodeExecution handoff). Every piece pushed
// since home's escape state was captured, including cur's own, is simply
// discarded: home resumes exactly where it was snapshotted, not where cur
// happened to be.
func (st *State) unwindTo(cur *stack.Frame, target derived.Scoped, home *stack.Frame, v value.Value) (value.Value, value.Value, *stack.Frame, bool) {
	for st.Chain.Top != nil && st.Chain.Top != target {
		barrier := st.Chain.Top
		if ensure, ok := barrier.(*derived.EnsureSection); ok {
			st.Chain.Unregister(ensure)
			_, cond, _, _ := st.runEnsurer(cur, ensure)
			if cond.IsCondition() {
				return value.Value{}, cond, nil, false
			}
			continue
		}
		barrier.OnScopeExit()
		if err := st.Chain.Unregister(barrier); err != nil {
			return value.Value{}, value.NewCondition(value.CauseWat, 0), nil, false
		}
	}
	if st.Chain.Top != target {
		return value.Value{}, value.NewCondition(value.CauseLookupError, 0), nil, false
	}
	st.Chain.Unregister(target)
	target.OnScopeExit()

	var es derived.EscapeState
	switch sec := target.(type) {
	case *derived.EscapeSection:
		es = sec.EscapeState
	case *derived.SignalHandlerSection:
		es = sec.EscapeState
	default:
		return value.Value{}, value.NewCondition(value.CauseWat, 0), nil, false
	}

	st.Stack.Top = es.Piece
	es.Piece.RestoreTo(es.StackPointer)
	home.PC = es.PC

	if c := stack.Push(home, v); c.IsCondition() {
		return value.Value{}, c, nil, false
	}
	return value.Value{}, value.Value{}, home, false
}

// callBuiltin implements Builtin/BuiltinMaybeEscape (spec.md 4.4): the pool
// ref names a builtin table index, its declared Arity values are popped off
// cur in callee order, and the Go closure runs directly — no method lookup,
// the lowest-level primitive call the interpreter offers. BuiltinMaybeEscape
// additionally treats a returned condition as a value to deliver at
// dest_offset instead of surfacing it as a host-level condition, letting
// surface code handle a failed primitive (e.g. a bad conversion) inline
// rather than unwinding through the barrier chain.
func (st *State) callBuiltin(cur *stack.Frame, code *Code, ins Instruction, nextPC int, mayEscape bool) (value.Value, value.Value, *stack.Frame, bool) {
	idxVal := code.Value(ins, 0)
	idx := int(idxVal.IntegerValue())
	if idx < 0 || idx >= len(st.Builtins) {
		return value.Value{}, value.NewCondition(value.CauseLookupError, 0), nil, false
	}
	fn := st.Builtins[idx]
	args := make([]value.Value, fn.Arity)
	for i := fn.Arity - 1; i >= 0; i-- {
		v, c := stack.Pop(cur)
		if c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		args[i] = v
	}
	result, cond := fn.Fn(st, args)
	if cond.IsCondition() {
		if !mayEscape {
			return value.Value{}, cond, nil, false
		}
		cur.PC = int(ins.Immediate(1))
		if c := stack.Push(cur, cond); c.IsCondition() {
			return value.Value{}, c, nil, false
		}
		return value.Value{}, value.Value{}, cur, false
	}
	cur.PC = nextPC
	if c := stack.Push(cur, result); c.IsCondition() {
		return value.Value{}, c, nil, false
	}
	return value.Value{}, value.Value{}, cur, false
}
