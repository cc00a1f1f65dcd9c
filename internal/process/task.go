package process

import (
	"crucible/internal/interp"
	"crucible/internal/object"
	"crucible/internal/stack"
	"crucible/internal/value"
)

// Task is spec.md 4.5's "root Task with its own Stack": one interpreter
// State plus the single persistently-open bottom frame every job's
// bootstrap frame is pushed on top of. A Task is run by "pushing a
// bootstrap frame and entering the interpreter" (spec.md 4.5); RunCodeBlock
// does exactly that, once per job, reusing the same Stack across jobs the
// way a single OS thread's call stack is reused across unrelated calls.
type Task struct {
	State *interp.State
	root  *stack.Frame
}

// NewTask opens a fresh Task: an empty Stack with its synthetic bottom
// piece immediately opened into root, ready for RunCodeBlock to push
// bootstrap frames onto.
func NewTask(m *object.Model, wk *object.WellKnownKeys) (*Task, value.Value) {
	st, cond := interp.NewState(m, wk)
	if cond.IsCondition() {
		return nil, cond
	}
	root, err := stack.OpenStackPiece(st.Stack.Top)
	if err != nil {
		return nil, value.NewCondition(value.CauseWat, 0)
	}
	return &Task{State: st, root: root}, value.Value{}
}

// RunCodeBlock pushes a bootstrap frame for codeBlock above the Task's
// persistently-open root frame, with data as its sole raw argument (read
// back via LoadRawArgument, not LoadArgument — a bootstrap call has no
// dispatch-resolved ArgumentMap to canonicalize against), and runs it to
// completion.
//
// Grounded on internal/interp.invoke's own PushFrame call: the argument is
// pushed onto the caller frame first, then PushFrame carves the new
// frame's capacity above it, exactly mirroring how a method invocation's
// already-evaluated call-tag values become the callee's argument region.
func (t *Task) RunCodeBlock(codeBlock, data value.Value) (value.Value, value.Value) {
	if c := stack.Push(t.root, data); c.IsCondition() {
		return value.Value{}, c
	}
	capacity := t.State.Model.CodeBlockHighWaterMark(codeBlock)
	newFrame, err := t.State.Stack.PushFrame(t.root, capacity, stack.FlagOrganic|stack.FlagStackBottom, codeBlock, value.Nothing, 1, value.Nothing)
	if err != nil {
		return value.Value{}, value.NewCondition(value.CauseWat, 0)
	}
	newFrame.ArgWidth = 1
	result, cond := interp.Run(t.State, newFrame)

	// Discard the job's argument slot once it has finished: nothing of
	// one job's stack state is visible to the next (each job bootstraps
	// fresh per spec.md 4.5), so the root frame's stack pointer resets to
	// its own FramePointer rather than leaking one stale slot per job.
	t.root.Piece.RestoreTo(t.root.FramePointer)

	return result, cond
}
