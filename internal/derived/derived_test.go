package derived

import (
	"testing"

	"crucible/internal/stack"
	"crucible/internal/value"
)

func openFrame(t *testing.T, s *stack.Stack, capacity int) *stack.Frame {
	t.Helper()
	opened, err := stack.OpenStackPiece(s.Top)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	nf, ok := stack.TryPushFrame(opened, capacity, stack.FlagOrganic, value.Nothing, value.Nothing)
	if !ok {
		t.Fatalf("expected room for a %d-capacity frame", capacity)
	}
	return nf
}

func TestBarrierChainPushAndUnregisterLIFO(t *testing.T) {
	s := stack.NewStack(64)
	frame := openFrame(t, s, 8)

	b1 := NewBlockSection(frame, value.Nothing)
	b2 := NewBlockSection(frame, value.Nothing)

	var chain Chain
	chain.Push(b1)
	chain.Push(b2)

	if chain.Top != Scoped(b2) {
		t.Fatalf("expected b2 on top")
	}
	if err := chain.Unregister(b1); err == nil {
		t.Fatalf("unregistering a non-top barrier must fail")
	}
	if err := chain.Unregister(b2); err != nil {
		t.Fatalf("unregister b2: %v", err)
	}
	if chain.Top != Scoped(b1) {
		t.Fatalf("expected b1 on top after unregistering b2")
	}
	if err := chain.Unregister(b1); err != nil {
		t.Fatalf("unregister b1: %v", err)
	}
	if chain.Top != nil {
		t.Fatalf("expected an empty chain")
	}
}

func TestFireUntilFiresInnermostFirst(t *testing.T) {
	s := stack.NewStack(64)
	frame := openFrame(t, s, 8)

	b1 := NewBlockSection(frame, value.Nothing)
	b2 := NewBlockSection(frame, value.Nothing)
	b3 := NewBlockSection(frame, value.Nothing)

	var chain Chain
	chain.Push(b1)
	chain.Push(b2)
	chain.Push(b3)

	var fired []Scoped
	err := chain.FireUntil(b1, func(s Scoped) error {
		fired = append(fired, s)
		return s.OnScopeExit()
	})
	if err != nil {
		t.Fatalf("FireUntil: %v", err)
	}
	if len(fired) != 2 || fired[0] != Scoped(b3) || fired[1] != Scoped(b2) {
		t.Fatalf("expected [b3, b2] fired in that order, got %v", fired)
	}
	if chain.Top != Scoped(b1) {
		t.Fatalf("expected b1 left on top (destination is popped by the caller, not FireUntil)")
	}
	if !b2.Payload.IsNothing() {
		t.Fatalf("b2's payload should have been cleared by its OnScopeExit")
	}
}

func TestFireUntilNilDestFiresWholeChain(t *testing.T) {
	s := stack.NewStack(64)
	frame := openFrame(t, s, 8)
	b1 := NewBlockSection(frame, value.Nothing)
	b2 := NewBlockSection(frame, value.Nothing)
	var chain Chain
	chain.Push(b1)
	chain.Push(b2)

	var seen int
	if err := chain.FireUntil(nil, func(s Scoped) error { seen++; return s.OnScopeExit() }); err != nil {
		t.Fatalf("FireUntil: %v", err)
	}
	if seen != 2 {
		t.Fatalf("got %d fired, want 2", seen)
	}
	if chain.Top != nil {
		t.Fatalf("expected an empty chain")
	}
}

func TestEnsureSectionRequiresCallerToRunCode(t *testing.T) {
	s := stack.NewStack(64)
	frame := openFrame(t, s, 8)

	codeBlock := value.Nothing
	e := NewEnsureSection(frame, codeBlock)
	b := NewBlockSection(frame, value.Nothing)

	var chain Chain
	chain.Push(e)
	chain.Push(b)

	err := chain.FireUntil(nil, func(s Scoped) error { return s.OnScopeExit() })
	if err != ErrRequiresCodeExecution {
		t.Fatalf("expected ErrRequiresCodeExecution, got %v", err)
	}
	// b was already fired and popped before hitting e.
	if chain.Top != Scoped(e) {
		t.Fatalf("expected the ensure section left on top, got %T", chain.Top)
	}
	// The caller runs the ensurer's code, then unregisters it manually.
	if err := chain.Unregister(e); err != nil {
		t.Fatalf("unregister e: %v", err)
	}
	if chain.Top != nil {
		t.Fatalf("expected an empty chain after manual unregister")
	}
}

func TestEscapeSectionCapturesAndValidates(t *testing.T) {
	s := stack.NewStack(64)
	frame := openFrame(t, s, 8)
	stack.Push(frame, value.NewInteger(1))
	stack.Push(frame, value.NewInteger(2))

	escapeObj := value.Nothing
	es := NewEscapeSection(frame, escapeObj)
	if es.Genus() != value.GenusEscapeSection {
		t.Fatalf("got genus %v", es.Genus())
	}
	if err := es.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if es.EscapeState.StackPointer != frame.Piece.StackPointer() {
		t.Fatalf("escape state should have captured the current stack pointer")
	}
	if err := es.OnScopeExit(); err != nil {
		t.Fatalf("on scope exit: %v", err)
	}
	if !es.Payload.IsNothing() {
		t.Fatalf("payload should be cleared after scope exit")
	}
}

func TestStackPointerTracksPieceOffset(t *testing.T) {
	s := stack.NewStack(64)
	frame := openFrame(t, s, 8)
	stack.Push(frame, value.NewInteger(9))

	sp := NewStackPointer(frame)
	if sp.Index != frame.Piece.StackPointer() {
		t.Fatalf("got index %d, want %d", sp.Index, frame.Piece.StackPointer())
	}
	if err := sp.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sp.Genus() != value.GenusStackPointer {
		t.Fatalf("got genus %v", sp.Genus())
	}
}

func TestSignalHandlerSectionValidatesEscapeAndRefraction(t *testing.T) {
	s := stack.NewStack(64)
	frame := openFrame(t, s, 8)
	sh := NewSignalHandlerSection(frame, value.Nothing)
	if err := sh.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sh.RefractionPoint.FramePointer != frame.FramePointer {
		t.Fatalf("got frame pointer %d, want %d", sh.RefractionPoint.FramePointer, frame.FramePointer)
	}
}
