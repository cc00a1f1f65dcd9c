package stack

import (
	"testing"

	"crucible/internal/value"
)

func TestOpenAndPushPopWithinPiece(t *testing.T) {
	s := NewStack(64)
	frame, err := OpenStackPiece(s.Top)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	nf, ok := TryPushFrame(frame, 4, FlagOrganic, value.Nothing, value.Nothing)
	if !ok {
		t.Fatalf("TryPushFrame should fit in a fresh 64-slot piece")
	}
	if got := Push(nf, value.NewInteger(7)); got.IsCondition() {
		t.Fatalf("push: %v", got)
	}
	if got := Push(nf, value.NewInteger(8)); got.IsCondition() {
		t.Fatalf("push: %v", got)
	}
	v, cond := Pop(nf)
	if cond.IsCondition() || v.IntegerValue() != 8 {
		t.Fatalf("got %v, %v", v, cond)
	}

	restored := PopWithinPiece(nf)
	if restored.FramePointer != frame.FramePointer {
		t.Fatalf("pop should restore the caller's frame pointer")
	}
}

func TestPushFrameGrowsAcrossPieces(t *testing.T) {
	s := NewStack(16)
	frame, err := OpenStackPiece(s.Top)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	nf, ok := TryPushFrame(frame, 2, FlagOrganic, value.Nothing, value.Nothing)
	if !ok {
		t.Fatalf("expected room for a small frame")
	}
	Push(nf, value.NewInteger(42))

	grown, err := s.PushFrame(nf, 100, FlagOrganic, value.Nothing, value.Nothing, 1, value.Nothing)
	if err != nil {
		t.Fatalf("PushFrame across pieces: %v", err)
	}
	if s.Top == nil || s.Top.Previous == nil {
		t.Fatalf("expected a fresh piece linked to the old one")
	}
	arg := Argument(grown, 1, 0)
	if arg.IntegerValue() != 42 {
		t.Fatalf("the transferred argument should be visible at the new frame's base, got %v", arg)
	}

	back, err := s.CrossPieceReturn()
	if err != nil {
		t.Fatalf("cross-piece return: %v", err)
	}
	if back.FramePointer != nf.FramePointer {
		t.Fatalf("cross-piece return should reopen the original frame")
	}
}

func TestIterateSkipsNonOrganicFrames(t *testing.T) {
	s := NewStack(64)
	frame, err := OpenStackPiece(s.Top)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	synthetic, ok := TryPushFrame(frame, 1, FlagSynthetic, value.Nothing, value.Nothing)
	if !ok {
		t.Fatalf("push synthetic frame")
	}
	organic, ok := TryPushFrame(synthetic, 1, FlagOrganic, value.Nothing, value.Nothing)
	if !ok {
		t.Fatalf("push organic frame")
	}
	organic.Flags |= FlagStackBottom

	var seen int
	Iterate(organic, func(f *Frame) bool {
		seen++
		if !f.Flags.Has(FlagOrganic) {
			t.Fatalf("Iterate must only visit organic frames")
		}
		return true
	})
	if seen != 1 {
		t.Fatalf("got %d organic frames visited, want 1", seen)
	}
}
