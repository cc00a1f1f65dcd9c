package value

import "testing"

// TestIntegerRoundtrip covers spec.md P1 for the Integer domain.
func TestIntegerRoundtrip(t *testing.T) {
	tests := []int64{0, 1, -1, 12345, intMin, intMax, -999999}
	for _, k := range tests {
		v := NewInteger(k)
		if !v.IsInteger() {
			t.Fatalf("NewInteger(%d) did not produce an Integer domain value", k)
		}
		if got := v.IntegerValue(); got != k {
			t.Fatalf("roundtrip mismatch: put %d, got %d", k, got)
		}
	}
}

// TestHeapObjectRoundtrip covers spec.md P1 for the HeapObject domain.
func TestHeapObjectRoundtrip(t *testing.T) {
	addrs := []uintptr{8, 16, 4096, 0x7ffeeffff000}
	for _, a := range addrs {
		v := NewHeapObject(a)
		if !v.IsHeapObject() {
			t.Fatalf("NewHeapObject(%#x) did not produce a HeapObject domain value", a)
		}
		if got := v.HeapObjectAddress(); got != a {
			t.Fatalf("roundtrip mismatch: put %#x, got %#x", a, got)
		}
	}
}

// TestDomainsDisjoint asserts every constructor lands in exactly the domain
// it claims, and that the domain is recoverable purely from the encoded
// word (P1).
func TestDomainsDisjoint(t *testing.T) {
	cases := []struct {
		name string
		v    Value
		want Domain
	}{
		{"integer", NewInteger(42), DomainInteger},
		{"heap", NewHeapObject(64), DomainHeapObject},
		{"condition", NewCondition(CauseNotFound, 7), DomainCondition},
		{"moved", NewMovedObject(128), DomainMovedObject},
		{"custom", NewBoolean(true), DomainCustomTagged},
		{"derived", NewDerivedObject(256), DomainDerivedObject},
	}
	for _, c := range cases {
		if got := c.v.Domain(); got != c.want {
			t.Errorf("%s: Domain() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestConditionRoundtrip(t *testing.T) {
	v := NewCondition(CauseOutOfBounds, 0xdeadbeef)
	if !v.IsCondition() {
		t.Fatal("expected condition domain")
	}
	if v.ConditionCause() != CauseOutOfBounds {
		t.Fatalf("cause = %v, want OutOfBounds", v.ConditionCause())
	}
	if v.ConditionDetail() != 0xdeadbeef {
		t.Fatalf("detail = %#x, want 0xdeadbeef", v.ConditionDetail())
	}
}

func TestSuccessIsPlainIntegerZero(t *testing.T) {
	if !Eq(Success, NewInteger(0)) {
		t.Fatal("Success must be bitwise identical to tagged integer 0")
	}
	if Success.IsCondition() {
		t.Fatal("Success must not be a condition")
	}
}

func TestSingletonsDistinct(t *testing.T) {
	if Eq(Null, Nothing) {
		t.Fatal("null and nothing must be distinct values")
	}
	if Eq(True, False) {
		t.Fatal("yes and no must be distinct values")
	}
}

func TestScoreOrdering(t *testing.T) {
	eqScore := NewScore(ScoreEq, 0)
	isClose := NewScore(ScoreIs, 1)
	isFar := NewScore(ScoreIs, 50)
	anyScore := NewScore(ScoreAny, 0)
	noneScore := NewScore(ScoreNone, 0)

	if CompareScores(eqScore, isClose) >= 0 {
		t.Fatal("Eq must beat Is")
	}
	if CompareScores(isClose, isFar) >= 0 {
		t.Fatal("closer Is subscore must beat farther Is subscore")
	}
	if CompareScores(isFar, anyScore) >= 0 {
		t.Fatal("Is must beat Any")
	}
	if CompareScores(anyScore, noneScore) >= 0 {
		t.Fatal("Any must beat None")
	}
}

func TestFlagSetBits(t *testing.T) {
	fs := NewFlagSet(0).FlagSetEnable(3).FlagSetEnable(5)
	if !fs.FlagSetTest(3) || !fs.FlagSetTest(5) {
		t.Fatal("expected bits 3 and 5 set")
	}
	if fs.FlagSetTest(4) {
		t.Fatal("bit 4 should not be set")
	}
	fs = fs.FlagSetDisable(3)
	if fs.FlagSetTest(3) {
		t.Fatal("bit 3 should have been cleared")
	}
}

func TestDerivedObjectAnchorRoundtrip(t *testing.T) {
	a := NewDerivedObjectAnchor(GenusEscapeSection, 128)
	if a.AnchorGenus() != GenusEscapeSection {
		t.Fatalf("genus = %v, want EscapeSection", a.AnchorGenus())
	}
	if a.AnchorHostOffset() != 128 {
		t.Fatalf("offset = %d, want 128", a.AnchorHostOffset())
	}
	if !GenusEscapeSection.Scoped() || GenusStackPointer.Scoped() {
		t.Fatal("only StackPointer is unscoped")
	}
}
